package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any)         {}
func (m *mockLogger) Info(msg string, args ...any)          {}
func (m *mockLogger) Warn(msg string, args ...any)          {}
func (m *mockLogger) Error(msg string, args ...any)         {}
func (m *mockLogger) With(args ...any) types.Logger         { return m }
func (m *mockLogger) WithError(err error) types.Logger      { return m }
func (m *mockLogger) WithModule(module string) types.Logger { return m }

// fakeSubs records topic subscriptions and delivered frames per connection.
type fakeSubs struct {
	mu     sync.Mutex
	conns  map[string]bool
	topics map[string]map[string]bool
	frames map[string][]Envelope
}

func newFakeSubs() *fakeSubs {
	return &fakeSubs{
		conns:  make(map[string]bool),
		topics: make(map[string]map[string]bool),
		frames: make(map[string][]Envelope),
	}
}

func (f *fakeSubs) open(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[connID] = true
}

func (f *fakeSubs) close(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns, connID)
	for _, members := range f.topics {
		delete(members, connID)
	}
}

func (f *fakeSubs) deliver(connID string, frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		panic(err)
	}
	f.frames[connID] = append(f.frames[connID], env)
}

func (f *fakeSubs) Subscribe(connID, topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.conns[connID] {
		return false
	}
	if f.topics[topic] == nil {
		f.topics[topic] = make(map[string]bool)
	}
	f.topics[topic][connID] = true
	return true
}

func (f *fakeSubs) Unsubscribe(connID, topic string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.topics[topic], connID)
}

func (f *fakeSubs) DropTopic(topic string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.topics, topic)
}

func (f *fakeSubs) Publish(topic, exclude string, frame []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for connID := range f.topics[topic] {
		if connID == exclude {
			continue
		}
		f.deliver(connID, frame)
		n++
	}
	return n
}

func (f *fakeSubs) PublishAll(exclude string, frame []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for connID := range f.conns {
		if connID == exclude {
			continue
		}
		f.deliver(connID, frame)
		n++
	}
	return n
}

func (f *fakeSubs) Send(connID string, frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.conns[connID] {
		return false
	}
	f.deliver(connID, frame)
	return true
}

func (f *fakeSubs) subscribers(topic string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for connID := range f.topics[topic] {
		out = append(out, connID)
	}
	sort.Strings(out)
	return out
}

func (f *fakeSubs) received(connID, eventType string) []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Envelope
	for _, env := range f.frames[connID] {
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeSubs) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = make(map[string][]Envelope)
}

// fakePersister records storage calls made by dispatcher workers.
type fakePersister struct {
	mu       sync.Mutex
	messages []domain.Message
	files    []domain.File
	rooms    []domain.Room
	deleted  []string
}

func (p *fakePersister) SaveMessage(_ context.Context, msg domain.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *fakePersister) SaveFile(_ context.Context, file domain.File) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files = append(p.files, file)
	return nil
}

func (p *fakePersister) SaveRoom(_ context.Context, room domain.Room) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rooms = append(p.rooms, room)
	return nil
}

func (p *fakePersister) DeleteFilesForRoom(_ context.Context, roomName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, roomName)
	return nil
}

func (p *fakePersister) deletedCount(roomName string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, name := range p.deleted {
		if name == roomName {
			n++
		}
	}
	return n
}

func (p *fakePersister) savedMessages() []domain.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Message(nil), p.messages...)
}

func (p *fakePersister) savedFiles() []domain.File {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.File(nil), p.files...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEngine struct {
	*Engine
	subs      *fakeSubs
	persister *fakePersister
	clock     *fakeClock
}

func newTestEngine(t *testing.T, cfg EngineConfig) *testEngine {
	t.Helper()

	logger := &mockLogger{}
	subs := newFakeSubs()
	persister := &fakePersister{}
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}

	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := NewDispatcher(DefaultDispatcherConfig(), logger)
	require.NoError(t, dispatcher.Start(ctx))

	engine := NewEngine(cfg, subs, persister, dispatcher, logger)
	engine.now = clock.Now
	go engine.Run(ctx)

	t.Cleanup(func() {
		cancel()
		engine.Wait()
		_ = dispatcher.Stop(context.Background())
	})
	return &testEngine{Engine: engine, subs: subs, persister: persister, clock: clock}
}

func (te *testEngine) connect(t *testing.T, connID string, userID int64, name string) {
	t.Helper()
	te.subs.open(connID)
	_, err := te.Connect(context.Background(), connID, userID, name)
	require.NoError(t, err)
}

func (te *testEngine) disconnect(t *testing.T, connID string) {
	t.Helper()
	require.NoError(t, te.Disconnect(context.Background(), connID))
	te.subs.close(connID)
}

func (te *testEngine) send(t *testing.T, connID, eventType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, te.Handle(context.Background(), connID, Envelope{Type: eventType, Payload: raw}))
}

func (te *testEngine) room(t *testing.T, name string) domain.Room {
	t.Helper()
	room, err := te.Room(context.Background(), name)
	require.NoError(t, err)
	return room
}

func decodePayload[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Payload, &v))
	return v
}

func TestEngine_Connect(t *testing.T) {
	te := newTestEngine(t, DefaultEngineConfig())

	te.connect(t, "a1", 1, "alice")
	te.connect(t, "b1", 2, "bob")

	welcome := te.subs.received("b1", EventConnected)
	require.Len(t, welcome, 1)
	payload := decodePayload[ConnectedPayload](t, welcome[0])
	assert.Equal(t, "b1", payload.ConnectionID)
	assert.Equal(t, int64(2), payload.User.UserID)
	assert.Equal(t, domain.StatusOn, payload.User.Status)

	// Others learn about the new user; the new user does not.
	assert.Len(t, te.subs.received("a1", EventUserConnected), 1)
	assert.Empty(t, te.subs.received("b1", EventUserConnected))

	// Everyone receives the full table.
	status := te.subs.received("a1", EventStatusChanged)
	require.NotEmpty(t, status)
	table := decodePayload[map[string]domain.Presence](t, status[len(status)-1])
	assert.Len(t, table, 2)
	assert.NotEmpty(t, te.subs.received("b1", EventStatusChanged))
}

func TestEngine_ConnectValidation(t *testing.T) {
	te := newTestEngine(t, DefaultEngineConfig())
	ctx := context.Background()

	_, err := te.Connect(ctx, "x", 0, "nobody")
	assert.ErrorIs(t, err, ErrUserIDInvalid)

	te.connect(t, "a1", 1, "alice")
	_, err = te.Connect(ctx, "a1", 1, "alice")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestEngine_CreateAndJoin(t *testing.T) {
	te := newTestEngine(t, DefaultEngineConfig())
	te.connect(t, "a1", 1, "alice")
	te.connect(t, "b1", 2, "bob")
	te.connect(t, "c1", 3, "carol")

	te.send(t, "a1", EventRoomCreated, domain.Room{Name: "room-1-100", UserIDs: []int64{1, 2}})

	created := te.subs.received("b1", EventRoomCreated)
	require.Len(t, created, 1)
	room := decodePayload[domain.Room](t, created[0])
	assert.Equal(t, int64(1), room.Starter)
	assert.Empty(t, te.subs.received("a1", EventRoomCreated))

	te.send(t, "b1", EventRoomJoin, RoomJoinRequest{UserID: 2, RoomName: "room-1-100"})
	te.send(t, "b1", EventRoomJoin, RoomJoinRequest{UserID: 2, RoomName: "room-1-100"})

	got := te.room(t, "room-1-100")
	assert.ElementsMatch(t, []int64{1, 2}, got.UserIDs)
	assert.Equal(t, []string{"a1", "b1"}, te.subs.subscribers("room-1-100"))

	assert.Eventually(t, func() bool {
		te.persister.mu.Lock()
		defer te.persister.mu.Unlock()
		return len(te.persister.rooms) >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestEngine_CreateRoomGeneratesName(t *testing.T) {
	te := newTestEngine(t, DefaultEngineConfig())
	te.connect(t, "a1", 7, "alice")

	te.send(t, "a1", EventRoomCreated, domain.Room{})

	rooms, err := te.Rooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, NewRoomName(7, te.clock.Now()), rooms[0].Name)
	assert.Equal(t, []int64{7}, rooms[0].UserIDs)
}

func TestEngine_DuplicateRoomIgnored(t *testing.T) {
	te := newTestEngine(t, DefaultEngineConfig())
	te.connect(t, "a1", 1, "alice")
	te.connect(t, "b1", 2, "bob")

	te.send(t, "a1", EventRoomCreated, domain.Room{Name: "dup", UserIDs: []int64{1}})
	te.send(t, "b1", EventRoomCreated, domain.Room{Name: "dup", UserIDs: []int64{2}})

	room := te.room(t, "dup")
	assert.Equal(t, int64(1), room.Starter)
	assert.Equal(t, []int64{1}, room.UserIDs)
}

func TestEngine_LeaveAndCollect(t *testing.T) {
	te := newTestEngine(t, DefaultEngineConfig())
	te.connect(t, "a1", 1, "alice")
	te.connect(t, "b1", 2, "bob")
	te.send(t, "a1", EventRoomCreated, domain.Room{Name: "r", UserIDs: []int64{1, 2}})

	te.send(t, "b1", EventRoomLeave, RoomLeaveRequest{UserID: 2, RoomName: "r"})

	leaves := te.subs.received("a1", EventRoomLeaved)
	require.Len(t, leaves, 1)
	payload := decodePayload[RoomLeavedPayload](t, leaves[0])
	assert.Equal(t, int64(2), payload.UserID)
	assert.Empty(t, te.subs.received("b1", EventRoomLeaved))
	assert.Equal(t, []int64{1}, te.room(t, "r").UserIDs)
	assert.Equal(t, []string{"a1"}, te.subs.subscribers("r"))

	// Repeated leave, or a leave from a user who never joined, is a no-op.
	te.connect(t, "c1", 3, "carol")
	te.send(t, "b1", EventRoomLeave, RoomLeaveRequest{UserID: 2, RoomName: "r"})
	te.send(t, "c1", EventRoomLeave, RoomLeaveRequest{UserID: 3, RoomName: "r"})
	assert.Len(t, te.subs.received("a1", EventRoomLeaved), 1)
	assert.Empty(t, te.subs.received("c1", EventRoomLeaved))
	assert.Equal(t, []int64{1}, te.room(t, "r").UserIDs)

	// Silent leave of the last member collects the room.
	te.subs.reset()
	te.send(t, "a1", EventRoomLeave, RoomLeaveRequest{UserID: 1, RoomName: "r", Silent: true})
	assert.Empty(t, te.subs.received("b1", EventRoomLeaved))

	_, err := te.Room(context.Background(), "r")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Eventually(t, func() bool {
		return te.persister.deletedCount("r") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestEngine_MultiDeviceDisconnect(t *testing.T) {
	te := newTestEngine(t, DefaultEngineConfig())
	te.connect(t, "a1", 1, "alice")
	te.connect(t, "a2", 1, "alice")
	te.connect(t, "b1", 2, "bob")
	te.send(t, "a1", EventRoomCreated, domain.Room{Name: "r", UserIDs: []int64{1, 2}})
	assert.Equal(t, []string{"a1", "a2", "b1"}, te.subs.subscribers("r"))

	te.disconnect(t, "a1")
	assert.ElementsMatch(t, []int64{1, 2}, te.room(t, "r").UserIDs)
	assert.Equal(t, []string{"a2", "b1"}, te.subs.subscribers("r"))
	assert.Len(t, te.subs.received("b1", EventDisconnect), 1)

	te.disconnect(t, "a2")
	assert.Equal(t, []int64{2}, te.room(t, "r").UserIDs)
	assert.NotEmpty(t, te.subs.received("b1", EventRoomLeaved))

	te.disconnect(t, "b1")
	_, err := te.Room(context.Background(), "r")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	assert.Eventually(t, func() bool {
		return te.persister.deletedCount("r") == 1
	}, time.Second, 10*time.Millisecond)
	// The collection is not repeated later.
	_, err = te.CollectGarbage(context.Background())
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, te.persister.deletedCount("r"))
}

func TestEngine_DisconnectUnknownConnection(t *testing.T) {
	te := newTestEngine(t, DefaultEngineConfig())
	assert.NoError(t, te.Disconnect(context.Background(), "ghost"))
}

func TestEngine_ForceJoinAndLeave(t *testing.T) {
	te := newTestEngine(t, DefaultEngineConfig())
	te.connect(t, "a1", 1, "alice")
	te.connect(t, "b1", 2, "bob")
	te.connect(t, "c1", 3, "carol")
	te.send(t, "a1", EventRoomCreated, domain.Room{Name: "r", UserIDs: []int64{1}})

	// The trigger is always the sending connection's user.
	te.send(t, "a1", EventRoomForceJoin, RoomForceRequest{TriggerID: 99, UserID: 3, RoomName: "r"})

	assert.ElementsMatch(t, []int64{1, 3}, te.room(t, "r").UserIDs)
	assert.Contains(t, te.subs.subscribers("r"), "c1")
	joined := te.subs.received("b1", EventRoomForceJoined)
	require.Len(t, joined, 1)
	payload := decodePayload[RoomForcedPayload](t, joined[0])
	assert.Equal(t, int64(1), payload.TriggerID)
	assert.Equal(t, int64(3), payload.UserID)
	require.NotNil(t, payload.RoomData)
	assert.ElementsMatch(t, []int64{1, 3}, payload.RoomData.UserIDs)

	te.send(t, "a1", EventRoomForceLeave, RoomForceRequest{UserID: 3, RoomName: "r"})
	assert.Equal(t, []int64{1}, te.room(t, "r").UserIDs)
	assert.NotContains(t, te.subs.subscribers("r"), "c1")
	assert.Len(t, te.subs.received("c1", EventRoomForceLeaved), 1)

	// Unknown rooms are ignored.
	te.send(t, "a1", EventRoomForceJoin, RoomForceRequest{UserID: 3, RoomName: "missing"})
	assert.Len(t, te.subs.received("c1", EventRoomForceJoined), 1)
}

func TestEngine_ForceLeaveThenCollect(t *testing.T) {
	te := newTestEngine(t, DefaultEngineConfig())
	te.connect(t, "a1", 1, "alice")
	te.connect(t, "b1", 2, "bob")
	te.connect(t, "t1", 3, "trent")
	te.send(t, "a1", EventRoomCreated, domain.Room{Name: "r1", UserIDs: []int64{2}})

	te.send(t, "t1", EventRoomForceLeave, RoomForceRequest{UserID: 1, RoomName: "r1"})
	assert.Equal(t, []int64{2}, te.room(t, "r1").UserIDs)
	assert.Equal(t, []string{"b1"}, te.subs.subscribers("r1"))

	collected, err := te.CollectGarbage(context.Background())
	require.NoError(t, err)
	assert.Empty(t, collected)
	te.room(t, "r1")

	te.disconnect(t, "b1")
	_, err = te.Room(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Eventually(t, func() bool {
		return te.persister.deletedCount("r1") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestEngine_IdleAndOffUsersKeepRooms(t *testing.T) {
	tests := []struct {
		name     string
		presence domain.Presence
	}{
		{name: "idle", presence: domain.Presence{Status: domain.StatusOn, IsIdle: true}},
		{name: "status off", presence: domain.Presence{Status: domain.StatusOff}},
		{name: "busy and idle", presence: domain.Presence{Status: domain.StatusBusy, IsIdle: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := newTestEngine(t, DefaultEngineConfig())
			te.connect(t, "a1", 1, "alice")
			te.send(t, "a1", EventRoomCreated, domain.Room{Name: "r", UserIDs: []int64{1}})

			te.send(t, "a1", EventStatusChanged, map[string]domain.Presence{"a1": tt.presence})

			collected, err := te.CollectGarbage(context.Background())
			require.NoError(t, err)
			assert.Empty(t, collected)

			rooms, err := te.Rooms(context.Background())
			require.NoError(t, err)
			require.Len(t, rooms, 1)
			assert.Equal(t, "r", rooms[0].Name)

			presences, err := te.Presences(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.presence.Status, presences["a1"].Status)
			assert.Equal(t, tt.presence.IsIdle, presences["a1"].IsIdle)
		})
	}
}

func TestEngine_RejectsInvalidMemberIDs(t *testing.T) {
	te := newTestEngine(t, DefaultEngineConfig())
	te.connect(t, "a1", 1, "alice")
	te.connect(t, "b1", 2, "bob")

	te.send(t, "a1", EventRoomCreated, domain.Room{Name: "bad", UserIDs: []int64{2, 0}})
	_, err := te.Room(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	te.send(t, "a1", EventRoomCreated, domain.Room{Name: "r", UserIDs: []int64{2}})
	te.send(t, "a1", EventRoomForceJoin, RoomForceRequest{RoomName: "r"})
	te.send(t, "a1", EventRoomForceJoin, RoomForceRequest{UserID: -4, RoomName: "r"})
	assert.ElementsMatch(t, []int64{1, 2}, te.room(t, "r").UserIDs)
	assert.Empty(t, te.subs.received("b1", EventRoomForceJoined))

	errs := te.subs.received("a1", EventError)
	require.Len(t, errs, 3)
	for _, env := range errs {
		assert.Equal(t, ErrUserIDInvalid.Error(), env.Error)
	}
}

func TestEngine_MemberLimit(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.MaxRoomUsers = 2
	te := newTestEngine(t, cfg)
	ctx := context.Background()
	te.connect(t, "a1", 1, "alice")

	te.send(t, "a1", EventRoomCreated, domain.Room{Name: "big", UserIDs: []int64{1, 2, 3}})
	errs := te.subs.received("a1", EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrRestricted.Error(), errs[0].Error)
	_, err := te.Room(ctx, "big")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	te.send(t, "a1", EventRoomCreated, domain.Room{Name: "pair", UserIDs: []int64{2}})
	te.send(t, "a1", EventRoomForceJoin, RoomForceRequest{UserID: 3, RoomName: "pair"})
	assert.Len(t, te.subs.received("a1", EventError), 2)
	assert.ElementsMatch(t, []int64{1, 2}, te.room(t, "pair").UserIDs)

	tests := []struct {
		name      string
		operation string
		userIDs   []int64
		room      string
		permitted bool
		err       error
	}{
		{name: "create within limit", operation: RestrictionCreate, userIDs: []int64{2}, permitted: true},
		{name: "create counts trigger", operation: RestrictionCreate, userIDs: []int64{2, 3}, permitted: false},
		{name: "add existing member", operation: RestrictionAdd, userIDs: []int64{2}, room: "pair", permitted: true},
		{name: "add over limit", operation: RestrictionAdd, userIDs: []int64{3}, room: "pair", permitted: false},
		{name: "add to unknown room", operation: RestrictionAdd, userIDs: []int64{3}, room: "nope", err: ErrRoomNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			permitted, err := te.CheckRestriction(ctx, tt.operation, 1, tt.userIDs, tt.room)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.permitted, permitted)
		})
	}
}

func TestEngine_RelayMessage(t *testing.T) {
	te := newTestEngine(t, DefaultEngineConfig())
	te.connect(t, "a1", 1, "alice")
	te.connect(t, "a2", 1, "alice")
	te.connect(t, "b1", 2, "bob")
	te.connect(t, "c1", 3, "carol")
	te.send(t, "a1", EventRoomCreated, domain.Room{Name: "r", UserIDs: []int64{1, 2}})

	te.send(t, "a1", EventSendMessage, MessagePayload{UserID: 42, RoomName: "r", Message: "hello", Time: 1700000000000})

	// Members receive it except the sending connection; outsiders do not.
	got := te.subs.received("b1", EventSendMessage)
	require.Len(t, got, 1)
	msg := decodePayload[MessagePayload](t, got[0])
	assert.Equal(t, int64(1), msg.UserID)
	assert.Equal(t, "hello", msg.Message)
	assert.Len(t, te.subs.received("a2", EventSendMessage), 1)
	assert.Empty(t, te.subs.received("a1", EventSendMessage))
	assert.Empty(t, te.subs.received("c1", EventSendMessage))

	assert.Eventually(t, func() bool {
		return len(te.persister.savedMessages()) == 1
	}, time.Second, 10*time.Millisecond)
	saved := te.persister.savedMessages()[0]
	assert.Equal(t, int64(1), saved.UserID)
	assert.Equal(t, time.UnixMilli(1700000000000), saved.Time)

	// Typing notifications are relayed but not stored.
	te.send(t, "b1", EventTypeMessage, MessagePayload{RoomName: "r"})
	assert.Len(t, te.subs.received("a1", EventTypeMessage), 1)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, te.persister.savedMessages(), 1)
}

func TestEngine_RelayRejections(t *testing.T) {
	te := newTestEngine(t, DefaultEngineConfig())
	te.connect(t, "a1", 1, "alice")
	te.connect(t, "c1", 3, "carol")
	te.send(t, "a1", EventRoomCreated, domain.Room{Name: "r"})

	// Non-members get an error.
	te.send(t, "c1", EventSendMessage, MessagePayload{RoomName: "r", Message: "let me in"})
	assert.Len(t, te.subs.received("c1", EventError), 1)
	assert.Empty(t, te.subs.received("a1", EventSendMessage))

	// Unknown rooms are dropped silently.
	te.send(t, "a1", EventSendMessage, MessagePayload{RoomName: "gone", Message: "x"})
	assert.Empty(t, te.subs.received("a1", EventError))

	// Oversized messages are rejected.
	big := make([]byte, MaxMessageLength+1)
	for i := range big {
		big[i] = 'x'
	}
	te.send(t, "a1", EventSendMessage, MessagePayload{RoomName: "r", Message: string(big)})
	errs := te.subs.received("a1", EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrMessageTooLong.Error(), errs[0].Error)

	// Malformed frames.
	require.NoError(t, te.Handle(context.Background(), "a1", Envelope{Type: EventSendMessage}))
	require.NoError(t, te.Handle(context.Background(), "a1", Envelope{Type: "bogus", Payload: json.RawMessage(`{}`)}))
	require.NoError(t, te.Handle(context.Background(), "a1", Envelope{Type: EventRoomJoin, Payload: json.RawMessage(`"nope"`)}))
	assert.Len(t, te.subs.received("a1", EventError), 4)

	// Frames from unknown connections are ignored.
	require.NoError(t, te.Handle(context.Background(), "ghost", Envelope{Type: EventSendMessage}))
}

func TestEngine_RelayFile(t *testing.T) {
	te := newTestEngine(t, DefaultEngineConfig())
	te.connect(t, "a1", 1, "alice")
	te.connect(t, "b1", 2, "bob")
	te.send(t, "a1", EventRoomCreated, domain.Room{Name: "r", UserIDs: []int64{1, 2}})

	te.send(t, "a1", EventSendFile, FilePayload{
		RoomName: "r",
		Store:    "r/abc-cat.png",
		Type:     "image",
		File:     "cat.png",
		FileData: map[string]any{"size": 10},
	})

	got := te.subs.received("b1", EventSendFile)
	require.Len(t, got, 1)
	file := decodePayload[FilePayload](t, got[0])
	assert.Equal(t, "r/abc-cat.png", file.Store)
	assert.Equal(t, int64(1), file.UserID)

	assert.Eventually(t, func() bool {
		return len(te.persister.savedFiles()) == 1
	}, time.Second, 10*time.Millisecond)
	saved := te.persister.savedFiles()[0]
	assert.Equal(t, "image", saved.MainType)
	assert.Equal(t, te.clock.Now(), saved.Time)
}

func TestEngine_StatusChanged(t *testing.T) {
	te := newTestEngine(t, DefaultEngineConfig())
	te.connect(t, "a1", 1, "alice")
	te.connect(t, "b1", 2, "bob")
	te.subs.reset()

	te.send(t, "a1", EventStatusChanged, map[string]domain.Presence{
		"a1":    {UserID: 1, UserName: "mallory", Status: domain.StatusBusy, IsIdle: true},
		"b1":    {UserID: 2, UserName: "bob", Status: "bogus"},
		"ghost": {UserID: 9, UserName: "ghost", Status: domain.StatusOn},
	})

	table, err := te.Presences(context.Background())
	require.NoError(t, err)
	require.Len(t, table, 2)
	assert.Equal(t, domain.StatusBusy, table["a1"].Status)
	assert.True(t, table["a1"].IsIdle)
	assert.Equal(t, "alice", table["a1"].UserName)
	assert.Equal(t, domain.StatusOn, table["b1"].Status)

	assert.Len(t, te.subs.received("b1", EventStatusChanged), 1)
	assert.Empty(t, te.subs.received("a1", EventStatusChanged))
}

func TestEngine_RestoreAndReconnect(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.RestoreGrace = time.Hour
	te := newTestEngine(t, cfg)
	ctx := context.Background()

	restored, err := te.Restore(ctx, []domain.Room{
		{Name: "kept", Starter: 1, UserIDs: []int64{1, 2}},
		{Name: "kept", Starter: 5, UserIDs: []int64{5}},
		{Name: "stale", Starter: 3, UserIDs: []int64{3}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	// Nobody is online yet but the grace period protects the rooms.
	collected, err := te.CollectGarbage(ctx)
	require.NoError(t, err)
	assert.Empty(t, collected)

	te.connect(t, "a1", 1, "alice")
	assert.Equal(t, []string{"a1"}, te.subs.subscribers("kept"))
	joined := te.subs.received("a1", EventRoomJoined)
	require.Len(t, joined, 1)
	payload := decodePayload[RoomJoinedPayload](t, joined[0])
	assert.Equal(t, "kept", payload.Name)
	assert.Equal(t, int64(1), payload.JoinedUserID)

	te.clock.Advance(2 * time.Hour)
	collected, err = te.CollectGarbage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, collected)

	stats, err := te.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Connections: 1, OnlineUsers: 1, Rooms: 1}, stats)
}

func TestEngine_IsMember(t *testing.T) {
	te := newTestEngine(t, DefaultEngineConfig())
	ctx := context.Background()
	te.connect(t, "a1", 1, "alice")
	te.send(t, "a1", EventRoomCreated, domain.Room{Name: "r", UserIDs: []int64{2}})

	member, err := te.IsMember(ctx, "r", 2)
	require.NoError(t, err)
	assert.True(t, member)

	member, err = te.IsMember(ctx, "r", 3)
	require.NoError(t, err)
	assert.False(t, member)

	_, err = te.IsMember(ctx, "nope", 1)
	assert.True(t, errors.Is(err, ErrRoomNotFound))
}

func TestEngine_Stopped(t *testing.T) {
	logger := &mockLogger{}
	engine := NewEngine(DefaultEngineConfig(), newFakeSubs(), nil, nil, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go engine.Run(ctx)
	cancel()
	engine.Wait()

	_, err := engine.Rooms(context.Background())
	assert.ErrorIs(t, err, ErrEngineStopped)
}
