package chat

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
)

func TestEncode(t *testing.T) {
	frame, err := Encode(EventRoomJoined, RoomJoinedPayload{
		Room:         domain.Room{Name: "r", Starter: 1, UserIDs: []int64{1, 2}},
		JoinedUserID: 2,
	})
	if err != nil {
		t.Fatalf("Encode() unexpected error: %v", err)
	}

	var env struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if env.Type != EventRoomJoined {
		t.Errorf("type = %q, want %q", env.Type, EventRoomJoined)
	}
	// Room fields are flattened next to joinedUserId.
	for _, key := range []string{"name", "starter", "userIds", "joinedUserId"} {
		if _, ok := env.Payload[key]; !ok {
			t.Errorf("payload missing %q: %v", key, env.Payload)
		}
	}

	if _, err := Encode(EventSendFile, map[string]any{"bad": make(chan int)}); err == nil {
		t.Error("Encode() expected error for unsupported payload")
	}
}

func TestEncodeError(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal(EncodeError("nope"), &env); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if env.Type != EventError || env.Error != "nope" || len(env.Payload) != 0 {
		t.Errorf("EncodeError() = %+v", env)
	}
}

func TestValidateUser(t *testing.T) {
	tests := []struct {
		name     string
		userID   int64
		userName string
		wantErr  error
	}{
		{"valid", 1, "alice", nil},
		{"empty name allowed", 1, "", nil},
		{"zero id", 0, "alice", ErrUserIDInvalid},
		{"negative id", -3, "alice", ErrUserIDInvalid},
		{"name too long", 1, strings.Repeat("a", MaxUserNameLength+1), ErrUserNameTooLong},
		{"invalid utf8", 1, "\xff\xfe", ErrUserNameInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateUser(tt.userID, tt.userName); err != tt.wantErr {
				t.Errorf("ValidateUser() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRoomName(t *testing.T) {
	tests := []struct {
		name    string
		room    string
		wantErr error
	}{
		{"valid", "room-1-1700000000000", nil},
		{"empty", "", ErrRoomNameEmpty},
		{"too long", strings.Repeat("r", MaxRoomNameLength+1), ErrRoomNameTooLong},
		{"invalid utf8", "\xff", ErrRoomNameInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateRoomName(tt.room); err != tt.wantErr {
				t.Errorf("ValidateRoomName() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateMessage(t *testing.T) {
	if err := ValidateMessage(""); err != nil {
		t.Errorf("ValidateMessage(\"\") = %v, want nil", err)
	}
	if err := ValidateMessage(strings.Repeat("m", MaxMessageLength+1)); err != ErrMessageTooLong {
		t.Errorf("ValidateMessage() = %v, want ErrMessageTooLong", err)
	}
}

func TestNewRoomName(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	if got := NewRoomName(42, at); got != "room-42-1700000000123" {
		t.Errorf("NewRoomName() = %q", got)
	}
}

func TestEventTime(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := eventTime(0, now); !got.Equal(now) {
		t.Errorf("eventTime(0) = %v, want now", got)
	}
	if got := eventTime(1000, now); got.UnixMilli() != 1000 {
		t.Errorf("eventTime(1000) = %v", got)
	}
}
