package chat

import (
	"fmt"

	domain "github.com/example/presence-chat/domain/chat"
)

// roomRecord is the directory's internal representation of a room.
type roomRecord struct {
	name    string
	starter int64
	members []int64 // insertion order, no duplicates
}

func (r *roomRecord) view() domain.Room {
	ids := make([]int64, len(r.members))
	copy(ids, r.members)
	return domain.Room{Name: r.name, Starter: r.starter, UserIDs: ids}
}

func (r *roomRecord) indexOf(userID int64) int {
	for i, id := range r.members {
		if id == userID {
			return i
		}
	}
	return -1
}

// Directory is the ordered collection of rooms.
// It is not safe for concurrent use; the Engine owns it.
type Directory struct {
	rooms map[string]*roomRecord
	order []string // creation order
}

// NewDirectory creates an empty room directory.
func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]*roomRecord)}
}

// Create adds a room. Duplicate member ids are collapsed.
func (d *Directory) Create(name string, starter int64, memberIDs []int64) (domain.Room, error) {
	if _, exists := d.rooms[name]; exists {
		return domain.Room{}, fmt.Errorf("%w: %s", ErrDuplicateRoomName, name)
	}
	rec := &roomRecord{name: name, starter: starter}
	for _, id := range memberIDs {
		if rec.indexOf(id) == -1 {
			rec.members = append(rec.members, id)
		}
	}
	d.rooms[name] = rec
	d.order = append(d.order, name)
	return rec.view(), nil
}

// Find returns a copy of the named room.
func (d *Directory) Find(name string) (domain.Room, bool) {
	rec, ok := d.rooms[name]
	if !ok {
		return domain.Room{}, false
	}
	return rec.view(), true
}

// AddMember adds userID to the room. It reports whether membership changed.
func (d *Directory) AddMember(name string, userID int64) (bool, error) {
	rec, ok := d.rooms[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrRoomNotFound, name)
	}
	if rec.indexOf(userID) != -1 {
		return false, nil
	}
	rec.members = append(rec.members, userID)
	return true, nil
}

// RemoveMember removes userID from the room. It reports whether membership changed.
func (d *Directory) RemoveMember(name string, userID int64) (bool, error) {
	rec, ok := d.rooms[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrRoomNotFound, name)
	}
	i := rec.indexOf(userID)
	if i == -1 {
		return false, nil
	}
	rec.members = append(rec.members[:i], rec.members[i+1:]...)
	return true, nil
}

// ListAll returns every room in creation order.
func (d *Directory) ListAll() []domain.Room {
	rooms := make([]domain.Room, 0, len(d.order))
	for _, name := range d.order {
		rooms = append(rooms, d.rooms[name].view())
	}
	return rooms
}

// RoomsOf returns the rooms userID belongs to, in creation order.
func (d *Directory) RoomsOf(userID int64) []domain.Room {
	var rooms []domain.Room
	for _, name := range d.order {
		rec := d.rooms[name]
		if rec.indexOf(userID) != -1 {
			rooms = append(rooms, rec.view())
		}
	}
	return rooms
}

// Delete removes the room record. Storage is left to the caller.
func (d *Directory) Delete(name string) bool {
	if _, ok := d.rooms[name]; !ok {
		return false
	}
	delete(d.rooms, name)
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of rooms.
func (d *Directory) Len() int {
	return len(d.order)
}
