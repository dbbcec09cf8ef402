// Package store is the persistence seam of the chat server. The registry
// calls it at durable transitions; the concrete backend (SQL in the full
// deployment) is injected by the caller. The server runs correctly with the
// Noop store.
package store

import "time"

// Store receives durable state transitions. Implementations must be safe
// for concurrent use. Errors are logged by the caller and never fail the
// in-memory operation.
type Store interface {
	CreateUser(id int64) error
	SetPassword(id int64, verifier []byte) error

	CreatePrivateRoom(roomID, user1, user2 int64) error
	RemovePrivateRoom(roomID int64) error
	CreateGroupRoom(roomID, administrator int64) error
	RemoveGroupRoom(roomID int64) error

	AddFriendship(user1, user2 int64) error
	RemoveFriendship(user1, user2 int64) error

	AppendMessage(roomID, sender int64, kind uint8, text string, at time.Time) error

	Close() error
}

// Noop discards everything. Used when no backend is configured.
type Noop struct{}

func (Noop) CreateUser(int64) error          { return nil }
func (Noop) SetPassword(int64, []byte) error { return nil }

func (Noop) CreatePrivateRoom(int64, int64, int64) error { return nil }
func (Noop) RemovePrivateRoom(int64) error               { return nil }
func (Noop) CreateGroupRoom(int64, int64) error          { return nil }
func (Noop) RemoveGroupRoom(int64) error                 { return nil }

func (Noop) AddFriendship(int64, int64) error    { return nil }
func (Noop) RemoveFriendship(int64, int64) error { return nil }

func (Noop) AppendMessage(int64, int64, uint8, string, time.Time) error { return nil }

func (Noop) Close() error { return nil }
