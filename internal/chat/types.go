// Package chat holds the in-memory domain model of the server: users,
// private and group rooms, the central registry binding connections to
// users, and the verification workflows that gate friendships and group
// membership.
package chat

import "time"

// UserID identifies a registered user. IDs are allocated sequentially
// starting at BaseID.
type UserID int64

// GroupID identifies a room, private or group. Private rooms and group
// rooms draw from independent counters, so a GroupID is only meaningful
// together with the room kind.
type GroupID int64

// InvalidUserID marks a connection that has not logged in yet.
const InvalidUserID UserID = -1

// BaseID is the first value handed out by each of the three ID counters
// (users, private rooms, group rooms).
const BaseID = 10000

// DeviceType classifies the client software behind a connection.
type DeviceType int

const (
	DeviceUnknown DeviceType = iota
	DevicePersonalComputer
	DevicePhone
	DeviceWeb
)

// ParseDeviceType maps the login device string to a DeviceType. Matching
// is case sensitive; anything unrecognized is DeviceUnknown.
func ParseDeviceType(s string) DeviceType {
	switch s {
	case "PersonalComputer":
		return DevicePersonalComputer
	case "Phone":
		return DevicePhone
	case "Web":
		return DeviceWeb
	default:
		return DeviceUnknown
	}
}

func (d DeviceType) String() string {
	switch d {
	case DevicePersonalComputer:
		return "PersonalComputer"
	case DevicePhone:
		return "Phone"
	case DeviceWeb:
		return "Web"
	default:
		return "Unknown"
	}
}

// Endpoint is the transport half of a connection as seen by the domain
// layer. The server package implements it; fanout writes through it.
type Endpoint interface {
	// Send queues payload as one text frame on the connection. It fails
	// when the connection is already closed.
	Send(payload []byte) error

	// RemoteAddr returns the peer address, for logging.
	RemoteAddr() string
}

// MessageKind distinguishes chat messages from system tips in room logs.
type MessageKind uint8

const (
	NormalMessage MessageKind = iota
	TipMessage
)

// MessageRecord is one entry of a room log.
type MessageRecord struct {
	Sender UserID
	Text   string
	Kind   MessageKind
}

// MessageResult is a log entry together with its server-side timestamp.
type MessageResult struct {
	Time   time.Time
	Record MessageRecord
}

// VerificationDirection tells each side of a pending verification whether
// they sent it or received it.
type VerificationDirection int

const (
	VerificationSent VerificationDirection = iota
	VerificationReceived
)

func (d VerificationDirection) String() string {
	if d == VerificationReceived {
		return "Received"
	}
	return "Sent"
}

// FriendVerification is a user's view of one pending friend request.
type FriendVerification struct {
	UserID    UserID
	Direction VerificationDirection
	At        time.Time
}

// GroupVerification is a user's view of one pending group-join request.
// For the applicant Direction is Sent; for the group administrator it is
// Received.
type GroupVerification struct {
	GroupID   GroupID
	UserID    UserID
	Direction VerificationDirection
	At        time.Time
}
