package chat

import (
	"encoding/json"
	"time"

	"github.com/luminet-im/luminet/internal/lmerr"
	"github.com/luminet-im/luminet/internal/monitoring"
)

// Fanout payload for room traffic. type is one of private_message,
// private_tip_message, group_message, group_tip_message.
type roomEnvelope struct {
	Type string       `json:"type"`
	Data envelopeData `json:"data"`
}

type envelopeData struct {
	UserID  UserID `json:"user_id"`
	Message string `json:"message"`
}

func encodeRoomEnvelope(kind string, sender UserID, text string) []byte {
	payload, _ := json.Marshal(roomEnvelope{
		Type: kind,
		Data: envelopeData{UserID: sender, Message: text},
	})
	return payload
}

// PrivateRoom is the two-member room backing one friendship. It is
// created when a friend request is accepted and removed when the
// friendship is dissolved.
type PrivateRoom struct {
	room
	id    GroupID
	user1 UserID
	user2 UserID
}

func newPrivateRoom(m *Manager, id GroupID, user1, user2 UserID) *PrivateRoom {
	p := &PrivateRoom{
		id:    id,
		user1: user1,
		user2: user2,
	}
	p.room.init(m)
	p.members[user1] = struct{}{}
	p.members[user2] = struct{}{}
	p.startPruner()
	return p
}

// ID returns the room identifier.
func (p *PrivateRoom) ID() GroupID {
	return p.id
}

// Users returns the two members.
func (p *PrivateRoom) Users() (UserID, UserID) {
	return p.user1, p.user2
}

// SendMessage appends a chat message to the log and fans it out to both
// members. Messages from non-members are dropped without error.
func (p *PrivateRoom) SendMessage(sender UserID, text string) error {
	return p.deliver(sender, text, NormalMessage, "private_message")
}

// SendTipMessage appends a system tip and fans it out.
func (p *PrivateRoom) SendTipMessage(sender UserID, text string) error {
	return p.deliver(sender, text, TipMessage, "private_tip_message")
}

func (p *PrivateRoom) deliver(sender UserID, text string, kind MessageKind, envType string) error {
	if !p.CanBeUsed() {
		return lmerr.E(lmerr.CodePrivateRoomUnableToUse)
	}
	if !p.HasMember(sender) {
		return nil
	}
	res := p.log.append(MessageRecord{Sender: sender, Text: text, Kind: kind})
	monitoring.RecordRoomMessage("private")
	if err := p.manager.store.AppendMessage(int64(p.id), int64(sender), uint8(kind), text, res.Time); err != nil {
		p.manager.logger.Warn().Err(err).Int64("room_id", int64(p.id)).Msg("Store append failed")
	}
	p.sendData(encodeRoomEnvelope(envType, sender, text))
	return nil
}

// GetMessage returns the log entries with from <= time <= to. A removed
// room refuses with private_room_unable_to_use.
func (p *PrivateRoom) GetMessage(from, to time.Time) ([]MessageResult, error) {
	if !p.CanBeUsed() {
		return nil, lmerr.E(lmerr.CodePrivateRoomUnableToUse)
	}
	return p.log.rangeBetween(from, to), nil
}

// removeThisRoom shuts the room down. Manager only.
func (p *PrivateRoom) removeThisRoom() {
	p.shutDown()
}
