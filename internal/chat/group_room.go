package chat

import (
	"time"

	"github.com/luminet-im/luminet/internal/lmerr"
	"github.com/luminet-im/luminet/internal/monitoring"
)

// GroupRoom is a multi-member room with a fixed administrator (its
// creator). Members join through the group verification workflow.
type GroupRoom struct {
	room
	id    GroupID
	admin UserID
}

func newGroupRoom(m *Manager, id GroupID, administrator UserID) *GroupRoom {
	g := &GroupRoom{
		id:    id,
		admin: administrator,
	}
	g.room.init(m)
	g.members[administrator] = struct{}{}
	g.startPruner()
	return g
}

// ID returns the room identifier.
func (g *GroupRoom) ID() GroupID {
	return g.id
}

// Administrator returns the room's creator.
func (g *GroupRoom) Administrator() UserID {
	return g.admin
}

// AddMember adds id to the room. It reports false without error when id
// is already a member.
func (g *GroupRoom) AddMember(id UserID) (bool, error) {
	if !g.CanBeUsed() {
		return false, lmerr.E(lmerr.CodeGroupRoomUnableToUse)
	}
	g.memberMu.Lock()
	defer g.memberMu.Unlock()
	if _, ok := g.members[id]; ok {
		return false, nil
	}
	g.members[id] = struct{}{}
	return true, nil
}

// RemoveMember removes id from the room. Removing a non-member is a
// no-op. The administrator leaves only by destroying the room.
func (g *GroupRoom) RemoveMember(id UserID) error {
	if !g.CanBeUsed() {
		return lmerr.E(lmerr.CodeGroupRoomUnableToUse)
	}
	if id == g.admin {
		return lmerr.Ef(lmerr.CodeNoPermission, "administrator cannot leave group %d", g.id)
	}
	g.memberMu.Lock()
	defer g.memberMu.Unlock()
	delete(g.members, id)
	return nil
}

// SendMessage appends a chat message to the log and fans it out to all
// members. Messages from non-members are dropped without error.
func (g *GroupRoom) SendMessage(sender UserID, text string) error {
	return g.deliver(sender, text, NormalMessage, "group_message")
}

// SendTipMessage appends a system tip and fans it out.
func (g *GroupRoom) SendTipMessage(sender UserID, text string) error {
	return g.deliver(sender, text, TipMessage, "group_tip_message")
}

func (g *GroupRoom) deliver(sender UserID, text string, kind MessageKind, envType string) error {
	if !g.CanBeUsed() {
		return lmerr.E(lmerr.CodeGroupRoomUnableToUse)
	}
	if !g.HasMember(sender) {
		return nil
	}
	res := g.log.append(MessageRecord{Sender: sender, Text: text, Kind: kind})
	monitoring.RecordRoomMessage("group")
	if err := g.manager.store.AppendMessage(int64(g.id), int64(sender), uint8(kind), text, res.Time); err != nil {
		g.manager.logger.Warn().Err(err).Int64("room_id", int64(g.id)).Msg("Store append failed")
	}
	g.sendData(encodeRoomEnvelope(envType, sender, text))
	return nil
}

// GetMessage returns the log entries with from <= time <= to. A removed
// room refuses with group_room_unable_to_use.
func (g *GroupRoom) GetMessage(from, to time.Time) ([]MessageResult, error) {
	if !g.CanBeUsed() {
		return nil, lmerr.E(lmerr.CodeGroupRoomUnableToUse)
	}
	return g.log.rangeBetween(from, to), nil
}

// removeThisRoom shuts the room down. Manager only.
func (g *GroupRoom) removeThisRoom() {
	g.shutDown()
}
