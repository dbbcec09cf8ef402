package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/luminet-im/luminet/internal/lmerr"
)

func TestMessageLogOrderingAndRange(t *testing.T) {
	log := newMessageLog()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	clock := base
	log.now = func() time.Time { return clock }

	for i := 0; i < 5; i++ {
		clock = base.Add(time.Duration(i) * time.Second)
		log.append(MessageRecord{Sender: BaseID, Text: string(rune('a' + i)), Kind: NormalMessage})
	}

	// Bounds are inclusive on both ends.
	got := log.rangeBetween(base.Add(time.Second), base.Add(3*time.Second))
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Time.Before(got[i-1].Time) {
			t.Fatal("range result out of order")
		}
	}
	if got[0].Record.Text != "b" || got[2].Record.Text != "d" {
		t.Fatalf("wrong window: %q .. %q", got[0].Record.Text, got[2].Record.Text)
	}

	if got := log.rangeBetween(base.Add(time.Hour), base); got != nil {
		t.Fatalf("from > to must yield empty, got %d entries", len(got))
	}
}

func TestMessageLogClockStepBack(t *testing.T) {
	log := newMessageLog()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	clock := base
	log.now = func() time.Time { return clock }

	log.append(MessageRecord{Text: "first"})
	clock = base.Add(-time.Minute)
	res := log.append(MessageRecord{Text: "second"})
	if res.Time.Before(base) {
		t.Fatal("ordering broken by backwards clock")
	}
}

func TestMessageLogPrune(t *testing.T) {
	log := newMessageLog()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	clock := base
	log.now = func() time.Time { return clock }

	log.append(MessageRecord{Text: "old"})
	clock = base.Add(logRetention + time.Hour)
	log.append(MessageRecord{Text: "fresh"})

	removed := log.pruneOlderThan(clock.Add(-logRetention))
	if removed != 1 {
		t.Fatalf("pruned %d, want 1", removed)
	}
	if log.len() != 1 {
		t.Fatalf("%d entries remain, want 1", log.len())
	}
	if log.pruneOlderThan(clock.Add(-logRetention)) != 0 {
		t.Fatal("second prune must remove nothing")
	}
}

func TestPrivateRoomFanout(t *testing.T) {
	m := newTestManager()
	alice := m.AddNewUser()
	bob := m.AddNewUser()

	aliceConn := &fakeEndpoint{addr: "10.0.0.1:1"}
	bobConn := &fakeEndpoint{addr: "10.0.0.2:2"}
	for conn, user := range map[*fakeEndpoint]*User{aliceConn: alice, bobConn: bob} {
		if err := m.RegisterConnection(conn); err != nil {
			t.Fatalf("register: %v", err)
		}
		if err := m.ModifyUserOfConnection(conn, user.ID(), DevicePersonalComputer); err != nil {
			t.Fatalf("bind: %v", err)
		}
	}

	id := m.AddPrivateRoom(alice.ID(), bob.ID())
	room, err := m.GetPrivateRoom(id)
	if err != nil {
		t.Fatalf("GetPrivateRoom: %v", err)
	}

	if err := room.SendMessage(alice.ID(), "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	for name, conn := range map[string]*fakeEndpoint{"alice": aliceConn, "bob": bobConn} {
		frames := conn.received()
		if len(frames) != 1 {
			t.Fatalf("%s received %d frames, want 1", name, len(frames))
		}
		var env struct {
			Type string `json:"type"`
			Data struct {
				UserID  int64  `json:"user_id"`
				Message string `json:"message"`
			} `json:"data"`
		}
		if err := json.Unmarshal(frames[0], &env); err != nil {
			t.Fatalf("%s payload: %v", name, err)
		}
		if env.Type != "private_message" || env.Data.UserID != int64(alice.ID()) || env.Data.Message != "hi" {
			t.Fatalf("%s envelope: %+v", name, env)
		}
	}

	entries, err := room.GetMessage(time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if len(entries) != 1 || entries[0].Record.Kind != NormalMessage {
		t.Fatalf("log: %+v", entries)
	}
}

func TestPrivateRoomDropsNonMemberSender(t *testing.T) {
	m := newTestManager()
	a := m.AddNewUser().ID()
	b := m.AddNewUser().ID()
	stranger := m.AddNewUser().ID()

	room, err := m.GetPrivateRoom(m.AddPrivateRoom(a, b))
	if err != nil {
		t.Fatalf("GetPrivateRoom: %v", err)
	}
	if err := room.SendMessage(stranger, "psst"); err != nil {
		t.Fatalf("non-member send must not error: %v", err)
	}
	if room.log.len() != 0 {
		t.Fatal("non-member message reached the log")
	}
}

func TestTipMessageEnvelopeType(t *testing.T) {
	m := newTestManager()
	alice := m.AddNewUser()
	conn := &fakeEndpoint{addr: "10.0.0.1:1"}
	if err := m.RegisterConnection(conn); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.ModifyUserOfConnection(conn, alice.ID(), DeviceWeb); err != nil {
		t.Fatalf("bind: %v", err)
	}

	room, err := m.GetGroupRoom(m.AddGroupRoom(alice.ID()))
	if err != nil {
		t.Fatalf("GetGroupRoom: %v", err)
	}
	if err := room.SendTipMessage(alice.ID(), "welcome"); err != nil {
		t.Fatalf("SendTipMessage: %v", err)
	}

	frames := conn.received()
	if len(frames) != 1 {
		t.Fatalf("received %d frames, want 1", len(frames))
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frames[0], &env); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if env.Type != "group_tip_message" {
		t.Fatalf("type %q", env.Type)
	}
	entries, _ := room.GetMessage(time.Time{}, time.Now().Add(time.Hour))
	if len(entries) != 1 || entries[0].Record.Kind != TipMessage {
		t.Fatalf("log: %+v", entries)
	}
}

func TestGroupRoomMembership(t *testing.T) {
	m := newTestManager()
	admin := m.AddNewUser().ID()
	member := m.AddNewUser().ID()

	room, err := m.GetGroupRoom(m.AddGroupRoom(admin))
	if err != nil {
		t.Fatalf("GetGroupRoom: %v", err)
	}
	added, err := room.AddMember(member)
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if !added {
		t.Fatal("first AddMember must report true")
	}
	// Idempotent, reports false on repeat.
	added, err = room.AddMember(member)
	if err != nil {
		t.Fatalf("repeated AddMember: %v", err)
	}
	if added {
		t.Fatal("repeated AddMember must report false")
	}
	if got := room.MemberList(); len(got) != 2 {
		t.Fatalf("members %v", got)
	}

	if err := room.RemoveMember(admin); !lmerr.IsCode(err, lmerr.CodeNoPermission) {
		t.Fatalf("removing administrator: %v", err)
	}
	if err := room.RemoveMember(member); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if room.HasMember(member) {
		t.Fatal("member still present")
	}
	// Removing a non-member is a no-op.
	if err := room.RemoveMember(member); err != nil {
		t.Fatalf("repeated RemoveMember: %v", err)
	}
}
