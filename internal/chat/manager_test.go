package chat

import (
	"testing"

	"github.com/luminet-im/luminet/internal/lmerr"
)

func TestIDAllocationStartsAtBase(t *testing.T) {
	m := newTestManager()

	if got := m.AddNewUser().ID(); got != BaseID {
		t.Fatalf("first user id %d, want %d", got, BaseID)
	}
	if got := m.AddNewUser().ID(); got != BaseID+1 {
		t.Fatalf("second user id %d, want %d", got, BaseID+1)
	}

	// Room counters are independent of the user counter.
	if got := m.AddGroupRoom(BaseID); got != BaseID {
		t.Fatalf("first group room id %d, want %d", got, BaseID)
	}
	if got := m.AddPrivateRoom(BaseID, BaseID+1); got != BaseID {
		t.Fatalf("first private room id %d, want %d", got, BaseID)
	}
}

func TestConnectionBindingLifecycle(t *testing.T) {
	m := newTestManager()
	alice := m.AddNewUser()
	bob := m.AddNewUser()
	conn := &fakeEndpoint{addr: "10.0.0.1:1000"}

	if err := m.RegisterConnection(nil); !lmerr.IsCode(err, lmerr.CodeNullSocketPointer) {
		t.Fatalf("nil register: %v", err)
	}
	if err := m.RegisterConnection(conn); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.RegisterConnection(conn); !lmerr.IsCode(err, lmerr.CodeSocketPointerExisted) {
		t.Fatalf("duplicate register: %v", err)
	}

	id, err := m.GetUserIDOfConnection(conn)
	if err != nil || id != InvalidUserID {
		t.Fatalf("unbound connection: id=%d err=%v", id, err)
	}

	if err := m.ModifyUserOfConnection(conn, alice.ID(), DevicePhone); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if id, _ := m.GetUserIDOfConnection(conn); id != alice.ID() {
		t.Fatalf("bound to %d, want %d", id, alice.ID())
	}
	if !m.MatchUserOfConnection(conn, alice.ID()) {
		t.Fatal("MatchUserOfConnection must match the bound user")
	}
	if m.MatchUserOfConnection(conn, bob.ID()) {
		t.Fatal("MatchUserOfConnection matched the wrong user")
	}
	if dev, ok := alice.Connections()[Endpoint(conn)]; !ok || dev != DevicePhone {
		t.Fatalf("endpoint not mirrored on user: %v %v", dev, ok)
	}

	// Rebinding moves the endpoint to the new user.
	if err := m.ModifyUserOfConnection(conn, bob.ID(), DeviceWeb); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if _, ok := alice.Connections()[Endpoint(conn)]; ok {
		t.Fatal("previous user still holds the endpoint")
	}
	if _, ok := bob.Connections()[Endpoint(conn)]; !ok {
		t.Fatal("new user missing the endpoint")
	}

	m.RemoveConnection(conn)
	if m.HasConnection(conn) {
		t.Fatal("connection still registered after removal")
	}
	if _, ok := bob.Connections()[Endpoint(conn)]; ok {
		t.Fatal("user still holds removed endpoint")
	}
	if _, err := m.GetUserIDOfConnection(conn); !lmerr.IsCode(err, lmerr.CodeSocketPointerNotExisted) {
		t.Fatalf("lookup after removal: %v", err)
	}

	// Removing twice is a no-op.
	m.RemoveConnection(conn)
}

func TestModifyUserOfConnectionErrors(t *testing.T) {
	m := newTestManager()
	alice := m.AddNewUser()
	conn := &fakeEndpoint{addr: "10.0.0.1:1000"}

	if err := m.ModifyUserOfConnection(conn, alice.ID(), DevicePhone); !lmerr.IsCode(err, lmerr.CodeSocketPointerNotExisted) {
		t.Fatalf("unregistered connection: %v", err)
	}
	if err := m.RegisterConnection(conn); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.ModifyUserOfConnection(conn, UserID(99999), DevicePhone); !lmerr.IsCode(err, lmerr.CodeUserNotExisted) {
		t.Fatalf("unknown user: %v", err)
	}
}

func TestPrivateRoomIndexToleratesEitherOrder(t *testing.T) {
	m := newTestManager()
	a := m.AddNewUser().ID()
	b := m.AddNewUser().ID()
	id := m.AddPrivateRoom(a, b)

	if !m.HasPrivateRoomBetween(a, b) || !m.HasPrivateRoomBetween(b, a) {
		t.Fatal("pair lookup must tolerate either order")
	}
	for _, pair := range [][2]UserID{{a, b}, {b, a}} {
		got, err := m.GetPrivateRoomID(pair[0], pair[1])
		if err != nil || got != id {
			t.Fatalf("GetPrivateRoomID(%d,%d) = %d, %v", pair[0], pair[1], got, err)
		}
	}

	if _, err := m.GetPrivateRoomID(a, UserID(99999)); !lmerr.IsCode(err, lmerr.CodePrivateRoomNotExisted) {
		t.Fatalf("missing pair: %v", err)
	}
}

func TestRemovePrivateRoom(t *testing.T) {
	m := newTestManager()
	a := m.AddNewUser().ID()
	b := m.AddNewUser().ID()
	id := m.AddPrivateRoom(a, b)

	room, err := m.GetPrivateRoom(id)
	if err != nil {
		t.Fatalf("GetPrivateRoom: %v", err)
	}
	if err := m.RemovePrivateRoom(id); err != nil {
		t.Fatalf("RemovePrivateRoom: %v", err)
	}
	if m.HasPrivateRoom(id) || m.HasPrivateRoomBetween(a, b) || m.HasPrivateRoomBetween(b, a) {
		t.Fatal("room still indexed after removal")
	}
	if err := room.SendMessage(a, "late"); !lmerr.IsCode(err, lmerr.CodePrivateRoomUnableToUse) {
		t.Fatalf("send on removed room: %v", err)
	}
	if _, err := room.GetMessage(room.log.now(), room.log.now()); !lmerr.IsCode(err, lmerr.CodePrivateRoomUnableToUse) {
		t.Fatalf("read on removed room: %v", err)
	}
	if err := m.RemovePrivateRoom(id); !lmerr.IsCode(err, lmerr.CodePrivateRoomNotExisted) {
		t.Fatalf("double removal: %v", err)
	}
}

func TestGroupRoomLifecycle(t *testing.T) {
	m := newTestManager()
	admin := m.AddNewUser().ID()
	id := m.AddGroupRoom(admin)

	room, err := m.GetGroupRoom(id)
	if err != nil {
		t.Fatalf("GetGroupRoom: %v", err)
	}
	if room.Administrator() != admin {
		t.Fatalf("administrator %d, want %d", room.Administrator(), admin)
	}
	if !room.HasMember(admin) {
		t.Fatal("creator must be a member")
	}

	if err := m.RemoveGroupRoom(id); err != nil {
		t.Fatalf("RemoveGroupRoom: %v", err)
	}
	if m.HasGroupRoom(id) {
		t.Fatal("room still registered after removal")
	}
	if err := room.SendMessage(admin, "late"); !lmerr.IsCode(err, lmerr.CodeGroupRoomUnableToUse) {
		t.Fatalf("send on removed room: %v", err)
	}
	if err := m.RemoveGroupRoom(id); !lmerr.IsCode(err, lmerr.CodeGroupRoomNotExisted) {
		t.Fatalf("double removal: %v", err)
	}
}
