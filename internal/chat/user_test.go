package chat

import (
	"testing"

	"github.com/luminet-im/luminet/internal/lmerr"
)

func TestPasswordSetOnce(t *testing.T) {
	u := newUser(BaseID)
	if u.HasPassword() {
		t.Fatal("fresh user reports a password")
	}
	if u.CheckPassword("anything") {
		t.Fatal("check must fail before a password is set")
	}

	if err := u.SetPassword("secret"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if err := u.SetPassword("other"); !lmerr.IsCode(err, lmerr.CodePasswordAlreadySet) {
		t.Fatalf("second set: %v", err)
	}
	if !u.CheckPassword("secret") {
		t.Fatal("correct password rejected")
	}
	if u.CheckPassword("Secret") {
		t.Fatal("wrong password accepted")
	}
}

func TestParseDeviceTypeIsCaseSensitive(t *testing.T) {
	cases := map[string]DeviceType{
		"PersonalComputer": DevicePersonalComputer,
		"Phone":            DevicePhone,
		"Web":              DeviceWeb,
		"personalcomputer": DeviceUnknown,
		"phone":            DeviceUnknown,
		"WEB":              DeviceUnknown,
		"":                 DeviceUnknown,
		"Tablet":           DeviceUnknown,
	}
	for in, want := range cases {
		if got := ParseDeviceType(in); got != want {
			t.Errorf("ParseDeviceType(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFriendAndGroupListsAreSorted(t *testing.T) {
	u := newUser(BaseID)
	u.UpdateFriendList(func(friends map[UserID]struct{}) {
		friends[10007] = struct{}{}
		friends[10003] = struct{}{}
		friends[10005] = struct{}{}
	})
	friends := u.FriendList()
	for i := 1; i < len(friends); i++ {
		if friends[i-1] >= friends[i] {
			t.Fatalf("friend list not sorted: %v", friends)
		}
	}
	if !u.HasFriend(10005) || u.HasFriend(10004) {
		t.Fatal("HasFriend mismatch")
	}

	u.UpdateGroupList(func(groups map[GroupID]struct{}) {
		groups[10002] = struct{}{}
		groups[10001] = struct{}{}
	})
	groups := u.GroupList()
	if len(groups) != 2 || groups[0] != 10001 || groups[1] != 10002 {
		t.Fatalf("group list: %v", groups)
	}
}

func TestSendWritesToAllEndpoints(t *testing.T) {
	u := newUser(BaseID)
	first := &fakeEndpoint{addr: "10.0.0.1:1"}
	second := &fakeEndpoint{addr: "10.0.0.1:2"}
	u.addConnection(first, DevicePhone)
	u.addConnection(second, DeviceWeb)

	u.Send([]byte("payload"))
	if len(first.received()) != 1 || len(second.received()) != 1 {
		t.Fatal("payload missing on an endpoint")
	}

	u.removeConnection(first)
	u.Send([]byte("payload"))
	if len(first.received()) != 1 {
		t.Fatal("removed endpoint still receives")
	}
	if len(second.received()) != 2 {
		t.Fatal("remaining endpoint missed a send")
	}
}
