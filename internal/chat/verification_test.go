package chat

import (
	"testing"

	"github.com/luminet-im/luminet/internal/lmerr"
)

func TestFriendVerificationLifecycle(t *testing.T) {
	m := newTestManager()
	vm := m.Verifications()
	alice := m.AddNewUser()
	bob := m.AddNewUser()

	if err := vm.ApplyFriendVerification(alice.ID(), bob.ID()); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// Both sides see the pending record with their own direction.
	aliceView := alice.FriendVerificationList()
	if len(aliceView) != 1 || aliceView[0].UserID != bob.ID() || aliceView[0].Direction != VerificationSent {
		t.Fatalf("sender mirror: %+v", aliceView)
	}
	bobView := bob.FriendVerificationList()
	if len(bobView) != 1 || bobView[0].UserID != alice.ID() || bobView[0].Direction != VerificationReceived {
		t.Fatalf("receiver mirror: %+v", bobView)
	}
	if accepted, err := vm.IsFriendVerified(alice.ID(), bob.ID()); err != nil || accepted {
		t.Fatalf("pending record: accepted=%v err=%v", accepted, err)
	}

	if err := vm.AcceptFriendVerification(alice.ID(), bob.ID()); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if !alice.HasFriend(bob.ID()) || !bob.HasFriend(alice.ID()) {
		t.Fatal("friendship not symmetric after acceptance")
	}
	if !m.HasPrivateRoomBetween(alice.ID(), bob.ID()) {
		t.Fatal("acceptance must create the private room")
	}
	if len(alice.FriendVerificationList()) != 0 || len(bob.FriendVerificationList()) != 0 {
		t.Fatal("mirrors must be purged on acceptance")
	}
	if _, err := vm.IsFriendVerified(alice.ID(), bob.ID()); !lmerr.IsCode(err, lmerr.CodeVerificationNotExisted) {
		t.Fatalf("record must be consumed: %v", err)
	}
}

func TestApplyFriendVerificationRejections(t *testing.T) {
	m := newTestManager()
	vm := m.Verifications()
	alice := m.AddNewUser()
	bob := m.AddNewUser()

	if err := vm.ApplyFriendVerification(alice.ID(), alice.ID()); !lmerr.IsCode(err, lmerr.CodeInvalidVerification) {
		t.Fatalf("self apply: %v", err)
	}
	if err := vm.ApplyFriendVerification(alice.ID(), UserID(99999)); !lmerr.IsCode(err, lmerr.CodeUserNotExisted) {
		t.Fatalf("unknown receiver: %v", err)
	}

	if err := vm.ApplyFriendVerification(alice.ID(), bob.ID()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := vm.ApplyFriendVerification(alice.ID(), bob.ID()); !lmerr.IsCode(err, lmerr.CodeVerificationExisted) {
		t.Fatalf("duplicate apply: %v", err)
	}

	// Once the pair shares a private room, further applications fail.
	carol := m.AddNewUser()
	m.AddPrivateRoom(alice.ID(), carol.ID())
	if err := vm.ApplyFriendVerification(carol.ID(), alice.ID()); !lmerr.IsCode(err, lmerr.CodePrivateRoomExisted) {
		t.Fatalf("apply over existing room: %v", err)
	}
}

func TestRejectFriendVerification(t *testing.T) {
	m := newTestManager()
	vm := m.Verifications()
	alice := m.AddNewUser()
	bob := m.AddNewUser()

	if err := vm.RejectFriendVerification(alice.ID(), bob.ID()); !lmerr.IsCode(err, lmerr.CodeVerificationNotExisted) {
		t.Fatalf("reject without record: %v", err)
	}

	if err := vm.ApplyFriendVerification(alice.ID(), bob.ID()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := vm.RejectFriendVerification(alice.ID(), bob.ID()); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if alice.HasFriend(bob.ID()) || m.HasPrivateRoomBetween(alice.ID(), bob.ID()) {
		t.Fatal("rejection must not create a friendship")
	}
	if len(alice.FriendVerificationList()) != 0 || len(bob.FriendVerificationList()) != 0 {
		t.Fatal("mirrors must be purged on rejection")
	}
	// A fresh application is possible after rejection.
	if err := vm.ApplyFriendVerification(alice.ID(), bob.ID()); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
}

func TestGroupVerificationLifecycle(t *testing.T) {
	m := newTestManager()
	vm := m.Verifications()
	admin := m.AddNewUser()
	member := m.AddNewUser()
	applicant := m.AddNewUser()

	groupID := m.AddGroupRoom(admin.ID())
	room, err := m.GetGroupRoom(groupID)
	if err != nil {
		t.Fatalf("GetGroupRoom: %v", err)
	}
	if _, err := room.AddMember(member.ID()); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	if err := vm.ApplyGroupVerification(applicant.ID(), GroupID(99999)); !lmerr.IsCode(err, lmerr.CodeGroupRoomNotExisted) {
		t.Fatalf("unknown group: %v", err)
	}

	if err := vm.ApplyGroupVerification(applicant.ID(), groupID); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := vm.ApplyGroupVerification(applicant.ID(), groupID); !lmerr.IsCode(err, lmerr.CodeVerificationExisted) {
		t.Fatalf("duplicate apply: %v", err)
	}

	// The "Received" mirror lands only on the administrator.
	if got := applicant.GroupVerificationList(); len(got) != 1 || got[0].Direction != VerificationSent {
		t.Fatalf("applicant mirror: %+v", got)
	}
	if got := admin.GroupVerificationList(); len(got) != 1 || got[0].Direction != VerificationReceived || got[0].UserID != applicant.ID() {
		t.Fatalf("administrator mirror: %+v", got)
	}
	if got := member.GroupVerificationList(); len(got) != 0 {
		t.Fatalf("plain member must not see the request: %+v", got)
	}

	if err := vm.AcceptGroupVerification(applicant.ID(), groupID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !room.HasMember(applicant.ID()) {
		t.Fatal("acceptance must add the member")
	}
	if !applicant.HasGroup(groupID) {
		t.Fatal("acceptance must update the applicant's group set")
	}
	if len(applicant.GroupVerificationList()) != 0 || len(admin.GroupVerificationList()) != 0 {
		t.Fatal("mirrors must be purged on acceptance")
	}
	if _, err := vm.IsGroupVerified(applicant.ID(), groupID); !lmerr.IsCode(err, lmerr.CodeVerificationNotExisted) {
		t.Fatalf("record must be consumed: %v", err)
	}
}

func TestFailedGroupAcceptanceKeepsRecordPending(t *testing.T) {
	m := newTestManager()
	vm := m.Verifications()
	admin := m.AddNewUser()
	applicant := m.AddNewUser()
	groupID := m.AddGroupRoom(admin.ID())

	if err := vm.ApplyGroupVerification(applicant.ID(), groupID); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := m.RemoveGroupRoom(groupID); err != nil {
		t.Fatalf("RemoveGroupRoom: %v", err)
	}

	// The group is gone, so acceptance cannot apply its consequence.
	if err := vm.AcceptGroupVerification(applicant.ID(), groupID); err == nil {
		t.Fatal("acceptance must fail for a removed group")
	}

	// The record must not dangle accepted: it stays pending and can
	// still be rejected.
	accepted, err := vm.IsGroupVerified(applicant.ID(), groupID)
	if err != nil {
		t.Fatalf("record must survive the failed acceptance: %v", err)
	}
	if accepted {
		t.Fatal("record must not stay flagged accepted")
	}
	if err := vm.RejectGroupVerification(applicant.ID(), groupID); err != nil {
		t.Fatalf("reject after failed acceptance: %v", err)
	}
}

func TestRejectGroupVerification(t *testing.T) {
	m := newTestManager()
	vm := m.Verifications()
	admin := m.AddNewUser()
	applicant := m.AddNewUser()
	groupID := m.AddGroupRoom(admin.ID())

	if err := vm.RejectGroupVerification(applicant.ID(), groupID); !lmerr.IsCode(err, lmerr.CodeVerificationNotExisted) {
		t.Fatalf("reject without record: %v", err)
	}

	if err := vm.ApplyGroupVerification(applicant.ID(), groupID); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := vm.RejectGroupVerification(applicant.ID(), groupID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	room, _ := m.GetGroupRoom(groupID)
	if room.HasMember(applicant.ID()) || applicant.HasGroup(groupID) {
		t.Fatal("rejection must not grant membership")
	}
}
