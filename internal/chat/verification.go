package chat

import (
	"sync"
	"time"

	"github.com/luminet-im/luminet/internal/lmerr"
)

// VerificationManager tracks pending friend and group-join requests.
// Each pending record is mirrored onto the users who can see it: both
// parties for a friend request, the applicant and the current group
// administrator for a group-join request.
//
// Acceptance is terminal: the record flips to accepted, the consequence
// is applied (friendship plus private room, or group membership), and
// the record with its mirrors is removed in the same call.
type VerificationManager struct {
	manager *Manager

	friendMu sync.Mutex
	friends  map[friendVerifKey]bool // accepted flag

	groupMu sync.Mutex
	groups  map[groupVerifKey]bool

	// test hook, defaults to time.Now
	now func() time.Time
}

// friendVerifKey is ordered: the applicant first, the receiver second.
type friendVerifKey struct {
	sender   UserID
	receiver UserID
}

func newVerificationManager(m *Manager) *VerificationManager {
	return &VerificationManager{
		manager: m,
		friends: make(map[friendVerifKey]bool),
		groups:  make(map[groupVerifKey]bool),
		now:     time.Now,
	}
}

// ApplyFriendVerification files a friend request from sender to
// receiver. It fails when the users are the same, either is unknown, a
// private room already links them, or an identical request is pending.
func (vm *VerificationManager) ApplyFriendVerification(sender, receiver UserID) error {
	if sender == receiver {
		return lmerr.Ef(lmerr.CodeInvalidVerification, "self verification from %d", sender)
	}
	senderUser, err := vm.manager.GetUser(sender)
	if err != nil {
		return err
	}
	receiverUser, err := vm.manager.GetUser(receiver)
	if err != nil {
		return err
	}
	if vm.manager.HasPrivateRoomBetween(sender, receiver) {
		return lmerr.Ef(lmerr.CodePrivateRoomExisted, "users %d and %d", sender, receiver)
	}

	vm.friendMu.Lock()
	if _, ok := vm.friends[friendVerifKey{sender: sender, receiver: receiver}]; ok {
		vm.friendMu.Unlock()
		return lmerr.E(lmerr.CodeVerificationExisted)
	}
	vm.friends[friendVerifKey{sender: sender, receiver: receiver}] = false
	vm.friendMu.Unlock()

	at := vm.now().UTC()
	senderUser.addFriendVerification(receiver, FriendVerification{
		UserID: receiver, Direction: VerificationSent, At: at,
	})
	receiverUser.addFriendVerification(sender, FriendVerification{
		UserID: sender, Direction: VerificationReceived, At: at,
	})
	return nil
}

// HasFriendVerification reports whether a request from sender to
// receiver is pending or accepted-but-not-yet-consumed.
func (vm *VerificationManager) HasFriendVerification(sender, receiver UserID) bool {
	if sender == receiver {
		return false
	}
	vm.friendMu.Lock()
	defer vm.friendMu.Unlock()
	_, ok := vm.friends[friendVerifKey{sender: sender, receiver: receiver}]
	return ok
}

// IsFriendVerified returns the accepted flag of a pending request, or
// verification_not_existed.
func (vm *VerificationManager) IsFriendVerified(sender, receiver UserID) (bool, error) {
	vm.friendMu.Lock()
	defer vm.friendMu.Unlock()
	accepted, ok := vm.friends[friendVerifKey{sender: sender, receiver: receiver}]
	if !ok {
		return false, lmerr.E(lmerr.CodeVerificationNotExisted)
	}
	return accepted, nil
}

// AcceptFriendVerification accepts the pending request from sender to
// receiver: both users gain the other as a friend, a private room is
// created, and the record and its mirrors are removed.
func (vm *VerificationManager) AcceptFriendVerification(sender, receiver UserID) error {
	if sender == receiver {
		return lmerr.Ef(lmerr.CodeInvalidVerification, "self verification from %d", sender)
	}

	vm.friendMu.Lock()
	key := friendVerifKey{sender: sender, receiver: receiver}
	if _, ok := vm.friends[key]; !ok {
		vm.friendMu.Unlock()
		return lmerr.E(lmerr.CodeVerificationNotExisted)
	}
	vm.friends[key] = true
	vm.friendMu.Unlock()

	senderUser, err := vm.manager.GetUser(sender)
	if err != nil {
		vm.revertFriendAccept(key)
		return err
	}
	receiverUser, err := vm.manager.GetUser(receiver)
	if err != nil {
		vm.revertFriendAccept(key)
		return err
	}

	vm.manager.AddPrivateRoom(sender, receiver)
	senderUser.UpdateFriendList(func(friends map[UserID]struct{}) {
		friends[receiver] = struct{}{}
	})
	receiverUser.UpdateFriendList(func(friends map[UserID]struct{}) {
		friends[sender] = struct{}{}
	})
	if err := vm.manager.store.AddFriendship(int64(sender), int64(receiver)); err != nil {
		vm.manager.logger.Warn().Err(err).
			Int64("sender", int64(sender)).
			Int64("receiver", int64(receiver)).
			Msg("Store add friendship failed")
	}

	return vm.RemoveFriendVerification(sender, receiver)
}

// revertFriendAccept clears the accepted flag when a consequence could
// not be applied, so the record stays pending instead of dangling
// accepted-but-unconsumed.
func (vm *VerificationManager) revertFriendAccept(key friendVerifKey) {
	vm.friendMu.Lock()
	if _, ok := vm.friends[key]; ok {
		vm.friends[key] = false
	}
	vm.friendMu.Unlock()
}

// RejectFriendVerification discards the pending request and its
// mirrors.
func (vm *VerificationManager) RejectFriendVerification(sender, receiver UserID) error {
	return vm.RemoveFriendVerification(sender, receiver)
}

// RemoveFriendVerification deletes the record and purges both mirrors.
func (vm *VerificationManager) RemoveFriendVerification(sender, receiver UserID) error {
	vm.friendMu.Lock()
	key := friendVerifKey{sender: sender, receiver: receiver}
	if _, ok := vm.friends[key]; !ok {
		vm.friendMu.Unlock()
		return lmerr.E(lmerr.CodeVerificationNotExisted)
	}
	delete(vm.friends, key)
	vm.friendMu.Unlock()

	if senderUser, err := vm.manager.GetUser(sender); err == nil {
		senderUser.removeFriendVerification(receiver)
	}
	if receiverUser, err := vm.manager.GetUser(receiver); err == nil {
		receiverUser.removeFriendVerification(sender)
	}
	return nil
}

// ApplyGroupVerification files a join request by sender for group. The
// "Received" mirror is placed only on the current administrator.
func (vm *VerificationManager) ApplyGroupVerification(sender UserID, group GroupID) error {
	room, err := vm.manager.GetGroupRoom(group)
	if err != nil {
		return err
	}
	senderUser, err := vm.manager.GetUser(sender)
	if err != nil {
		return err
	}

	vm.groupMu.Lock()
	key := groupVerifKey{group: group, applicant: sender}
	if _, ok := vm.groups[key]; ok {
		vm.groupMu.Unlock()
		return lmerr.E(lmerr.CodeVerificationExisted)
	}
	vm.groups[key] = false
	vm.groupMu.Unlock()

	at := vm.now().UTC()
	senderUser.addGroupVerification(GroupVerification{
		GroupID: group, UserID: sender, Direction: VerificationSent, At: at,
	})
	if adminUser, err := vm.manager.GetUser(room.Administrator()); err == nil {
		adminUser.addGroupVerification(GroupVerification{
			GroupID: group, UserID: sender, Direction: VerificationReceived, At: at,
		})
	}
	return nil
}

// HasGroupVerification reports whether a join request by sender for
// group is on file.
func (vm *VerificationManager) HasGroupVerification(sender UserID, group GroupID) bool {
	vm.groupMu.Lock()
	defer vm.groupMu.Unlock()
	_, ok := vm.groups[groupVerifKey{group: group, applicant: sender}]
	return ok
}

// IsGroupVerified returns the accepted flag of a pending join request,
// or verification_not_existed.
func (vm *VerificationManager) IsGroupVerified(sender UserID, group GroupID) (bool, error) {
	vm.groupMu.Lock()
	defer vm.groupMu.Unlock()
	accepted, ok := vm.groups[groupVerifKey{group: group, applicant: sender}]
	if !ok {
		return false, lmerr.E(lmerr.CodeVerificationNotExisted)
	}
	return accepted, nil
}

// AcceptGroupVerification accepts the join request: sender becomes a
// member of the group and the record with its mirrors is removed.
func (vm *VerificationManager) AcceptGroupVerification(sender UserID, group GroupID) error {
	vm.groupMu.Lock()
	key := groupVerifKey{group: group, applicant: sender}
	if _, ok := vm.groups[key]; !ok {
		vm.groupMu.Unlock()
		return lmerr.E(lmerr.CodeVerificationNotExisted)
	}
	vm.groups[key] = true
	vm.groupMu.Unlock()

	room, err := vm.manager.GetGroupRoom(group)
	if err != nil {
		vm.revertGroupAccept(key)
		return err
	}
	senderUser, err := vm.manager.GetUser(sender)
	if err != nil {
		vm.revertGroupAccept(key)
		return err
	}
	if _, err := room.AddMember(sender); err != nil {
		vm.revertGroupAccept(key)
		return err
	}
	senderUser.UpdateGroupList(func(groups map[GroupID]struct{}) {
		groups[group] = struct{}{}
	})

	return vm.RemoveGroupVerification(sender, group)
}

// revertGroupAccept clears the accepted flag when a consequence could
// not be applied, so the record stays pending.
func (vm *VerificationManager) revertGroupAccept(key groupVerifKey) {
	vm.groupMu.Lock()
	if _, ok := vm.groups[key]; ok {
		vm.groups[key] = false
	}
	vm.groupMu.Unlock()
}

// RejectGroupVerification discards the join request and its mirrors.
func (vm *VerificationManager) RejectGroupVerification(sender UserID, group GroupID) error {
	return vm.RemoveGroupVerification(sender, group)
}

// RemoveGroupVerification deletes the record and purges the mirrors on
// the applicant and the administrator.
func (vm *VerificationManager) RemoveGroupVerification(sender UserID, group GroupID) error {
	vm.groupMu.Lock()
	key := groupVerifKey{group: group, applicant: sender}
	if _, ok := vm.groups[key]; !ok {
		vm.groupMu.Unlock()
		return lmerr.E(lmerr.CodeVerificationNotExisted)
	}
	delete(vm.groups, key)
	vm.groupMu.Unlock()

	if senderUser, err := vm.manager.GetUser(sender); err == nil {
		senderUser.removeGroupVerification(group, sender)
	}
	if room, err := vm.manager.GetGroupRoom(group); err == nil {
		if adminUser, err := vm.manager.GetUser(room.Administrator()); err == nil {
			adminUser.removeGroupVerification(group, sender)
		}
	}
	return nil
}
