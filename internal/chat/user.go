package chat

import (
	"crypto/sha256"
	"crypto/subtle"
	"sort"
	"sync"

	"github.com/luminet-im/luminet/internal/lmerr"
)

// User is one registered account. A user may hold several live
// connections at once (one per device); fanout writes to all of them.
//
// Connection membership is mutated only by the Manager, which keeps the
// endpoint set consistent with its own connection registry.
type User struct {
	id UserID

	pwMu       sync.RWMutex
	verifier   []byte // sha256 of the password, nil until set
	hasPass    bool

	connMu    sync.RWMutex
	endpoints map[Endpoint]DeviceType

	relMu   sync.RWMutex
	friends map[UserID]struct{}
	groups  map[GroupID]struct{}

	verifMu      sync.RWMutex
	friendVerifs map[UserID]FriendVerification
	groupVerifs  map[groupVerifKey]GroupVerification
}

type groupVerifKey struct {
	group     GroupID
	applicant UserID
}

func newUser(id UserID) *User {
	return &User{
		id:           id,
		endpoints:    make(map[Endpoint]DeviceType),
		friends:      make(map[UserID]struct{}),
		groups:       make(map[GroupID]struct{}),
		friendVerifs: make(map[UserID]FriendVerification),
		groupVerifs:  make(map[groupVerifKey]GroupVerification),
	}
}

// ID returns the user's identifier.
func (u *User) ID() UserID {
	return u.id
}

// SetPassword stores the password verifier. It can succeed only once;
// later calls fail with password_already_set regardless of the value.
func (u *User) SetPassword(password string) error {
	u.pwMu.Lock()
	defer u.pwMu.Unlock()
	if u.hasPass {
		return lmerr.E(lmerr.CodePasswordAlreadySet)
	}
	sum := sha256.Sum256([]byte(password))
	u.verifier = sum[:]
	u.hasPass = true
	return nil
}

// CheckPassword reports whether password matches the stored verifier.
// It is false when no password has been set yet.
func (u *User) CheckPassword(password string) bool {
	u.pwMu.RLock()
	defer u.pwMu.RUnlock()
	if !u.hasPass {
		return false
	}
	sum := sha256.Sum256([]byte(password))
	return subtle.ConstantTimeCompare(sum[:], u.verifier) == 1
}

// HasPassword reports whether SetPassword has succeeded.
func (u *User) HasPassword() bool {
	u.pwMu.RLock()
	defer u.pwMu.RUnlock()
	return u.hasPass
}

// PasswordVerifier returns a copy of the stored verifier, nil when no
// password has been set. Used to persist the credential.
func (u *User) PasswordVerifier() []byte {
	u.pwMu.RLock()
	defer u.pwMu.RUnlock()
	if !u.hasPass {
		return nil
	}
	verifier := make([]byte, len(u.verifier))
	copy(verifier, u.verifier)
	return verifier
}

// addConnection binds an endpoint with its device type. Manager only.
func (u *User) addConnection(ep Endpoint, device DeviceType) {
	u.connMu.Lock()
	defer u.connMu.Unlock()
	u.endpoints[ep] = device
}

// removeConnection unbinds an endpoint. Manager only.
func (u *User) removeConnection(ep Endpoint) {
	u.connMu.Lock()
	defer u.connMu.Unlock()
	delete(u.endpoints, ep)
}

// Connections returns a snapshot of the user's live endpoints.
func (u *User) Connections() map[Endpoint]DeviceType {
	u.connMu.RLock()
	defer u.connMu.RUnlock()
	out := make(map[Endpoint]DeviceType, len(u.endpoints))
	for ep, dev := range u.endpoints {
		out[ep] = dev
	}
	return out
}

// Send writes payload to every live endpoint of the user. Failed
// endpoints are skipped; delivery is best effort.
func (u *User) Send(payload []byte) {
	for ep := range u.Connections() {
		_ = ep.Send(payload)
	}
}

// HasFriend reports whether id is in the friend list.
func (u *User) HasFriend(id UserID) bool {
	u.relMu.RLock()
	defer u.relMu.RUnlock()
	_, ok := u.friends[id]
	return ok
}

// FriendList returns the friend IDs in ascending order.
func (u *User) FriendList() []UserID {
	u.relMu.RLock()
	defer u.relMu.RUnlock()
	out := make([]UserID, 0, len(u.friends))
	for id := range u.friends {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UpdateFriendList runs fn against the live friend set under the write
// lock. Used by the verification workflow to commit friendships.
func (u *User) UpdateFriendList(fn func(friends map[UserID]struct{})) {
	u.relMu.Lock()
	defer u.relMu.Unlock()
	fn(u.friends)
}

// HasGroup reports whether the user is a member of group id.
func (u *User) HasGroup(id GroupID) bool {
	u.relMu.RLock()
	defer u.relMu.RUnlock()
	_, ok := u.groups[id]
	return ok
}

// GroupList returns the group IDs in ascending order.
func (u *User) GroupList() []GroupID {
	u.relMu.RLock()
	defer u.relMu.RUnlock()
	out := make([]GroupID, 0, len(u.groups))
	for id := range u.groups {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UpdateGroupList runs fn against the live group set under the write
// lock.
func (u *User) UpdateGroupList(fn func(groups map[GroupID]struct{})) {
	u.relMu.Lock()
	defer u.relMu.Unlock()
	fn(u.groups)
}

// addFriendVerification mirrors a pending friend request, keyed by the
// other party. VerificationManager only.
func (u *User) addFriendVerification(other UserID, v FriendVerification) {
	u.verifMu.Lock()
	defer u.verifMu.Unlock()
	u.friendVerifs[other] = v
}

func (u *User) removeFriendVerification(other UserID) {
	u.verifMu.Lock()
	defer u.verifMu.Unlock()
	delete(u.friendVerifs, other)
}

// FriendVerificationList returns the user's pending friend requests,
// both directions, ordered by the other party's ID.
func (u *User) FriendVerificationList() []FriendVerification {
	u.verifMu.RLock()
	defer u.verifMu.RUnlock()
	out := make([]FriendVerification, 0, len(u.friendVerifs))
	for _, v := range u.friendVerifs {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// addGroupVerification mirrors a pending group-join request.
// VerificationManager only.
func (u *User) addGroupVerification(v GroupVerification) {
	u.verifMu.Lock()
	defer u.verifMu.Unlock()
	u.groupVerifs[groupVerifKey{group: v.GroupID, applicant: v.UserID}] = v
}

func (u *User) removeGroupVerification(group GroupID, applicant UserID) {
	u.verifMu.Lock()
	defer u.verifMu.Unlock()
	delete(u.groupVerifs, groupVerifKey{group: group, applicant: applicant})
}

// GroupVerificationList returns the user's pending group-join requests,
// ordered by group then applicant.
func (u *User) GroupVerificationList() []GroupVerification {
	u.verifMu.RLock()
	defer u.verifMu.RUnlock()
	out := make([]GroupVerification, 0, len(u.groupVerifs))
	for _, v := range u.groupVerifs {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GroupID != out[j].GroupID {
			return out[i].GroupID < out[j].GroupID
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}
