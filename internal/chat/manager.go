package chat

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/luminet-im/luminet/internal/lmerr"
	"github.com/luminet-im/luminet/internal/monitoring"
	"github.com/luminet-im/luminet/internal/store"
)

// privatePair keys the private-room index. Pairs are stored in the order
// the room was created with; lookups try both orders.
type privatePair struct {
	a UserID
	b UserID
}

// Manager is the process-wide registry of users, rooms and connection
// bindings. All maps are guarded by their own RWMutex; operations that
// touch several maps take the locks in a fixed order: connection map,
// user map, group-room map, private-room map, private-room index.
type Manager struct {
	ctx    context.Context
	logger zerolog.Logger
	store  store.Store

	connMu sync.RWMutex
	conns  map[Endpoint]UserID

	userMu sync.RWMutex
	users  map[UserID]*User

	groupMu sync.RWMutex
	groups  map[GroupID]*GroupRoom

	privMu   sync.RWMutex
	privates map[GroupID]*PrivateRoom

	privIdxMu sync.RWMutex
	privIndex map[privatePair]GroupID

	nextUserID        atomic.Int64
	nextPrivateRoomID atomic.Int64
	nextGroupRoomID   atomic.Int64

	verifications *VerificationManager
}

// NewManager creates an empty registry. Room pruners stop when ctx is
// cancelled. st may be store.Noop{}.
func NewManager(ctx context.Context, logger zerolog.Logger, st store.Store) *Manager {
	m := &Manager{
		ctx:       ctx,
		logger:    logger.With().Str("component", "manager").Logger(),
		store:     st,
		conns:     make(map[Endpoint]UserID),
		users:     make(map[UserID]*User),
		groups:    make(map[GroupID]*GroupRoom),
		privates:  make(map[GroupID]*PrivateRoom),
		privIndex: make(map[privatePair]GroupID),
	}
	m.nextUserID.Store(BaseID)
	m.nextPrivateRoomID.Store(BaseID)
	m.nextGroupRoomID.Store(BaseID)
	m.verifications = newVerificationManager(m)
	return m
}

// Verifications returns the verification workflows bound to this
// registry.
func (m *Manager) Verifications() *VerificationManager {
	return m.verifications
}

// AddNewUser allocates a UserID and registers a fresh user.
func (m *Manager) AddNewUser() *User {
	id := UserID(m.nextUserID.Add(1) - 1)
	user := newUser(id)

	m.userMu.Lock()
	m.users[id] = user
	m.userMu.Unlock()

	if err := m.store.CreateUser(int64(id)); err != nil {
		m.logger.Warn().Err(err).Int64("user_id", int64(id)).Msg("Store create user failed")
	}
	m.logger.Info().Int64("user_id", int64(id)).Msg("User registered")
	return user
}

// HasUser reports whether id is registered.
func (m *Manager) HasUser(id UserID) bool {
	m.userMu.RLock()
	defer m.userMu.RUnlock()
	_, ok := m.users[id]
	return ok
}

// GetUser returns the user or user_not_existed.
func (m *Manager) GetUser(id UserID) (*User, error) {
	m.userMu.RLock()
	defer m.userMu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return nil, lmerr.Ef(lmerr.CodeUserNotExisted, "user %d", id)
	}
	return user, nil
}

// GetUserList returns a snapshot of the user map.
func (m *Manager) GetUserList() map[UserID]*User {
	m.userMu.RLock()
	defer m.userMu.RUnlock()
	out := make(map[UserID]*User, len(m.users))
	for id, u := range m.users {
		out[id] = u
	}
	return out
}

// AddPrivateRoom allocates an id and installs a room for (u1, u2) in
// both the id map and the pair index. Callers must have checked that no
// room exists for the pair.
func (m *Manager) AddPrivateRoom(u1, u2 UserID) GroupID {
	id := GroupID(m.nextPrivateRoomID.Add(1) - 1)
	p := newPrivateRoom(m, id, u1, u2)

	m.privMu.Lock()
	m.privates[id] = p
	active := len(m.privates)
	m.privMu.Unlock()

	m.privIdxMu.Lock()
	m.privIndex[privatePair{a: u1, b: u2}] = id
	m.privIdxMu.Unlock()

	monitoring.SetActiveRooms("private", active)
	if err := m.store.CreatePrivateRoom(int64(id), int64(u1), int64(u2)); err != nil {
		m.logger.Warn().Err(err).Int64("room_id", int64(id)).Msg("Store create private room failed")
	}
	m.logger.Info().
		Int64("room_id", int64(id)).
		Int64("user1", int64(u1)).
		Int64("user2", int64(u2)).
		Msg("Private room created")
	return id
}

// HasPrivateRoom reports whether a private room with this id exists.
func (m *Manager) HasPrivateRoom(id GroupID) bool {
	m.privMu.RLock()
	defer m.privMu.RUnlock()
	_, ok := m.privates[id]
	return ok
}

// HasPrivateRoomBetween reports whether a private room exists for the
// pair, in either order.
func (m *Manager) HasPrivateRoomBetween(u1, u2 UserID) bool {
	m.privIdxMu.RLock()
	defer m.privIdxMu.RUnlock()
	if _, ok := m.privIndex[privatePair{a: u1, b: u2}]; ok {
		return true
	}
	_, ok := m.privIndex[privatePair{a: u2, b: u1}]
	return ok
}

// GetPrivateRoomID resolves the pair, in either order, to the room id.
func (m *Manager) GetPrivateRoomID(u1, u2 UserID) (GroupID, error) {
	m.privIdxMu.RLock()
	defer m.privIdxMu.RUnlock()
	if id, ok := m.privIndex[privatePair{a: u1, b: u2}]; ok {
		return id, nil
	}
	if id, ok := m.privIndex[privatePair{a: u2, b: u1}]; ok {
		return id, nil
	}
	return 0, lmerr.Ef(lmerr.CodePrivateRoomNotExisted, "users %d and %d", u1, u2)
}

// GetPrivateRoom returns the room or private_room_not_existed.
func (m *Manager) GetPrivateRoom(id GroupID) (*PrivateRoom, error) {
	m.privMu.RLock()
	defer m.privMu.RUnlock()
	p, ok := m.privates[id]
	if !ok {
		return nil, lmerr.Ef(lmerr.CodePrivateRoomNotExisted, "room %d", id)
	}
	return p, nil
}

// RemovePrivateRoom drops the room from the id map and from whichever
// orientation the pair index holds, and marks the room unusable.
func (m *Manager) RemovePrivateRoom(id GroupID) error {
	m.privMu.Lock()
	p, ok := m.privates[id]
	if !ok {
		m.privMu.Unlock()
		return lmerr.Ef(lmerr.CodePrivateRoomNotExisted, "room %d", id)
	}
	delete(m.privates, id)
	active := len(m.privates)
	m.privMu.Unlock()

	u1, u2 := p.Users()
	m.privIdxMu.Lock()
	delete(m.privIndex, privatePair{a: u1, b: u2})
	delete(m.privIndex, privatePair{a: u2, b: u1})
	m.privIdxMu.Unlock()

	p.removeThisRoom()
	monitoring.SetActiveRooms("private", active)
	if err := m.store.RemovePrivateRoom(int64(id)); err != nil {
		m.logger.Warn().Err(err).Int64("room_id", int64(id)).Msg("Store remove private room failed")
	}
	m.logger.Info().Int64("room_id", int64(id)).Msg("Private room removed")
	return nil
}

// AddGroupRoom allocates an id and installs a group room with creator
// as administrator and sole member.
func (m *Manager) AddGroupRoom(creator UserID) GroupID {
	id := GroupID(m.nextGroupRoomID.Add(1) - 1)
	g := newGroupRoom(m, id, creator)

	m.groupMu.Lock()
	m.groups[id] = g
	active := len(m.groups)
	m.groupMu.Unlock()

	monitoring.SetActiveRooms("group", active)
	if err := m.store.CreateGroupRoom(int64(id), int64(creator)); err != nil {
		m.logger.Warn().Err(err).Int64("room_id", int64(id)).Msg("Store create group room failed")
	}
	m.logger.Info().
		Int64("room_id", int64(id)).
		Int64("administrator", int64(creator)).
		Msg("Group room created")
	return id
}

// HasGroupRoom reports whether a group room with this id exists.
func (m *Manager) HasGroupRoom(id GroupID) bool {
	m.groupMu.RLock()
	defer m.groupMu.RUnlock()
	_, ok := m.groups[id]
	return ok
}

// GetGroupRoom returns the room or group_room_not_existed.
func (m *Manager) GetGroupRoom(id GroupID) (*GroupRoom, error) {
	m.groupMu.RLock()
	defer m.groupMu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, lmerr.Ef(lmerr.CodeGroupRoomNotExisted, "room %d", id)
	}
	return g, nil
}

// RemoveGroupRoom drops the room and marks it unusable.
func (m *Manager) RemoveGroupRoom(id GroupID) error {
	m.groupMu.Lock()
	g, ok := m.groups[id]
	if !ok {
		m.groupMu.Unlock()
		return lmerr.Ef(lmerr.CodeGroupRoomNotExisted, "room %d", id)
	}
	delete(m.groups, id)
	active := len(m.groups)
	m.groupMu.Unlock()

	g.removeThisRoom()
	monitoring.SetActiveRooms("group", active)
	if err := m.store.RemoveGroupRoom(int64(id)); err != nil {
		m.logger.Warn().Err(err).Int64("room_id", int64(id)).Msg("Store remove group room failed")
	}
	m.logger.Info().Int64("room_id", int64(id)).Msg("Group room removed")
	return nil
}

// RegisterConnection installs conn as an unbound connection.
func (m *Manager) RegisterConnection(conn Endpoint) error {
	if conn == nil {
		return lmerr.E(lmerr.CodeNullSocketPointer)
	}
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if _, ok := m.conns[conn]; ok {
		return lmerr.E(lmerr.CodeSocketPointerExisted)
	}
	m.conns[conn] = InvalidUserID
	return nil
}

// HasConnection reports whether conn is registered.
func (m *Manager) HasConnection(conn Endpoint) bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	_, ok := m.conns[conn]
	return ok
}

// MatchUserOfConnection reports whether conn is currently bound to id.
func (m *Manager) MatchUserOfConnection(conn Endpoint, id UserID) bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	bound, ok := m.conns[conn]
	return ok && bound == id
}

// GetUserIDOfConnection returns the bound user, InvalidUserID when
// unbound, or socket_pointer_not_existed.
func (m *Manager) GetUserIDOfConnection(conn Endpoint) (UserID, error) {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	id, ok := m.conns[conn]
	if !ok {
		return InvalidUserID, lmerr.E(lmerr.CodeSocketPointerNotExisted)
	}
	return id, nil
}

// ModifyUserOfConnection atomically rebinds conn: the previous user, if
// any, loses the endpoint and the new user gains it with the given
// device. Fails when conn or the user is unknown.
func (m *Manager) ModifyUserOfConnection(conn Endpoint, id UserID, device DeviceType) error {
	if conn == nil {
		return lmerr.E(lmerr.CodeNullSocketPointer)
	}

	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.userMu.RLock()
	defer m.userMu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return lmerr.Ef(lmerr.CodeUserNotExisted, "user %d", id)
	}
	prev, ok := m.conns[conn]
	if !ok {
		return lmerr.E(lmerr.CodeSocketPointerNotExisted)
	}
	if prev != InvalidUserID {
		if prevUser, pok := m.users[prev]; pok {
			prevUser.removeConnection(conn)
		}
	}
	user.addConnection(conn, device)
	m.conns[conn] = id
	return nil
}

// RemoveConnection unbinds and deregisters conn. Removing an unknown
// connection is a no-op.
func (m *Manager) RemoveConnection(conn Endpoint) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	id, ok := m.conns[conn]
	if !ok {
		return
	}
	if id != InvalidUserID {
		m.userMu.RLock()
		if user, uok := m.users[id]; uok {
			user.removeConnection(conn)
		}
		m.userMu.RUnlock()
	}
	delete(m.conns, conn)
}

// ConnectionCount returns the number of registered connections.
func (m *Manager) ConnectionCount() int {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return len(m.conns)
}
