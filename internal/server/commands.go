package server

import (
	"sync"

	"github.com/luminet-im/luminet/internal/chat"
	"github.com/luminet-im/luminet/internal/lmerr"
)

// CommandType is a capability bitmask attached to each registered
// command.
type CommandType uint32

// NormalType marks commands that may run before login.
const NormalType CommandType = 1 << 0

type paramKind int

const (
	paramNumber paramKind = iota
	paramString
)

type paramSpec struct {
	name string
	kind paramKind
}

// HandlerFunc executes one command. params has already been validated
// against the command's schema. The returned value becomes the reply's
// message field.
type HandlerFunc func(p *Processor, params map[string]any) (any, error)

// Command couples a handler with its parameter schema and capabilities.
type Command struct {
	Handler HandlerFunc
	Params  []paramSpec
	Type    CommandType
}

// Registry is the name → command table. Registration rejects duplicates
// and nil handlers; lookups are read-locked.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds a command under name. It fails when the name is taken
// or the handler is nil.
func (r *Registry) Register(name string, cmd *Command) error {
	if cmd == nil || cmd.Handler == nil {
		return lmerr.Ef(lmerr.CodeInvalidData, "nil handler for %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[name]; ok {
		return lmerr.Ef(lmerr.CodeInvalidData, "command %q already registered", name)
	}
	r.commands[name] = cmd
	return nil
}

// Lookup resolves a command name.
func (r *Registry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// clientError carries a message meant verbatim for the client, as
// opposed to internal errors which are masked outside debug mode.
type clientError struct {
	msg string
}

func (e *clientError) Error() string { return e.msg }

func clientErrorf(msg string) error { return &clientError{msg: msg} }

func userIDParam(params map[string]any, name string) chat.UserID {
	return chat.UserID(int64(params[name].(float64)))
}

func groupIDParam(params map[string]any, name string) chat.GroupID {
	return chat.GroupID(int64(params[name].(float64)))
}

// defaultRegistry installs the full command vocabulary. login is not
// registered here; the processor special-cases it.
func defaultRegistry() *Registry {
	r := NewRegistry()
	register := func(name string, cmd *Command) {
		// Names are compile-time constants, duplicates are a bug.
		if err := r.Register(name, cmd); err != nil {
			panic(err)
		}
	}

	register("register", &Command{
		Type:    NormalType,
		Params:  []paramSpec{{"password", paramString}},
		Handler: handleRegister,
	})
	register("has_user", &Command{
		Type:    NormalType,
		Params:  []paramSpec{{"user_id", paramNumber}},
		Handler: handleHasUser,
	})
	register("search_user", &Command{
		Type:    NormalType,
		Params:  []paramSpec{{"user_name", paramString}},
		Handler: handleSearchUser,
	})
	register("add_friend", &Command{
		Params:  []paramSpec{{"user_id", paramNumber}},
		Handler: handleAddFriend,
	})
	register("add_group", &Command{
		Params:  []paramSpec{{"group_id", paramNumber}},
		Handler: handleAddGroup,
	})
	register("get_friend_list", &Command{
		Handler: handleGetFriendList,
	})
	register("get_group_list", &Command{
		Handler: handleGetGroupList,
	})
	register("send_friend_message", &Command{
		Params:  []paramSpec{{"user_id", paramNumber}, {"message", paramString}},
		Handler: handleSendFriendMessage,
	})
	register("send_group_message", &Command{
		Params:  []paramSpec{{"group_id", paramNumber}, {"message", paramString}},
		Handler: handleSendGroupMessage,
	})
	register("accept_friend_verification", &Command{
		Params:  []paramSpec{{"user_id", paramNumber}},
		Handler: handleAcceptFriendVerification,
	})
	register("reject_friend_verification", &Command{
		Params:  []paramSpec{{"user_id", paramNumber}},
		Handler: handleRejectFriendVerification,
	})
	register("get_friend_verification_list", &Command{
		Handler: handleGetFriendVerificationList,
	})
	register("accept_group_verification", &Command{
		Params:  []paramSpec{{"group_id", paramNumber}, {"user_id", paramNumber}},
		Handler: handleAcceptGroupVerification,
	})
	register("reject_group_verification", &Command{
		Params:  []paramSpec{{"group_id", paramNumber}, {"user_id", paramNumber}},
		Handler: handleRejectGroupVerification,
	})
	register("get_group_verification_list", &Command{
		Handler: handleGetGroupVerificationList,
	})
	register("create_group", &Command{
		Handler: handleCreateGroup,
	})
	register("remove_group", &Command{
		Params:  []paramSpec{{"group_id", paramNumber}},
		Handler: handleRemoveGroup,
	})
	register("leave_group", &Command{
		Params:  []paramSpec{{"group_id", paramNumber}},
		Handler: handleLeaveGroup,
	})
	register("remove_friend", &Command{
		Params:  []paramSpec{{"user_id", paramNumber}},
		Handler: handleRemoveFriend,
	})

	return r
}

func handleRegister(p *Processor, params map[string]any) (any, error) {
	user := p.manager().AddNewUser()
	if err := user.SetPassword(params["password"].(string)); err != nil {
		return nil, err
	}
	if err := p.store().SetPassword(int64(user.ID()), user.PasswordVerifier()); err != nil {
		p.logger().Warn().Err(err).Int64("user_id", int64(user.ID())).Msg("Store set password failed")
	}
	return map[string]any{"user_id": int64(user.ID())}, nil
}

func handleHasUser(p *Processor, params map[string]any) (any, error) {
	return p.manager().HasUser(userIDParam(params, "user_id")), nil
}

func handleSearchUser(_ *Processor, _ map[string]any) (any, error) {
	return nil, clientErrorf("This function is incomplete.")
}

func handleAddFriend(p *Processor, params map[string]any) (any, error) {
	target := userIDParam(params, "user_id")
	if err := p.manager().Verifications().ApplyFriendVerification(p.userID, target); err != nil {
		return nil, err
	}
	return "Successfully applied friend verification!", nil
}

func handleAddGroup(p *Processor, params map[string]any) (any, error) {
	group := groupIDParam(params, "group_id")
	if err := p.manager().Verifications().ApplyGroupVerification(p.userID, group); err != nil {
		return nil, err
	}
	return "Successfully applied group verification!", nil
}

func handleGetFriendList(p *Processor, _ map[string]any) (any, error) {
	user, err := p.manager().GetUser(p.userID)
	if err != nil {
		return nil, err
	}
	friends := user.FriendList()
	out := make([]int64, len(friends))
	for i, id := range friends {
		out[i] = int64(id)
	}
	return out, nil
}

func handleGetGroupList(p *Processor, _ map[string]any) (any, error) {
	user, err := p.manager().GetUser(p.userID)
	if err != nil {
		return nil, err
	}
	groups := user.GroupList()
	out := make([]int64, len(groups))
	for i, id := range groups {
		out[i] = int64(id)
	}
	return out, nil
}

func handleSendFriendMessage(p *Processor, params map[string]any) (any, error) {
	friend := userIDParam(params, "user_id")
	roomID, err := p.manager().GetPrivateRoomID(p.userID, friend)
	if err != nil {
		return nil, err
	}
	room, err := p.manager().GetPrivateRoom(roomID)
	if err != nil {
		return nil, err
	}
	if err := room.SendMessage(p.userID, params["message"].(string)); err != nil {
		return nil, err
	}
	p.events().PrivateMessage(int64(roomID), int64(p.userID))
	return "Successfully sent message!", nil
}

func handleSendGroupMessage(p *Processor, params map[string]any) (any, error) {
	group := groupIDParam(params, "group_id")
	room, err := p.manager().GetGroupRoom(group)
	if err != nil {
		return nil, err
	}
	if err := room.SendMessage(p.userID, params["message"].(string)); err != nil {
		return nil, err
	}
	p.events().GroupMessage(int64(group), int64(p.userID))
	return "Successfully sent message!", nil
}

func handleAcceptFriendVerification(p *Processor, params map[string]any) (any, error) {
	applicant := userIDParam(params, "user_id")
	if err := p.manager().Verifications().AcceptFriendVerification(applicant, p.userID); err != nil {
		return nil, err
	}
	return "Successfully accepted friend verification!", nil
}

func handleRejectFriendVerification(p *Processor, params map[string]any) (any, error) {
	applicant := userIDParam(params, "user_id")
	if err := p.manager().Verifications().RejectFriendVerification(applicant, p.userID); err != nil {
		return nil, err
	}
	return "Successfully rejected friend verification!", nil
}

func handleGetFriendVerificationList(p *Processor, _ map[string]any) (any, error) {
	user, err := p.manager().GetUser(p.userID)
	if err != nil {
		return nil, err
	}
	verifs := user.FriendVerificationList()
	out := make([]map[string]any, len(verifs))
	for i, v := range verifs {
		out[i] = map[string]any{
			"user_id":           int64(v.UserID),
			"verification_type": v.Direction.String(),
			"time":              v.At.Unix(),
		}
	}
	return out, nil
}

func handleAcceptGroupVerification(p *Processor, params map[string]any) (any, error) {
	group := groupIDParam(params, "group_id")
	applicant := userIDParam(params, "user_id")
	room, err := p.manager().GetGroupRoom(group)
	if err != nil {
		return nil, err
	}
	if room.Administrator() != p.userID {
		return nil, lmerr.Ef(lmerr.CodeNoPermission, "user %d is not the administrator of group %d", p.userID, group)
	}
	if err := p.manager().Verifications().AcceptGroupVerification(applicant, group); err != nil {
		return nil, err
	}
	return "Successfully accepted group verification!", nil
}

func handleRejectGroupVerification(p *Processor, params map[string]any) (any, error) {
	group := groupIDParam(params, "group_id")
	applicant := userIDParam(params, "user_id")
	room, err := p.manager().GetGroupRoom(group)
	if err != nil {
		return nil, err
	}
	if room.Administrator() != p.userID {
		return nil, lmerr.Ef(lmerr.CodeNoPermission, "user %d is not the administrator of group %d", p.userID, group)
	}
	if err := p.manager().Verifications().RejectGroupVerification(applicant, group); err != nil {
		return nil, err
	}
	return "Successfully rejected group verification!", nil
}

func handleGetGroupVerificationList(p *Processor, _ map[string]any) (any, error) {
	user, err := p.manager().GetUser(p.userID)
	if err != nil {
		return nil, err
	}
	verifs := user.GroupVerificationList()
	out := make([]map[string]any, len(verifs))
	for i, v := range verifs {
		out[i] = map[string]any{
			"group_id":          int64(v.GroupID),
			"user_id":           int64(v.UserID),
			"verification_type": v.Direction.String(),
			"time":              v.At.Unix(),
		}
	}
	return out, nil
}

func handleCreateGroup(p *Processor, _ map[string]any) (any, error) {
	user, err := p.manager().GetUser(p.userID)
	if err != nil {
		return nil, err
	}
	id := p.manager().AddGroupRoom(p.userID)
	user.UpdateGroupList(func(groups map[chat.GroupID]struct{}) {
		groups[id] = struct{}{}
	})
	p.events().GroupCreated(int64(id), int64(p.userID))
	return map[string]any{"group_id": int64(id)}, nil
}

func handleRemoveGroup(p *Processor, params map[string]any) (any, error) {
	group := groupIDParam(params, "group_id")
	room, err := p.manager().GetGroupRoom(group)
	if err != nil {
		return nil, err
	}
	if room.Administrator() != p.userID {
		return nil, lmerr.Ef(lmerr.CodeNoPermission, "user %d is not the administrator of group %d", p.userID, group)
	}
	for _, member := range room.MemberList() {
		if user, err := p.manager().GetUser(member); err == nil {
			user.UpdateGroupList(func(groups map[chat.GroupID]struct{}) {
				delete(groups, group)
			})
		}
	}
	if err := p.manager().RemoveGroupRoom(group); err != nil {
		return nil, err
	}
	return "Successfully removed group!", nil
}

func handleLeaveGroup(p *Processor, params map[string]any) (any, error) {
	group := groupIDParam(params, "group_id")
	room, err := p.manager().GetGroupRoom(group)
	if err != nil {
		return nil, err
	}
	if err := room.RemoveMember(p.userID); err != nil {
		return nil, err
	}
	user, err := p.manager().GetUser(p.userID)
	if err != nil {
		return nil, err
	}
	user.UpdateGroupList(func(groups map[chat.GroupID]struct{}) {
		delete(groups, group)
	})
	return "Successfully left group!", nil
}

func handleRemoveFriend(p *Processor, params map[string]any) (any, error) {
	friend := userIDParam(params, "user_id")
	roomID, err := p.manager().GetPrivateRoomID(p.userID, friend)
	if err != nil {
		return nil, err
	}
	if err := p.manager().RemovePrivateRoom(roomID); err != nil {
		return nil, err
	}

	if user, err := p.manager().GetUser(p.userID); err == nil {
		user.UpdateFriendList(func(friends map[chat.UserID]struct{}) {
			delete(friends, friend)
		})
	}
	if other, err := p.manager().GetUser(friend); err == nil {
		other.UpdateFriendList(func(friends map[chat.UserID]struct{}) {
			delete(friends, p.userID)
		})
	}
	if err := p.store().RemoveFriendship(int64(p.userID), int64(friend)); err != nil {
		p.logger().Warn().Err(err).Msg("Store remove friendship failed")
	}
	return "Successfully removed friend!", nil
}
