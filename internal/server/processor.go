package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/luminet-im/luminet/internal/chat"
	"github.com/luminet-im/luminet/internal/events"
	"github.com/luminet-im/luminet/internal/lmerr"
	"github.com/luminet-im/luminet/internal/monitoring"
	"github.com/luminet-im/luminet/internal/protocol"
	"github.com/luminet-im/luminet/internal/store"
)

// Exact reply strings of the command protocol. Clients match on them.
const (
	msgNotDict          = "The data body must be json dictory type!"
	msgNoFunction       = "\"function\" must be included in json dictory!"
	msgNoParameters     = "\"parameters\" must be included in json dictory!"
	msgFunctionNotStr   = "\"function\" must be string type!"
	msgParametersNotMap = "\"parameters\" must be dictory type!"
	msgNotLoggedIn      = "You haven't logged in!"
	msgNoSuchFunction   = "There isn't a function that matches the name!"
	msgWrongCredentials = "The user ID or password is wrong!"
	msgLoggedIn         = "Successfully logged in!"
	msgUnknownError     = "Unknown error occured!"
)

var loginParams = []paramSpec{
	{"user_id", paramNumber},
	{"password", paramString},
	{"device", paramString},
}

// Processor dispatches the JSON command protocol of one connection. It
// tracks the connection's bound user, initially none. Process is called
// only from the connection's read loop, so userID needs no lock; the
// handler runs on the worker pool but is awaited before Process
// returns.
type Processor struct {
	conn   *Connection
	userID chat.UserID
}

func newProcessor(c *Connection) *Processor {
	return &Processor{conn: c, userID: chat.InvalidUserID}
}

func (p *Processor) manager() *chat.Manager   { return p.conn.server.manager }
func (p *Processor) events() events.Publisher { return p.conn.server.events }
func (p *Processor) store() store.Store       { return p.conn.server.store }
func (p *Processor) logger() *zerolog.Logger  { return &p.conn.logger }

// Process answers one Text frame. Per-request failures reply with an
// error and return nil; only a handler timeout is fatal to the
// connection.
func (p *Processor) Process(pkg *protocol.DataPackage) error {
	var envelope map[string]any
	if err := json.Unmarshal(pkg.Data, &envelope); err != nil {
		p.replyError(pkg.RequestID, msgNotDict)
		return nil
	}

	rawFunction, ok := envelope["function"]
	if !ok {
		p.replyError(pkg.RequestID, msgNoFunction)
		return nil
	}
	rawParameters, ok := envelope["parameters"]
	if !ok {
		p.replyError(pkg.RequestID, msgNoParameters)
		return nil
	}
	function, ok := rawFunction.(string)
	if !ok {
		p.replyError(pkg.RequestID, msgFunctionNotStr)
		return nil
	}
	params, ok := rawParameters.(map[string]any)
	if !ok {
		p.replyError(pkg.RequestID, msgParametersNotMap)
		return nil
	}

	var (
		schema  []paramSpec
		handler HandlerFunc
	)
	switch {
	case function == "login":
		schema, handler = loginParams, (*Processor).login
	default:
		cmd, ok := p.conn.server.registry.Lookup(function)
		// The gate comes first: an unbound connection learns nothing
		// about the command vocabulary, unknown names included.
		if p.userID == chat.InvalidUserID && (!ok || cmd.Type&NormalType == 0) {
			p.replyError(pkg.RequestID, msgNotLoggedIn)
			return nil
		}
		if !ok {
			p.replyError(pkg.RequestID, msgNoSuchFunction)
			return nil
		}
		schema, handler = cmd.Params, cmd.Handler
	}

	if msg, ok := checkParams(schema, params); !ok {
		p.replyError(pkg.RequestID, msg)
		return nil
	}

	return p.dispatch(function, handler, params, pkg.RequestID)
}

// dispatch runs the handler on the worker pool and awaits it under the
// request watchdog. A full pool queue degrades to inline execution; an
// expired watchdog tears the connection down.
func (p *Processor) dispatch(function string, handler HandlerFunc, params map[string]any, requestID uint64) error {
	type outcome struct {
		message any
		err     error
	}

	started := time.Now()
	done := make(chan outcome, 1)
	run := func() {
		message, err := handler(p, params)
		done <- outcome{message: message, err: err}
	}
	if !p.conn.server.pool.TrySubmit(run) {
		run()
	}

	select {
	case out := <-done:
		elapsed := time.Since(started)
		if out.err != nil {
			monitoring.RecordCommand(function, "error", elapsed)
			p.replyError(requestID, p.describeError(out.err))
			return nil
		}
		monitoring.RecordCommand(function, "success", elapsed)
		p.replySuccess(requestID, out.message)
		return nil
	case <-time.After(p.conn.server.requestTimeout):
		monitoring.RecordCommand(function, "timeout", time.Since(started))
		p.logger().Warn().Str("function", function).Msg("Request watchdog expired")
		return lmerr.Ef(lmerr.CodeTimedOut, "function %s", function)
	}
}

// login verifies credentials and binds the connection to the user.
// Unknown user and bad password are indistinguishable to the client.
func (p *Processor) login(params map[string]any) (any, error) {
	id := userIDParam(params, "user_id")
	user, err := p.manager().GetUser(id)
	if err != nil {
		return nil, clientErrorf(msgWrongCredentials)
	}
	if !user.CheckPassword(params["password"].(string)) {
		return nil, clientErrorf(msgWrongCredentials)
	}

	device := chat.ParseDeviceType(params["device"].(string))
	if err := p.manager().ModifyUserOfConnection(p.conn, id, device); err != nil {
		return nil, err
	}
	p.userID = id

	p.events().UserLogin(int64(id), device.String())
	p.logger().Info().
		Int64("user_id", int64(id)).
		Str("device", device.String()).
		Msg("User logged in")
	return msgLoggedIn, nil
}

// checkParams validates params against the schema, yielding the exact
// legacy message on the first violation. JSON numbers arrive as
// float64, which is what paramNumber accepts.
func checkParams(schema []paramSpec, params map[string]any) (string, bool) {
	for _, spec := range schema {
		value, ok := params[spec.name]
		if !ok {
			return fmt.Sprintf("Lost a parameter: %s.", spec.name), false
		}
		switch spec.kind {
		case paramNumber:
			if _, ok := value.(float64); !ok {
				return fmt.Sprintf("Wrong parameter type: %s.", spec.name), false
			}
		case paramString:
			if _, ok := value.(string); !ok {
				return fmt.Sprintf("Wrong parameter type: %s.", spec.name), false
			}
		}
	}
	return "", true
}

// describeError maps a handler error to the client-visible message.
// Deliberate client errors pass through; everything else is masked
// unless debug mode is on.
func (p *Processor) describeError(err error) string {
	var ce *clientError
	if errors.As(err, &ce) {
		return ce.msg
	}
	p.logger().Debug().Err(err).Msg("Command failed")
	if p.conn.server.debug {
		return fmt.Sprintf("%s (%s)", msgUnknownError, err)
	}
	return msgUnknownError
}

type reply struct {
	State   string `json:"state"`
	Message any    `json:"message"`
}

func (p *Processor) replySuccess(requestID uint64, message any) {
	p.send(requestID, reply{State: "success", Message: message})
}

func (p *Processor) replyError(requestID uint64, message any) {
	p.send(requestID, reply{State: "error", Message: message})
}

func (p *Processor) send(requestID uint64, r reply) {
	payload, err := json.Marshal(r)
	if err != nil {
		p.logger().Error().Err(err).Msg("Reply encode failed")
		return
	}
	if err := p.conn.sendReply(payload, requestID); err != nil {
		p.logger().Debug().Err(err).Msg("Reply send failed")
	}
}
