// Package events publishes server-side chat events to NATS for
// downstream consumers (offline delivery, analytics). Publishing is
// best effort and never blocks or fails a client request.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Subjects published by the server.
const (
	SubjectUserLogin      = "luminet.user.login"
	SubjectPrivateMessage = "luminet.message.private"
	SubjectGroupMessage   = "luminet.message.group"
	SubjectGroupCreated   = "luminet.group.created"
)

// Publisher emits chat events. The zero-value-like NewNoop publisher is
// used when no broker is configured.
type Publisher interface {
	UserLogin(userID int64, device string)
	PrivateMessage(roomID, sender int64)
	GroupMessage(roomID, sender int64)
	GroupCreated(roomID, administrator int64)
	Close()
}

type natsPublisher struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// Connect dials the NATS server and returns a publisher. The connection
// reconnects indefinitely with a short backoff.
func Connect(url string, logger zerolog.Logger) (Publisher, error) {
	log := logger.With().Str("component", "events").Logger()
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	log.Info().Str("url", url).Msg("Event publisher connected")
	return &natsPublisher{conn: conn, logger: log}, nil
}

type loginEvent struct {
	UserID int64     `json:"user_id"`
	Device string    `json:"device"`
	At     time.Time `json:"at"`
}

type messageEvent struct {
	RoomID int64     `json:"room_id"`
	Sender int64     `json:"sender"`
	At     time.Time `json:"at"`
}

type groupEvent struct {
	RoomID        int64     `json:"room_id"`
	Administrator int64     `json:"administrator"`
	At            time.Time `json:"at"`
}

func (p *natsPublisher) publish(subject string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("subject", subject).Msg("Event encode failed")
		return
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Warn().Err(err).Str("subject", subject).Msg("Event publish failed")
	}
}

func (p *natsPublisher) UserLogin(userID int64, device string) {
	p.publish(SubjectUserLogin, loginEvent{UserID: userID, Device: device, At: time.Now().UTC()})
}

func (p *natsPublisher) PrivateMessage(roomID, sender int64) {
	p.publish(SubjectPrivateMessage, messageEvent{RoomID: roomID, Sender: sender, At: time.Now().UTC()})
}

func (p *natsPublisher) GroupMessage(roomID, sender int64) {
	p.publish(SubjectGroupMessage, messageEvent{RoomID: roomID, Sender: sender, At: time.Now().UTC()})
}

func (p *natsPublisher) GroupCreated(roomID, administrator int64) {
	p.publish(SubjectGroupCreated, groupEvent{RoomID: roomID, Administrator: administrator, At: time.Now().UTC()})
}

func (p *natsPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

type noopPublisher struct{}

// NewNoop returns a publisher that drops every event.
func NewNoop() Publisher { return noopPublisher{} }

func (noopPublisher) UserLogin(int64, string)     {}
func (noopPublisher) PrivateMessage(int64, int64) {}
func (noopPublisher) GroupMessage(int64, int64)   {}
func (noopPublisher) GroupCreated(int64, int64)   {}
func (noopPublisher) Close()                      {}
