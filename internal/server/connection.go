package server

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/luminet-im/luminet/internal/lmerr"
	"github.com/luminet-im/luminet/internal/logging"
	"github.com/luminet-im/luminet/internal/monitoring"
	"github.com/luminet-im/luminet/internal/protocol"
)

const (
	readBufferSize = 4096
	writeWait      = 10 * time.Second

	// A fresh connection must complete the TLS handshake and the
	// connectivity probe within handshakeWait; after that a peer may
	// stay silent for idleWait between frames (heartbeats count).
	handshakeWait = 10 * time.Second
	idleWait      = 60 * time.Second

	// Outbound frames queued per connection before the peer is
	// considered too slow and dropped.
	sendQueueSize = 256
)

var probePayload = []byte("test")

// Connection owns one TLS stream. Reads happen on a single goroutine;
// writes are serialized through the send channel and writePump, so
// replies and fanout frames never interleave on the wire.
type Connection struct {
	server *Server
	conn   net.Conn
	logger zerolog.Logger

	processor *Processor
	readBuf   *protocol.Buffer

	send     chan []byte
	sequence atomic.Uint32

	handshakeWait time.Duration
	idleWait      time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(s *Server, conn net.Conn) *Connection {
	c := &Connection{
		server:  s,
		conn:    conn,
		logger:  s.logger.With().Str("remote", conn.RemoteAddr().String()).Logger(),
		readBuf: protocol.NewBuffer(),
		send:    make(chan []byte, sendQueueSize),

		handshakeWait: handshakeWait,
		idleWait:      idleWait,

		closed: make(chan struct{}),
	}
	c.processor = newProcessor(c)
	return c
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Send frames payload as a Text package and queues it. Used for fanout,
// where no request is being answered.
func (c *Connection) Send(payload []byte) error {
	return c.sendReply(payload, 0)
}

// sendReply frames payload as a Text package echoing requestID and
// queues it for the write pump.
func (c *Connection) sendReply(payload []byte, requestID uint64) error {
	pkg := &protocol.DataPackage{
		Type:      protocol.Text,
		Sequence:  c.sequence.Add(1),
		RequestID: requestID,
		Data:      payload,
	}
	return c.enqueue(pkg.Encode())
}

func (c *Connection) enqueue(frame []byte) error {
	select {
	case <-c.closed:
		return lmerr.E(lmerr.CodeSocketPointerNotExisted)
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.closed:
		return lmerr.E(lmerr.CodeSocketPointerNotExisted)
	default:
		// The peer is not draining its queue. Cut it off rather than
		// block fanout for everyone else.
		c.logger.Warn().Msg("Send queue full, dropping connection")
		c.close()
		return lmerr.E(lmerr.CodeSocketPointerNotExisted)
	}
}

// close shuts the connection down once. The read loop and write pump
// both exit as a consequence.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// serve runs the connection to completion: register, pump, read loop,
// deregister. Called on its own goroutine per accepted socket.
func (c *Connection) serve() {
	defer logging.RecoverPanic(c.logger, "connection", nil)

	monitoring.IncrementConnections()
	defer monitoring.DecrementConnections()

	if err := c.server.manager.RegisterConnection(c); err != nil {
		c.logger.Error().Err(err).Msg("Connection registration failed")
		c.close()
		return
	}
	defer func() {
		c.server.manager.RemoveConnection(c)
		c.server.forgetConnection(c)
		c.close()
	}()

	go c.writePump()

	if err := c.readLoop(); err != nil {
		if errors.Is(err, io.EOF) {
			c.logger.Info().Msg("Connection closed by peer")
		} else {
			c.logger.Info().Err(err).Msg("Connection terminated")
		}
	}
}

// readLoop reads stream bytes, reassembles frames and dispatches them.
// The first non-heartbeat frame must be the connectivity probe. A peer
// that stays silent past the deadline is torn down.
func (c *Connection) readLoop() error {
	probed := false
	buf := make([]byte, readBufferSize)
	for {
		wait := c.idleWait
		if !probed {
			wait = c.handshakeWait
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wait))
		n, err := c.conn.Read(buf)
		if err != nil {
			return err
		}
		if err := c.readBuf.Write(buf[:n]); err != nil {
			return err
		}
		for c.readBuf.CanRead() {
			pkg, err := c.readBuf.Read()
			if err != nil {
				return err
			}
			monitoring.RecordInbound(protocol.MinPackageLength + len(pkg.Data))

			if pkg.Type == protocol.Heartbeat {
				continue
			}
			if !probed {
				if pkg.Type != protocol.Text || !bytes.Equal(pkg.Data, probePayload) {
					return lmerr.E(lmerr.CodeConnectionTestFailed)
				}
				probed = true
				continue
			}
			if pkg.Type != protocol.Text {
				c.processor.replyError(pkg.RequestID, "Error type")
				continue
			}
			if err := c.processor.Process(pkg); err != nil {
				return err
			}
		}
	}
}

// writePump drains the send queue onto the TLS stream. Writes are
// batched through a buffered writer to reduce syscalls.
func (c *Connection) writePump() {
	defer logging.RecoverPanic(c.logger, "writePump", nil)
	defer c.close()

	writer := bufio.NewWriter(c.conn)
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if _, err := writer.Write(frame); err != nil {
				c.logger.Debug().Err(err).Msg("Write failed")
				return
			}
			monitoring.RecordOutbound(len(frame))

			// Batch whatever else is already queued.
			n := len(c.send)
			for i := 0; i < n; i++ {
				frame = <-c.send
				if _, err := writer.Write(frame); err != nil {
					c.logger.Debug().Err(err).Msg("Write failed")
					return
				}
				monitoring.RecordOutbound(len(frame))
			}
			if err := writer.Flush(); err != nil {
				c.logger.Debug().Err(err).Msg("Flush failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}
