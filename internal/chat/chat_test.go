package chat

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/luminet-im/luminet/internal/store"
)

// fakeEndpoint collects fanout frames in place of a live connection.
type fakeEndpoint struct {
	addr string

	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeEndpoint) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	f.frames = append(f.frames, buf)
	return nil
}

func (f *fakeEndpoint) RemoteAddr() string { return f.addr }

func (f *fakeEndpoint) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.frames))
	copy(out, f.frames)
	return out
}

func newTestManager() *Manager {
	return NewManager(context.Background(), zerolog.Nop(), store.Noop{})
}
