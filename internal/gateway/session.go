package gateway

import (
	"sync"
	"sync/atomic"

	"github.com/eldtechnologies/chatrelay/internal/logstream"
)

// Sink delivers outbound frames for one connection. Send must not block on
// a slow peer.
type Sink interface {
	Send(event string, data any) error
	Close() error
}

// Session is the gateway's state for one connection.
type Session struct {
	id         string
	remoteAddr string
	sink       Sink

	logSubscribed atomic.Bool
	mu            sync.RWMutex
	logFilter     logstream.Filter

	closed atomic.Bool
}

// ID returns the socket id.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the peer address the session was opened from.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// Send delivers one frame to the connection.
func (s *Session) Send(event string, data any) error {
	return s.sink.Send(event, data)
}

// LogFilter returns the current log stream filter.
func (s *Session) LogFilter() logstream.Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logFilter
}

func (s *Session) setLogFilter(f logstream.Filter) {
	s.mu.Lock()
	s.logFilter = f
	s.mu.Unlock()
}

// wantsLog reports whether e should be streamed to this session.
func (s *Session) wantsLog(e logstream.Entry) bool {
	if !s.logSubscribed.Load() {
		return false
	}
	return s.LogFilter().Matches(e)
}
