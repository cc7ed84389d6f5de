// Package logstream turns the process's structured log output into entries
// that can be streamed to subscribed gateway connections.
package logstream

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Numeric levels shared with log viewers that speak the pino scale.
var levelValues = map[string]int{
	"trace": 10,
	"debug": 20,
	"info":  30,
	"warn":  40,
	"error": 50,
	"fatal": 60,
	"panic": 60,
}

// LevelValue maps a level name or a numeric string to its numeric value.
// Unknown levels map to 0.
func LevelValue(level string) int {
	level = strings.ToLower(strings.TrimSpace(level))
	if v, ok := levelValues[level]; ok {
		return v
	}
	if n, err := strconv.Atoi(level); err == nil {
		return n
	}
	return 0
}

// Entry is one log line as delivered to log stream subscribers.
type Entry struct {
	Time      int64          `json:"time"`
	Level     int            `json:"level"`
	Msg       string         `json:"msg"`
	AgentName string         `json:"agentName,omitempty"`
	Component string         `json:"component,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Level is a minimum level, either a name ("warn") or a number (40).
type Level string

// UnmarshalJSON accepts both a JSON string and a JSON number.
func (l *Level) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*l = Level(n.String())
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*l = Level(name)
	return nil
}

// Filter selects the entries a subscriber wants. Zero values match all.
type Filter struct {
	AgentName string `json:"agentName,omitempty"`
	Level     Level  `json:"level,omitempty"`
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e Entry) bool {
	if f.AgentName != "" && e.AgentName != f.AgentName {
		return false
	}
	if f.Level != "" && e.Level < LevelValue(string(f.Level)) {
		return false
	}
	return true
}

// Parse decodes one zerolog JSON line.
func Parse(line []byte) (Entry, bool) {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return Entry{}, false
	}

	e := Entry{Time: time.Now().UnixMilli()}
	if lvl, ok := raw["level"].(string); ok {
		e.Level = LevelValue(lvl)
		delete(raw, "level")
	}
	if msg, ok := raw["message"].(string); ok {
		e.Msg = msg
		delete(raw, "message")
	}
	switch t := raw["time"].(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			e.Time = ts.UnixMilli()
		}
		delete(raw, "time")
	case float64:
		e.Time = int64(t)
		delete(raw, "time")
	}
	for _, key := range []string{"agentName", "agent_name"} {
		if name, ok := raw[key].(string); ok {
			e.AgentName = name
			delete(raw, key)
		}
	}
	if c, ok := raw["component"].(string); ok {
		e.Component = c
		delete(raw, "component")
	}
	if len(raw) > 0 {
		e.Fields = raw
	}
	return e, true
}

// Broadcaster receives parsed entries.
type Broadcaster interface {
	BroadcastLog(e Entry)
}

// Writer is an io.Writer for zerolog that forwards lines to a Broadcaster
// through a bounded queue. When the queue is full lines are dropped, and
// after Close every line is dropped.
type Writer struct {
	queue   chan []byte
	mu      sync.RWMutex
	target  Broadcaster
	closed  bool
	dropped atomic.Uint64
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewWriter creates a writer with room for size pending lines and starts
// its delivery goroutine.
func NewWriter(size int) *Writer {
	if size <= 0 {
		size = 1024
	}
	w := &Writer{
		queue: make(chan []byte, size),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

// Attach sets the broadcaster. Lines written before Attach are discarded.
func (w *Writer) Attach(b Broadcaster) {
	w.mu.Lock()
	w.target = b
	w.mu.Unlock()
}

// Write never blocks and never fails.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return len(p), nil
	}
	line := make([]byte, len(p))
	copy(line, p)
	select {
	case w.queue <- line:
	default:
		w.dropped.Add(1)
	}
	return len(p), nil
}

// Dropped returns how many lines were discarded because the queue was full.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Close stops the delivery goroutine after draining queued lines. The
// writer stays usable as a sink: later writes are discarded.
func (w *Writer) Close() error {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.quit)
	})
	<-w.done
	return nil
}

func (w *Writer) run() {
	defer close(w.done)
	for {
		select {
		case line := <-w.queue:
			w.deliver(line)
		case <-w.quit:
			for {
				select {
				case line := <-w.queue:
					w.deliver(line)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) deliver(line []byte) {
	w.mu.RLock()
	target := w.target
	w.mu.RUnlock()
	if target == nil {
		return
	}
	if e, ok := Parse(line); ok {
		target.BroadcastLog(e)
	}
}
