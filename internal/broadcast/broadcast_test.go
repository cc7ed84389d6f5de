package broadcast

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSub struct {
	id     string
	fail   bool
	mu     sync.Mutex
	events []string
}

func (f *fakeSub) ID() string { return f.id }

func (f *fakeSub) Send(event string, _ any) error {
	if f.fail {
		return errors.New("closed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func TestHub_JoinAndBroadcast(t *testing.T) {
	h := NewHub()
	a := &fakeSub{id: "a"}
	b := &fakeSub{id: "b"}
	c := &fakeSub{id: "c"}

	h.Join(a, "room1")
	h.Join(a, "room1")
	h.Join(b, "room1")
	h.Join(c, "room2")

	n := h.Broadcast("room1", "messageBroadcast", nil)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"messageBroadcast"}, a.events)
	assert.Equal(t, []string{"messageBroadcast"}, b.events)
	assert.Empty(t, c.events)
	assert.Equal(t, []string{"a", "b"}, h.Members("room1"))
}

func TestHub_Leave(t *testing.T) {
	h := NewHub()
	a := &fakeSub{id: "a"}

	h.Join(a, "room1")
	h.Leave(a, "room1")
	h.Leave(a, "room1")

	assert.Equal(t, 0, h.Broadcast("room1", "x", nil))
	assert.Empty(t, h.Groups(a))
	assert.False(t, h.IsMember(a, "room1"))
}

func TestHub_LeaveAll(t *testing.T) {
	h := NewHub()
	a := &fakeSub{id: "a"}
	b := &fakeSub{id: "b"}

	h.Join(a, "r2")
	h.Join(a, "r1")
	h.Join(b, "r1")

	assert.Equal(t, []string{"r1", "r2"}, h.LeaveAll(a))
	assert.Empty(t, h.LeaveAll(a))
	assert.Equal(t, []string{"b"}, h.Members("r1"))
	assert.Empty(t, h.Members("r2"))
}

func TestHub_BroadcastCountsOnlyAccepted(t *testing.T) {
	h := NewHub()
	h.Join(&fakeSub{id: "ok"}, "r")
	h.Join(&fakeSub{id: "dead", fail: true}, "r")

	assert.Equal(t, 1, h.Broadcast("r", "x", nil))
}

func TestHub_BroadcastManyDeduplicates(t *testing.T) {
	h := NewHub()
	a := &fakeSub{id: "a"}
	b := &fakeSub{id: "b"}
	h.Join(a, "r1")
	h.Join(a, "r2")
	h.Join(b, "r2")

	assert.Equal(t, 2, h.BroadcastMany([]string{"r1", "r2", "r3"}, "x", nil))
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}
