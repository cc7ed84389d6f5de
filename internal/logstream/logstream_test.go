package logstream

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *recorder) BroadcastLog(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func TestLevelValue(t *testing.T) {
	assert.Equal(t, 10, LevelValue("trace"))
	assert.Equal(t, 30, LevelValue("INFO"))
	assert.Equal(t, 60, LevelValue("fatal"))
	assert.Equal(t, 45, LevelValue("45"))
	assert.Equal(t, 0, LevelValue("verbose"))
}

func TestFilter_Matches(t *testing.T) {
	e := Entry{Level: 40, AgentName: "eliza"}

	assert.True(t, Filter{}.Matches(e))
	assert.True(t, Filter{AgentName: "eliza", Level: "warn"}.Matches(e))
	assert.True(t, Filter{Level: "info"}.Matches(e))
	assert.False(t, Filter{Level: "error"}.Matches(e))
	assert.False(t, Filter{AgentName: "other"}.Matches(e))
}

func TestParse(t *testing.T) {
	e, ok := Parse([]byte(`{"level":"warn","time":"2026-01-02T03:04:05Z","message":"hello","agent_name":"eliza","component":"gateway","socket_id":"abc"}`))
	require.True(t, ok)
	assert.Equal(t, 40, e.Level)
	assert.Equal(t, "hello", e.Msg)
	assert.Equal(t, "eliza", e.AgentName)
	assert.Equal(t, "gateway", e.Component)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli(), e.Time)
	assert.Equal(t, "abc", e.Fields["socket_id"])

	_, ok = Parse([]byte("not json"))
	assert.False(t, ok)
}

func TestWriter_ForwardsZerologLines(t *testing.T) {
	rec := &recorder{}
	w := NewWriter(16)
	w.Attach(rec)

	logger := zerolog.New(w)
	logger.Info().Str("agent_name", "eliza").Msg("one")
	logger.Error().Msg("two")
	require.NoError(t, w.Close())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.entries, 2)
	assert.Equal(t, "one", rec.entries[0].Msg)
	assert.Equal(t, "eliza", rec.entries[0].AgentName)
	assert.Equal(t, 50, rec.entries[1].Level)
}

func TestWriter_DropsWhenFull(t *testing.T) {
	w := &Writer{queue: make(chan []byte, 1), done: make(chan struct{})}

	n, err := w.Write([]byte(`{"message":"a"}`))
	require.NoError(t, err)
	assert.Equal(t, 15, n)
	_, _ = w.Write([]byte(`{"message":"b"}`))

	assert.Equal(t, uint64(1), w.Dropped())
}

func TestWriter_WriteAfterClose(t *testing.T) {
	rec := &recorder{}
	w := NewWriter(4)
	w.Attach(rec)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	logger := zerolog.New(w)
	assert.NotPanics(t, func() {
		logger.Info().Msg("late")
		n, err := w.Write([]byte(`{"message":"late"}`))
		require.NoError(t, err)
		assert.Equal(t, 18, n)
	})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.entries)
}

func TestFilter_NumericOrNamedLevel(t *testing.T) {
	var numeric, named Filter
	require.NoError(t, json.Unmarshal([]byte(`{"level":40}`), &numeric))
	require.NoError(t, json.Unmarshal([]byte(`{"level":"warn"}`), &named))
	assert.Equal(t, Level("40"), numeric.Level)
	assert.Equal(t, Level("warn"), named.Level)

	e := Entry{Level: 30}
	assert.False(t, numeric.Matches(e))
	assert.False(t, named.Matches(e))
	e.Level = 40
	assert.True(t, numeric.Matches(e))
	assert.True(t, named.Matches(e))

	var bad Filter
	assert.Error(t, json.Unmarshal([]byte(`{"level":true}`), &bad))
}
