package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
)

func TestEventLogAssignsSequence(t *testing.T) {
	l := newEventLog(10)
	for i := 0; i < 3; i++ {
		e := l.append(domain.Event{Type: domain.EventTypeLog})
		assert.Equal(t, i, e.Seq)
	}

	events, next := l.since(0)
	require.Len(t, events, 3)
	assert.Equal(t, 3, next)

	events, next = l.since(2)
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Seq)
	assert.Equal(t, 3, next)

	events, next = l.since(3)
	assert.Empty(t, events)
	assert.Equal(t, 3, next)
}

func TestEventLogTruncatesOldest(t *testing.T) {
	l := newEventLog(5)
	for i := 0; i < 8; i++ {
		l.append(domain.Event{Type: domain.EventTypeLog})
	}

	assert.Equal(t, 8, l.len())
	assert.Equal(t, 3, l.dropped())

	// A cursor inside the dropped prefix skips forward to the oldest kept event.
	events, next := l.since(1)
	require.Len(t, events, 5)
	assert.Equal(t, 3, events[0].Seq)
	assert.Equal(t, 7, events[4].Seq)
	assert.Equal(t, 8, next)
}

func TestEventLogSinceReturnsCopy(t *testing.T) {
	l := newEventLog(5)
	l.append(domain.Event{Type: domain.EventTypeLog, Message: "original"})

	events, _ := l.since(0)
	events[0].Message = "mutated"

	again, _ := l.since(0)
	assert.Equal(t, "original", again[0].Message)
}

func TestEventLogDefaultCap(t *testing.T) {
	l := newEventLog(0)
	assert.Equal(t, DefaultMaxEvents, l.max)
}
