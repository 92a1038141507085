package pipeline

import "github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"

// DefaultMaxEvents bounds the events retained per run.
const DefaultMaxEvents = 5000

// eventLog is an append-only, capacity-bounded sequence of events.
// It is not safe for concurrent use; the registry lock guards it.
type eventLog struct {
	events []domain.Event
	base   int // Seq of events[0]
	max    int
}

func newEventLog(max int) *eventLog {
	if max <= 0 {
		max = DefaultMaxEvents
	}
	return &eventLog{max: max}
}

// append stamps the event with the next sequence number and stores it,
// dropping the oldest events once the cap is exceeded.
func (l *eventLog) append(e domain.Event) domain.Event {
	e.Seq = l.base + len(l.events)
	l.events = append(l.events, e)
	if over := len(l.events) - l.max; over > 0 {
		kept := make([]domain.Event, len(l.events)-over, l.max)
		copy(kept, l.events[over:])
		l.events = kept
		l.base += over
	}
	return e
}

// since returns copies of all events with Seq >= cursor and the cursor to
// use next. A cursor older than the retained window skips forward.
func (l *eventLog) since(cursor int) ([]domain.Event, int) {
	if cursor < l.base {
		cursor = l.base
	}
	next := l.base + len(l.events)
	if cursor >= next {
		return nil, next
	}
	out := make([]domain.Event, next-cursor)
	copy(out, l.events[cursor-l.base:])
	return out, next
}

// len reports the total number of events ever appended.
func (l *eventLog) len() int {
	return l.base + len(l.events)
}

// dropped reports how many events were truncated from the front.
func (l *eventLog) dropped() int {
	return l.base
}
