package events

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"launchpad/core/types"
	"launchpad/observability"
)

const defaultStreamHistoryLimit = 2048

// SequencedEvent is an emitted event decorated with its stream position.
// Cursor is the string form of Sequence and is what subscribers hand back to
// resume after a disconnect.
type SequencedEvent struct {
	Sequence  uint64
	Cursor    string
	Timestamp int64
	Event     *types.Event
}

func cloneSequencedEvent(entry SequencedEvent) SequencedEvent {
	cloned := entry
	if entry.Event != nil {
		attrs := make(map[string]string, len(entry.Event.Attributes))
		for k, v := range entry.Event.Attributes {
			attrs[k] = v
		}
		cloned.Event = &types.Event{Type: entry.Event.Type, Attributes: attrs}
	}
	return cloned
}

// Stream is an Emitter that assigns each event a monotonically increasing
// sequence number, retains a bounded backlog, and fans events out to
// subscribers. Slow subscribers miss events rather than block the emitter.
type Stream struct {
	mu           sync.Mutex
	seq          uint64
	nextSubID    uint64
	subs         map[uint64]chan SequencedEvent
	history      []SequencedEvent
	historyLimit int
	now          func() time.Time
}

// NewStream constructs a stream retaining at most historyLimit events for
// cursor replay. A non-positive limit selects the default.
func NewStream(historyLimit int) *Stream {
	if historyLimit <= 0 {
		historyLimit = defaultStreamHistoryLimit
	}
	return &Stream{
		subs:         make(map[uint64]chan SequencedEvent),
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

// SetNowFunc overrides the timestamp source for deterministic tests.
func (s *Stream) SetNowFunc(now func() time.Time) {
	if s == nil || now == nil {
		return
	}
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Emit implements the Emitter interface.
func (s *Stream) Emit(evt Event) {
	if s == nil || evt == nil {
		return
	}
	payload := eventPayload(evt)
	if payload == nil {
		return
	}

	s.mu.Lock()
	s.seq++
	entry := SequencedEvent{
		Sequence:  s.seq,
		Cursor:    strconv.FormatUint(s.seq, 10),
		Timestamp: s.now().Unix(),
		Event:     payload,
	}
	s.history = append(s.history, cloneSequencedEvent(entry))
	if len(s.history) > s.historyLimit {
		excess := len(s.history) - s.historyLimit
		trimmed := make([]SequencedEvent, s.historyLimit)
		copy(trimmed, s.history[excess:])
		s.history = trimmed
	}
	subscribers := make([]chan SequencedEvent, 0, len(s.subs))
	for _, ch := range s.subs {
		subscribers = append(subscribers, ch)
	}
	s.mu.Unlock()

	observability.Events().RecordPublished(payload.Type)
	for _, ch := range subscribers {
		select {
		case ch <- cloneSequencedEvent(entry):
		default:
			observability.Events().RecordDropped(payload.Type)
		}
	}
}

// Subscribe registers a subscriber for events after the supplied cursor. The
// returned backlog holds the retained events newer than the cursor; live
// events follow on the channel until cancel runs or ctx is done.
func (s *Stream) Subscribe(ctx context.Context, cursor string) (<-chan SequencedEvent, func(), []SequencedEvent, error) {
	if s == nil {
		return nil, nil, nil, fmt.Errorf("events: stream not initialised")
	}
	updates := make(chan SequencedEvent, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		parsed, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("events: invalid cursor %q", cursor)
		}
		since = parsed
	}

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = updates
	observability.Events().SetSubscribers(len(s.subs))
	history := make([]SequencedEvent, len(s.history))
	copy(history, s.history)
	s.mu.Unlock()

	backlog := make([]SequencedEvent, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneSequencedEvent(entry))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			sub, ok := s.subs[id]
			if ok {
				delete(s.subs, id)
				close(sub)
			}
			observability.Events().SetSubscribers(len(s.subs))
			s.mu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog, nil
}

func eventPayload(evt Event) *types.Event {
	if provider, ok := evt.(interface{ Event() *types.Event }); ok {
		return provider.Event()
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}
