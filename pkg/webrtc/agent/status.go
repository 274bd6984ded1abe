package agent

import (
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

const defaultStatusHistory = 200

// StatusEvent is one (level, message) record of the observable status stream.
type StatusEvent struct {
	Time    time.Time              `json:"time"`
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

type statusHub struct {
	mu      sync.Mutex
	subs    map[int]chan StatusEvent
	nextID  int
	history []StatusEvent
	limit   int
	dropped uint64
}

// StatusStream fans log entries out to subscribers. It is a zapcore.Core, so
// teeing it onto a logger publishes every transition and error that logger
// records.
type StatusStream struct {
	hub    *statusHub
	level  zapcore.LevelEnabler
	fields []zapcore.Field
}

// NewStatusStream publishes entries at or above level, keeping the last
// history events for late subscribers.
func NewStatusStream(level zapcore.LevelEnabler, history int) *StatusStream {
	if history <= 0 {
		history = defaultStatusHistory
	}
	return &StatusStream{
		hub:   &statusHub{subs: make(map[int]chan StatusEvent), limit: history},
		level: level,
	}
}

// Subscribe returns a channel of new events and a cancel func. Slow
// subscribers lose events rather than blocking the publisher.
func (s *StatusStream) Subscribe(buffer int) (<-chan StatusEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan StatusEvent, buffer)

	h := s.hub
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Recent returns up to n of the latest events, oldest first.
func (s *StatusStream) Recent(n int) []StatusEvent {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > len(h.history) {
		n = len(h.history)
	}
	out := make([]StatusEvent, n)
	copy(out, h.history[len(h.history)-n:])
	return out
}

// Publish records an event directly, without going through a logger.
func (s *StatusStream) Publish(level zapcore.Level, message string) {
	s.hub.publish(StatusEvent{Time: time.Now(), Level: level.String(), Message: message})
}

func (h *statusHub) publish(ev StatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.history = append(h.history, ev)
	if len(h.history) > h.limit {
		h.history = h.history[len(h.history)-h.limit:]
	}
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped++
		}
	}
}

func (s *StatusStream) Enabled(lvl zapcore.Level) bool {
	return s.level.Enabled(lvl)
}

func (s *StatusStream) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(s.fields)+len(fields))
	merged = append(merged, s.fields...)
	merged = append(merged, fields...)
	return &StatusStream{hub: s.hub, level: s.level, fields: merged}
}

func (s *StatusStream) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(ent.Level) {
		return ce.AddCore(ent, s)
	}
	return ce
}

func (s *StatusStream) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range s.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	ev := StatusEvent{Time: ent.Time, Level: ent.Level.String(), Message: ent.Message}
	if len(enc.Fields) > 0 {
		ev.Fields = enc.Fields
	}
	s.hub.publish(ev)
	return nil
}

func (s *StatusStream) Sync() error { return nil }
