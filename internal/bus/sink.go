package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Sink receives Events. Implementations must not block the emitter for
// long; Bus enforces this via BackpressureSink.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// ChanSink delivers events to a single Go channel, non-blocking: a full
// channel drops the event rather than stalling the emitter.
type ChanSink struct {
	ch chan Event
}

// NewChanSink creates a ChanSink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{ch: make(chan Event, buffer)}
}

// C returns the receive side of the channel for subscribers.
func (s *ChanSink) C() <-chan Event {
	return s.ch
}

func (s *ChanSink) Emit(_ context.Context, e Event) {
	select {
	case s.ch <- e:
	default:
	}
}

// MultiSink fans an event out to every non-nil sink.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink builds a MultiSink, silently dropping any nil entries.
func NewMultiSink(sinks ...Sink) *MultiSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

func (m *MultiSink) Emit(ctx context.Context, e Event) {
	for _, s := range m.sinks {
		s.Emit(ctx, e)
	}
}

// CallbackSink adapts a plain function into a Sink.
type CallbackSink struct {
	Fn func(context.Context, Event)
}

func (c CallbackSink) Emit(ctx context.Context, e Event) {
	if c.Fn != nil {
		c.Fn(ctx, e)
	}
}

// BackpressureConfig tunes BackpressureSink's two lanes.
type BackpressureConfig struct {
	// HighPriBuffer sizes the lane that is never dropped (StepBegin,
	// StepInterrupted, CompactionBegin/End, ApprovalRequest,
	// SkillsActivated): the sink blocks the caller rather than lose these.
	HighPriBuffer int

	// LowPriBuffer sizes the lane that drops its oldest entry on
	// overflow (every other kind: ContentPartMessage, ToolCallMessage,
	// ToolResultMessage, StatusUpdate).
	LowPriBuffer int
}

func (c BackpressureConfig) withDefaults() BackpressureConfig {
	if c.HighPriBuffer <= 0 {
		c.HighPriBuffer = 32
	}
	if c.LowPriBuffer <= 0 {
		c.LowPriBuffer = 256
	}
	return c
}

// highPriority reports whether an event kind must never be dropped.
func highPriority(k EventKind) bool {
	switch k {
	case EventStepBegin, EventStepInterrupted, EventCompactionBegin, EventCompactionEnd,
		EventApprovalRequest, EventSkillsActivated:
		return true
	default:
		return false
	}
}

// BackpressureSink is a bounded, two-lane multicast sink: high-priority
// events block the sender until delivered (bounded by HighPriBuffer
// capacity), low-priority events are dropped oldest-first on overflow.
// Grounded on the teacher's internal/agent/event_sink.go BackpressureSink.
type BackpressureSink struct {
	highPri chan Event
	lowPri  chan Event
	merged  chan Event
	dropped uint64
	closed  uint32
	logger  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewBackpressureSink builds a BackpressureSink and starts its merge loop.
func NewBackpressureSink(cfg BackpressureConfig, logger *slog.Logger) *BackpressureSink {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &BackpressureSink{
		highPri: make(chan Event, cfg.HighPriBuffer),
		lowPri:  make(chan Event, cfg.LowPriBuffer),
		merged:  make(chan Event, cfg.HighPriBuffer+cfg.LowPriBuffer),
		logger:  logger.With("component", "bus"),
		done:    make(chan struct{}),
	}
	go s.mergeLoop()
	return s
}

// C returns the merged, priority-ordered event channel for subscribers.
func (s *BackpressureSink) C() <-chan Event {
	return s.merged
}

// Dropped returns the number of low-priority events dropped so far.
func (s *BackpressureSink) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

func (s *BackpressureSink) Emit(ctx context.Context, e Event) {
	if atomic.LoadUint32(&s.closed) != 0 {
		return
	}
	if highPriority(e.Kind) {
		select {
		case s.highPri <- e:
		case <-ctx.Done():
		}
		return
	}
	select {
	case s.lowPri <- e:
	default:
		// drop the oldest queued low-priority event to make room.
		select {
		case <-s.lowPri:
			atomic.AddUint64(&s.dropped, 1)
			s.logger.Warn("dropping low-priority event, bus overflow", "kind", e.Kind)
		default:
		}
		select {
		case s.lowPri <- e:
		default:
		}
	}
}

// Close stops the merge loop. Safe to call more than once.
func (s *BackpressureSink) Close() {
	s.closeOnce.Do(func() {
		atomic.StoreUint32(&s.closed, 1)
		close(s.done)
	})
}

func (s *BackpressureSink) mergeLoop() {
	for {
		select {
		case e := <-s.highPri:
			s.merged <- e
		default:
			select {
			case e := <-s.highPri:
				s.merged <- e
			case e := <-s.lowPri:
				s.merged <- e
			case <-s.done:
				s.drain()
				return
			}
		}
	}
}

// drain flushes any high-priority events still queued when Close is
// called, so callers that already received StepBegin(n) are guaranteed
// its matching completion events if they were already enqueued.
func (s *BackpressureSink) drain() {
	for {
		select {
		case e := <-s.highPri:
			s.merged <- e
		default:
			close(s.merged)
			return
		}
	}
}
