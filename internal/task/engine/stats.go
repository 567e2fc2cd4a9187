package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"immunizer/internal/eventbus"
	logx "immunizer/pkg/logx"
)

const (
	dropQueueFull = "queue_full"
	dropStale     = "stale"

	warnEvery = 5 * time.Second
)

// Run is one finished or dropped execution.
type Run struct {
	Name    string
	Started time.Time
	Waited  time.Duration
	Took    time.Duration
	Err     string
}

type stats struct {
	inFlight  atomic.Int32
	queueFull atomic.Uint64
	stale     atomic.Uint64
	lastWarn  atomic.Int64

	mu      sync.Mutex
	size    int
	history []Run
}

func (st *stats) record(r Run) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.history = append(st.history, r)
	if over := len(st.history) - st.size; over > 0 {
		st.history = append(st.history[:0:0], st.history[over:]...)
	}
}

// warnDue allows one drop warning per warnEvery.
func (st *stats) warnDue(now time.Time) bool {
	prev := st.lastWarn.Load()
	if prev != 0 && now.UnixNano()-prev < int64(warnEvery) {
		return false
	}
	return st.lastWarn.CompareAndSwap(prev, now.UnixNano())
}

func (s *Service) skipped(now time.Time, t Task) {
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskSkipped, Time: now, Data: TaskEvent{Name: t.Name, At: now, Reason: "overlap"}})
	s.log.Debug("task skipped; previous run still active", logx.String("task", t.Name))
}

func (s *Service) dropped(now time.Time, t Task, reason string, waited time.Duration) {
	var total uint64
	if reason == dropStale {
		total = s.stats.stale.Add(1)
	} else {
		total = s.stats.queueFull.Add(1)
	}
	s.stats.record(Run{Name: t.Name, Started: now, Waited: waited, Err: "dropped: " + reason})
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskDropped, Time: now, Data: TaskEvent{Name: t.Name, At: now, Waited: waited, Reason: reason}})
	if s.stats.warnDue(now) {
		s.log.Warn("task dropped", logx.String("task", t.Name), logx.String("reason", reason), logx.Duration("waited", waited), logx.Uint64("total", total))
	}
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Running          bool
	Workers          int
	QueueLen         int
	QueueCap         int
	InFlight         int
	DroppedQueueFull uint64
	DroppedStale     uint64
	History          []Run
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Running: s.pool != nil, Workers: s.cfg.Workers}
	if s.pool != nil {
		snap.QueueLen, snap.QueueCap = len(s.pool.q), cap(s.pool.q)
	}
	s.mu.Unlock()

	snap.InFlight = int(s.stats.inFlight.Load())
	snap.DroppedQueueFull = s.stats.queueFull.Load()
	snap.DroppedStale = s.stats.stale.Load()
	s.stats.mu.Lock()
	snap.History = append([]Run(nil), s.stats.history...)
	s.stats.mu.Unlock()
	return snap
}
