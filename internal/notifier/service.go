package notifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"immunizer/internal/eventbus"
	"immunizer/internal/immunization"
	logx "immunizer/pkg/logx"
)

var ErrNoTransport = errors.New("no transport for delivery method")

// Service fans notifications out to transports under a token-bucket limit.
// It is safe for concurrent use.
type Service struct {
	mu sync.RWMutex

	log        logx.Logger
	bus        eventbus.Bus
	cfg        Config
	limiter    *rate.Limiter
	transports map[immunization.DeliveryMethod]Transport

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, transports ...Transport) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{
		log:        log,
		bus:        bus,
		transports: map[immunization.DeliveryMethod]Transport{},
	}
	for _, t := range transports {
		s.Register(t)
	}
	s.Apply(cfg)
	return s
}

// Apply swaps the rate limit and defaults.
func (s *Service) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RatePerSec
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if len(cfg.DefaultMethods) == 0 {
		cfg.DefaultMethods = []immunization.DeliveryMethod{immunization.MethodLog}
	}
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	s.mu.Unlock()
}

// Register adds or replaces the transport for its method.
func (s *Service) Register(t Transport) {
	if t == nil {
		return
	}
	s.mu.Lock()
	s.transports[t.Method()] = t
	s.mu.Unlock()
}

// Methods lists methods with a registered transport.
func (s *Service) Methods() []immunization.DeliveryMethod {
	s.mu.RLock()
	out := make([]immunization.DeliveryMethod, 0, len(s.transports))
	for m := range s.transports {
		out = append(out, m)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatch sends n over each requested method. It never retries.
func (s *Service) Dispatch(ctx context.Context, n immunization.Notification) Outcome {
	s.mu.RLock()
	cfg := s.cfg
	lim := s.limiter
	transports := s.transports
	s.mu.RUnlock()

	methods := n.Methods
	if len(methods) == 0 {
		methods = cfg.DefaultMethods
	}

	out := Outcome{Failures: map[immunization.DeliveryMethod]string{}}
	for _, m := range methods {
		t := transports[m]
		if t == nil {
			out.Failures[m] = ErrNoTransport.Error()
			continue
		}
		if err := lim.Wait(ctx); err != nil {
			out.Failures[m] = err.Error()
			break
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := t.Send(callCtx, n)
		cancel()
		if err != nil {
			out.Failures[m] = err.Error()
			s.log.Debug("transport send failed", logx.String("notification_id", n.ID), logx.String("method", string(m)), logx.Err(err))
			continue
		}
		out.Delivered = true
	}

	now := time.Now()
	ev := NotificationEvent{ID: n.ID, Type: n.Type, RecordID: n.RecordID, At: now}
	if !out.Delivered {
		out.Err = fmt.Errorf("%w: %s", immunization.ErrDispatchFailure, joinFailures(out.Failures))
		ev.Error = out.Err.Error()
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifyFailed, Time: now, Data: ev})
	} else {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifySent, Time: now, Data: ev})
	}
	s.appendHistory(HistoryItem{At: now, NotificationID: n.ID, Type: n.Type, Delivered: out.Delivered, Error: ev.Error})
	return out
}

// Recent returns the newest dispatch results, oldest first.
func (s *Service) Recent() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func joinFailures(f map[immunization.DeliveryMethod]string) string {
	if len(f) == 0 {
		return "no delivery methods"
	}
	keys := make([]string, 0, len(f))
	for m := range f {
		keys = append(keys, string(m))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f[immunization.DeliveryMethod(k)])
	}
	return strings.Join(parts, "; ")
}
