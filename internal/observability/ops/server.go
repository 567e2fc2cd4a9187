package ops

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	rtsup "immunizer/internal/runtime/supervisor"
	logx "immunizer/pkg/logx"
)

var errInsecureBind = errors.New("non-loopback addr requires token or allow_insecure")

// server is one Start..Stop generation. The supervisor re-listens after
// a serve failure.
type server struct {
	cfg Config
	sup *rtsup.Supervisor

	mu   sync.Mutex
	ln   net.Listener
	hs   *http.Server
}

func (v *server) addr() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ln == nil {
		return ""
	}
	return v.ln.Addr().String()
}

// Start begins serving when enabled. It returns before the listener binds.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil || !s.cfg.Enabled {
		return
	}
	v := &server{
		cfg: s.cfg,
		// a broken ops server must not take the app down
		sup: rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
	}
	h := s.router(s.cfg, s.deliveries)
	v.sup.GoRestart("http.serve", func(ctx context.Context) error { return s.serve(ctx, v, h) },
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
	s.srv = v
}

// Stop shuts the server down gracefully within ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	v := s.srv
	s.srv = nil
	s.mu.Unlock()
	if v == nil {
		return
	}

	v.mu.Lock()
	hs := v.hs
	v.mu.Unlock()
	if hs != nil {
		if err := hs.Shutdown(ctx); err != nil {
			_ = hs.Close()
		}
	}
	if err := v.sup.Stop(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("ops stop timed out", logx.Err(err))
		return
	}
	s.log.Info("ops stopped")
}

func (s *Service) serve(ctx context.Context, v *server, h http.Handler) error {
	cfg := v.cfg
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	if cfg.Token == "" && !isLoopbackAddr(addr) {
		if !cfg.AllowInsecure {
			s.log.Error("ops refused to start", logx.String("addr", addr), logx.Err(errInsecureBind))
			return errInsecureBind
		}
		s.log.Warn("ops serving without token on non-loopback addr", logx.String("addr", addr))
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	hs := &http.Server{
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	v.mu.Lock()
	v.ln, v.hs = ln, hs
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		v.ln, v.hs = nil, nil
		v.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hs.Shutdown(sctx)
	})
	defer stop()

	s.log.Info("ops started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cfg.Token != ""), logx.Bool("pprof", cfg.Pprof))
	err = hs.Serve(ln)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, http.ErrServerClosed) {
		// Shutdown from Stop; the supervisor is canceled right after.
		return nil
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
