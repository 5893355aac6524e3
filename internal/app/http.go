package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/callscribe/internal/health"
	"github.com/MrWong99/callscribe/internal/observe"
	"github.com/MrWong99/callscribe/internal/pipeline"
)

// Status is the JSON document served at /status.
type Status struct {
	State       string   `json:"state"`
	Device      string   `json:"device,omitempty"`
	Monitor     bool     `json:"monitor,omitempty"`
	LastError   string   `json:"last_error,omitempty"`
	Captured    uint64   `json:"captured"`
	Dropped     uint64   `json:"dropped"`
	Overflows   uint64   `json:"overflows"`
	FeedClients int      `json:"feed_clients"`
	Vocabulary  []string `json:"vocabulary"`
}

// Status returns a snapshot of the capture session.
func (a *App) Status() Status {
	p := a.Pipeline()
	st := Status{
		State:       p.State().String(),
		FeedClients: a.hub.Clients(),
		Vocabulary:  a.corrector.Terms(),
	}
	if d, ok := p.Device(); ok {
		st.Device = d.Name
		st.Monitor = d.Monitor
	}
	if err := p.Err(); err != nil {
		st.LastError = err.Error()
	}
	stats := p.Stats()
	st.Captured, st.Dropped, st.Overflows = stats.Captured, stats.Dropped, stats.Overflows
	return st
}

// Handler returns the HTTP handler serving health probes, metrics, the
// transcript feed and the pause/resume controls.
func (a *App) Handler() http.Handler { return a.handler }

func (a *App) buildHandler() http.Handler {
	mux := http.NewServeMux()

	hh := health.New(health.Running("pipeline",
		func() bool { return a.Pipeline().IsRunning() },
		func() error { return a.Pipeline().Err() },
	)).WithStatus(func() any { return a.Status() })
	hh.Register(mux)

	mux.Handle("GET /metrics", observe.MetricsHandler())
	mux.Handle("GET /ws", a.hub)
	mux.HandleFunc("POST /pause", a.control((*pipeline.Pipeline).Pause))
	mux.HandleFunc("POST /resume", a.control((*pipeline.Pipeline).Resume))

	return observe.Middleware(a.metrics)(mux)
}

// control adapts a pipeline method to an HTTP handler. A stopped pipeline
// answers 409 Conflict.
func (a *App) control(fn func(*pipeline.Pipeline) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(a.Pipeline())
		switch {
		case errors.Is(err, pipeline.ErrNotRunning):
			http.Error(w, err.Error(), http.StatusConflict)
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

// serve opens the listener and serves HTTP in the background. It is a no-op
// when no listen address is configured.
func (a *App) serve() error {
	a.mu.Lock()
	srvCfg := a.cfg.Server
	a.mu.Unlock()
	if srvCfg.ListenAddr == "" {
		return nil
	}

	ln, err := net.Listen("tcp", srvCfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", srvCfg.ListenAddr, err)
	}
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.mu.Lock()
	a.server = srv
	a.addr = ln.Addr()
	a.mu.Unlock()

	go func() {
		var err error
		if tls := srvCfg.TLS; tls != nil {
			slog.Info("https server listening", "addr", ln.Addr().String())
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("http server listening", "addr", ln.Addr().String())
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
		}
	}()
	return nil
}
