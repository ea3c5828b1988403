package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/Svillamizar05/metro/internal/journal"
	"github.com/Svillamizar05/metro/internal/platform/otel"
	"github.com/Svillamizar05/metro/internal/registry"
	"github.com/Svillamizar05/metro/internal/train"
	"golang.org/x/sync/errgroup"
)

const serviceName = "metro-server"

// App owns the server runtime: the train, its sessions and every listener.
type App struct {
	*state
	cfg Config

	listener       net.Listener
	httpListener   net.Listener
	healthListener net.Listener

	closers []io.Closer

	// stopTimeout bounds the graceful shutdown of the HTTP and health servers.
	stopTimeout time.Duration
}

// Options overrides pieces of the runtime, mainly for tests.
type Options struct {
	// Clock drives the simulation; nil means wall-clock time.
	Clock train.Clock
	// Stdout receives the journal copy when JournalStdout is set.
	Stdout io.Writer
}

// New opens the journal sinks, binds the listeners and builds the simulation.
// Nothing is served until Run.
func New(cfg Config, opts Options) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, stopTimeout: shutdownTimeout}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	st := &state{
		train:    train.NewState(),
		registry: registry.New(cfg.MaxClients),
		started:  time.Now(),
	}
	a.state = st
	if st.journal, err = a.openJournal(opts.Stdout); err != nil {
		return nil, err
	}
	st.broadcaster = registry.NewBroadcaster(st.registry, st.journal)
	st.sim = train.NewSimulation(st.train, st.broadcaster, train.Options{
		TimeScale:    cfg.TimeScale,
		TickInterval: cfg.TickInterval.Std(),
		Clock:        opts.Clock,
	})

	if a.listener, err = net.Listen("tcp", cfg.Addr); err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	if cfg.HTTPAddr != "" {
		if a.httpListener, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
			return nil, fmt.Errorf("listen http on %s: %w", cfg.HTTPAddr, err)
		}
	}
	if cfg.HealthAddr != "" {
		if a.healthListener, err = net.Listen("tcp", cfg.HealthAddr); err != nil {
			return nil, fmt.Errorf("listen health on %s: %w", cfg.HealthAddr, err)
		}
	}
	return a, nil
}

// openJournal builds the fan-out of every configured journal sink. Slow sinks
// sit behind an Async queue so protocol writers never wait on disk.
func (a *App) openJournal(stdout io.Writer) (journal.Hook, error) {
	var writers []io.Writer
	if a.cfg.JournalStdout {
		if stdout == nil {
			stdout = os.Stdout
		}
		writers = append(writers, stdout)
	}
	if a.cfg.LogFile != "" {
		if dir := filepath.Dir(a.cfg.LogFile); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create log dir: %w", err)
			}
		}
		f, err := os.OpenFile(a.cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		a.closers = append(a.closers, f)
		writers = append(writers, f)
	}

	var sinks []journal.Hook
	if len(writers) > 0 {
		sinks = append(sinks, journal.NewTextSink(writers...).Record)
	}
	if a.cfg.JournalDB != "" {
		store, err := journal.OpenStore(a.cfg.JournalDB)
		if err != nil {
			return nil, fmt.Errorf("open journal store: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, store)
		sinks = append(sinks, store.Record)
	}

	sink := journal.Multi(sinks...)
	if sink == nil {
		return nil, nil
	}
	async := journal.NewAsync(sink, journal.DefaultBuffer)
	// Flush the queue before the files and the store underneath it close.
	a.closers = append([]io.Closer{async}, a.closers...)
	return async.Record, nil
}

// Addr returns the bound protocol address.
func (a *App) Addr() string { return a.listener.Addr().String() }

// HTTPAddr returns the bound status address, or "" when disabled.
func (a *App) HTTPAddr() string {
	if a.httpListener == nil {
		return ""
	}
	return a.httpListener.Addr().String()
}

// HealthAddr returns the bound gRPC health address, or "" when disabled.
func (a *App) HealthAddr() string {
	if a.healthListener == nil {
		return ""
	}
	return a.healthListener.Addr().String()
}

// Run serves until ctx is done or a component fails. Listeners are closed on
// return; the journal is flushed by Close.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.serveTCP(ctx) })
	g.Go(func() error { return a.sim.Run(ctx) })
	if a.httpListener != nil {
		g.Go(func() error { return a.serveHTTP(ctx) })
	}
	if a.healthListener != nil {
		g.Go(func() error { return a.serveHealth(ctx) })
	}
	log.Printf("metro server listening on %s (max %d clients)", a.Addr(), a.registry.Capacity())
	return g.Wait()
}

// Close releases the listeners and flushes the journal sinks. Safe after Run
// and on a nil App.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for _, l := range []net.Listener{a.listener, a.httpListener, a.healthListener} {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

const otelShutdownTimeout = 5 * time.Second

// Run sets up tracing, builds an App from cfg and serves until ctx is done.
func Run(ctx context.Context, cfg Config) error {
	shutdown, err := otel.Setup(ctx, serviceName)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), otelShutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()

	a, err := New(cfg, Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}()
	if err := a.Run(ctx); err != nil {
		return err
	}
	log.Printf("metro server stopped")
	return nil
}
