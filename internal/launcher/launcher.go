// Package launcher runs one bounded local server session for a task module:
// load the module, create and bind a server, keep it up until the session
// ceiling, then shut it down. The server is released exactly once on every
// path out of a session.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/taskserve/internal/common"
	"github.com/loykin/taskserve/internal/constants"
	"github.com/loykin/taskserve/internal/engine"
	"github.com/loykin/taskserve/internal/execconfig"
	"github.com/loykin/taskserve/internal/task"
)

// Loader loads a task module from an absolute path.
type Loader interface {
	Load(path string) (task.Module, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(path string) (task.Module, error)

func (f LoaderFunc) Load(path string) (task.Module, error) { return f(path) }

// Server is a server handle owned by a session.
type Server interface {
	Listen(ctx context.Context, host string, port int) (engine.Addr, error)
	// Close must only be called while Listening reports true.
	Close(ctx context.Context) error
	Listening() bool
	// Wait delivers the serve loop's result when it stops.
	Wait() <-chan error
}

// Engine creates server handles. CreateServer must not bind a socket.
type Engine interface {
	CreateServer(ctx context.Context, module task.Module, cfg execconfig.Config) (Server, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, module task.Module, cfg execconfig.Config) (Server, error)

func (f EngineFunc) CreateServer(ctx context.Context, module task.Module, cfg execconfig.Config) (Server, error) {
	return f(ctx, module, cfg)
}

// FromEngine adapts the HTTP task engine.
func FromEngine(e *engine.Engine) Engine {
	return EngineFunc(func(ctx context.Context, module task.Module, cfg execconfig.Config) (Server, error) {
		srv, err := e.CreateServer(ctx, module, cfg)
		if err != nil {
			return nil, err
		}
		return srv, nil
	})
}

// Outcome is how a session that did not fail ended.
type Outcome int

const (
	// Failed accompanies every non-nil error from Run.
	Failed Outcome = iota
	// Completed means the session ceiling elapsed and shutdown went cleanly.
	Completed
	// Cancelled means the caller's context ended the session early.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// RunOptions describe one session.
type RunOptions struct {
	ModulePath string
	Host       string
	Port       int
	Config     execconfig.Config
	// SessionCeiling bounds how long the server listens. Zero means
	// constants.DefaultSessionTimeout.
	SessionCeiling time.Duration
	// ShutdownGrace bounds how long closing may take. Zero means
	// constants.DefaultShutdownGrace.
	ShutdownGrace time.Duration
}

// Launcher runs sessions.
type Launcher struct {
	loader   Loader
	engine   Engine
	observer Observer
	logger   *common.Logger
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithLoader replaces task.Load as the module loader.
func WithLoader(l Loader) Option { return func(x *Launcher) { x.loader = l } }

// WithObserver replaces the logging observer.
func WithObserver(o Observer) Option { return func(x *Launcher) { x.observer = o } }

// WithLogger sets the logger used by the launcher and its default observer.
func WithLogger(l *common.Logger) Option { return func(x *Launcher) { x.logger = l } }

// New returns a Launcher creating servers through e.
func New(e Engine, opts ...Option) *Launcher {
	l := &Launcher{engine: e, loader: LoaderFunc(task.Load)}
	for _, o := range opts {
		o(l)
	}
	if l.logger == nil {
		l.logger = common.GetLogger()
	}
	l.logger = l.logger.WithComponent("launcher")
	if l.observer == nil {
		l.observer = NewLogObserver(l.logger)
	}
	return l
}

// Run drives one session to its end. It returns Completed when the session
// ceiling elapsed and the server shut down within the grace period, and
// Cancelled when ctx ended first. Every error is one of *LoadError,
// *BindError, *ShutdownTimeoutError or *ServeError, returned with Failed.
func (l *Launcher) Run(ctx context.Context, opts RunOptions) (Outcome, error) {
	ceiling := opts.SessionCeiling
	if ceiling <= 0 {
		ceiling = constants.DefaultSessionTimeout
	}
	grace := opts.ShutdownGrace
	if grace <= 0 {
		grace = constants.DefaultShutdownGrace
	}

	path, err := filepath.Abs(opts.ModulePath)
	if err != nil {
		return Failed, &LoadError{Path: opts.ModulePath, Err: err}
	}
	logger := l.logger.WithModule(path)

	module, err := l.loader.Load(path)
	if err != nil {
		return Failed, &LoadError{Path: path, Err: err}
	}
	srv, err := l.engine.CreateServer(ctx, module, opts.Config)
	if err != nil {
		return Failed, &LoadError{Path: path, Err: err}
	}
	logger.Debug("server created")

	release := newReleaser(srv, grace, logger)
	defer func() { _ = release.do() }()

	addr, err := srv.Listen(ctx, opts.Host, opts.Port)
	if err != nil {
		_ = release.do()
		return Failed, &BindError{Host: opts.Host, Port: opts.Port, Err: err}
	}
	l.observer.Listening(addr)

	timer := time.NewTimer(ceiling)
	defer timer.Stop()

	select {
	case <-timer.C:
		l.observer.AutoShutdown(ceiling)
		if err := release.do(); err != nil {
			return Failed, err
		}
		return Completed, nil
	case err := <-srv.Wait():
		_ = release.do()
		if err != nil {
			return Failed, &ServeError{Err: err}
		}
		return Completed, nil
	case <-ctx.Done():
		logger.Info("session cancelled", "reason", context.Cause(ctx))
		if err := release.do(); err != nil {
			return Failed, err
		}
		return Cancelled, nil
	}
}

// releaser closes a server at most once, and only if it is listening.
type releaser struct {
	srv    Server
	grace  time.Duration
	logger *common.Logger
	once   sync.Once
	err    error
}

func newReleaser(srv Server, grace time.Duration, logger *common.Logger) *releaser {
	return &releaser{srv: srv, grace: grace, logger: logger}
}

func (r *releaser) do() error {
	r.once.Do(func() {
		if !r.srv.Listening() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.grace)
		defer cancel()

		start := time.Now()
		errc := make(chan error, 1)
		go func() { errc <- r.srv.Close(ctx) }()
		// a Close that ignores ctx must not hang the session
		var err error
		select {
		case err = <-errc:
		case <-ctx.Done():
			err = ctx.Err()
		}
		switch {
		case err == nil:
			r.logger.Info("local server closed", "took", time.Since(start))
		case errors.Is(err, context.DeadlineExceeded):
			r.err = &ShutdownTimeoutError{Grace: r.grace, Err: err}
		default:
			r.err = fmt.Errorf("%s: close: %w", errPrefix, err)
		}
	})
	return r.err
}
