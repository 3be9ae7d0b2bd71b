package launcher

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

const errPrefix = "Error starting local server"

// LoadError means the task module could not be loaded, or the engine
// refused it. No server was listening.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: load %s: %v", errPrefix, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// BindError means the server could not listen on the requested address.
type BindError struct {
	Host string
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%s: listen on %s: %v", errPrefix, net.JoinHostPort(e.Host, strconv.Itoa(e.Port)), e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// ShutdownTimeoutError means closing the server took longer than the
// shutdown grace period.
type ShutdownTimeoutError struct {
	Grace time.Duration
	Err   error
}

func (e *ShutdownTimeoutError) Error() string {
	return fmt.Sprintf("%s: shutdown did not complete within %s: %v", errPrefix, e.Grace, e.Err)
}

func (e *ShutdownTimeoutError) Unwrap() error { return e.Err }

// ServeError means the server stopped serving on its own while listening.
type ServeError struct {
	Err error
}

func (e *ServeError) Error() string {
	return fmt.Sprintf("%s: serve: %v", errPrefix, e.Err)
}

func (e *ServeError) Unwrap() error { return e.Err }
