package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/loykin/taskserve/internal/common"
	"github.com/loykin/taskserve/internal/execconfig"
	"github.com/loykin/taskserve/internal/kv"
	"github.com/loykin/taskserve/internal/storage"
	"github.com/loykin/taskserve/internal/task"
	"go.uber.org/atomic"
)

// Addr is the address a server is bound to.
type Addr struct {
	Family  string // "IPv4" or "IPv6"
	Address string
	Port    int
}

func (a Addr) String() string {
	return net.JoinHostPort(a.Address, strconv.Itoa(a.Port))
}

// Server serves one task module. It is created by Engine.CreateServer and
// goes through created, listening and closed exactly once.
type Server struct {
	logger *common.Logger
	module task.Module
	cfg    execconfig.Config
	store  storage.Store
	tokens *tokenIssuer
	router *gin.Engine
	http   *http.Server

	mu        sync.Mutex
	addr      Addr
	started   bool
	listening atomic.Bool
	done      chan error
	storeOnce sync.Once
	storeErr  error
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Storage returns the module's store.
func (s *Server) Storage() storage.Store { return s.store }

// Listen binds host:port and starts serving in the background. Port 0 picks
// a free port. A server can listen only once; when binding fails the
// server's storage is released and the server cannot be reused.
func (s *Server) Listen(ctx context.Context, host string, port int) (Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return Addr{}, errors.New("server already started")
	}
	s.started = true

	if port < 0 || port > 65535 {
		_ = s.closeStore()
		return Addr{}, fmt.Errorf("invalid port %d", port)
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		_ = s.closeStore()
		return Addr{}, err
	}

	s.addr = addrOf(ln.Addr())
	s.listening.Store(true)
	s.logger.Debug("listening", "addr", s.addr.String())

	go func() {
		err := s.http.Serve(ln)
		s.listening.Store(false)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.logger.Error("serve failed", "error", err)
			_ = s.closeStore()
		}
		s.done <- err
		close(s.done)
	}()
	return s.addr, nil
}

func addrOf(a net.Addr) Addr {
	tcp, ok := a.(*net.TCPAddr)
	if !ok {
		return Addr{Address: a.String()}
	}
	family := "IPv6"
	if tcp.IP.To4() != nil {
		family = "IPv4"
	}
	return Addr{Family: family, Address: tcp.IP.String(), Port: tcp.Port}
}

// Addr returns the bound address, or the zero Addr before Listen succeeded.
func (s *Server) Addr() Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Listening reports whether the server currently accepts connections.
func (s *Server) Listening() bool { return s.listening.Load() }

// Wait returns a channel that receives the serve loop's result once it
// stops: nil after Close, the error otherwise. It never fires before Listen.
func (s *Server) Wait() <-chan error { return s.done }

// Close stops accepting connections and waits for in-flight requests until
// ctx ends, at which point remaining connections are dropped and ctx's error
// is returned. The store is closed in both cases.
func (s *Server) Close(ctx context.Context) error {
	s.listening.Store(false)
	err := s.http.Shutdown(ctx)
	if err != nil {
		_ = s.http.Close()
		s.logger.Warn("forced close after shutdown deadline", "error", err)
	}
	if serr := s.closeStore(); serr != nil && err == nil {
		err = fmt.Errorf("close storage: %w", serr)
	}
	return err
}

func (s *Server) closeStore() error {
	s.storeOnce.Do(func() { s.storeErr = s.store.Close() })
	return s.storeErr
}

// VerifyToken checks a token issued by this server and returns the params
// it carries.
func (s *Server) VerifyToken(token string) (kv.Map, error) {
	return s.tokens.verify(token)
}
