// Package engine executes a task module behind an HTTP server. It owns
// request parsing, the data handed to the module, the params token and the
// module's storage.
package engine

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/loykin/taskserve/internal/common"
	"github.com/loykin/taskserve/internal/constants"
	"github.com/loykin/taskserve/internal/execconfig"
	"github.com/loykin/taskserve/internal/storage"
	"github.com/loykin/taskserve/internal/task"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// Engine creates servers for task modules.
type Engine struct {
	logger *common.Logger
}

// NewEngine returns an Engine logging through logger, or through the
// default logger when logger is nil.
func NewEngine(logger *common.Logger) *Engine {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Engine{logger: logger.WithComponent("engine")}
}

// CreateServer prepares a server for module. It opens the configured
// storage but does not bind a socket; call Listen for that.
func (e *Engine) CreateServer(ctx context.Context, module task.Module, cfg execconfig.Config) (*Server, error) {
	if module == nil {
		return nil, fmt.Errorf("task module is nil")
	}
	store, err := storage.Open(ctx, cfg.StorageFile())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	tokens, err := newTokenIssuer()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	s := &Server{
		logger: e.logger.WithModule(module.Name()).WithStore(store.Kind()),
		module: module,
		cfg:    cfg,
		store:  store,
		tokens: tokens,
		done:   make(chan error, 1),
	}
	s.router = s.newRouter()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: constants.DefaultReadHeaderTimeout,
	}
	s.logger.Debug("server created", "parse_body", cfg.ParseBody(), "merge_body", cfg.MergeBody())
	return s, nil
}

func (s *Server) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(s.logger))
	if s.cfg.ShowFavicon() {
		r.GET("/favicon.ico", favicon)
		r.HEAD("/favicon.ico", favicon)
	}
	r.NoRoute(s.handle)
	return r
}

func favicon(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=86400")
	c.Status(http.StatusNoContent)
}
