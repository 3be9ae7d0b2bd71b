package task

import (
	"context"
	"errors"

	"github.com/loykin/taskserve/internal/kv"
	"github.com/loykin/taskserve/internal/storage"
)

// ErrUnsupportedModule is returned by Load for files that are neither a YAML
// template task nor an executable.
var ErrUnsupportedModule = errors.New("unsupported task module")

// Module is a loaded task that turns one request into one response.
type Module interface {
	// Name identifies the module in logs.
	Name() string
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Header represents a single header key-value pair.
type Header struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

// Request is the view of an inbound HTTP request that a module receives.
// Data merges query, body (when enabled), params and secrets; later sources
// win in that order.
type Request struct {
	ID         string            `json:"id"`
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Query      map[string]string `json:"query"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"-"`
	ParsedBody map[string]any    `json:"parsed_body,omitempty"`
	Data       map[string]any    `json:"data"`
	Secrets    kv.Map            `json:"secrets"`
	Params     kv.Map            `json:"params"`
	// Token is a signed statement of Params issued by the engine.
	Token   string        `json:"token"`
	Storage storage.Store `json:"-"`
}

// Response is what a module produced. A zero Status means 200.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}
