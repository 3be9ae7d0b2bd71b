package task

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/taskserve/internal/common"
	"github.com/loykin/taskserve/internal/constants"
	"github.com/loykin/taskserve/internal/storage"
)

// Exec is a Module backed by an executable. Each request runs the program
// once with the JSON encoded request on stdin. The program answers on
// stdout, either with a JSON envelope
//
//	{"status": 201, "headers": {"X-A": "b"}, "body": ..., "storage": {"data": "...", "version": 3}}
//
// or with anything else, which is returned verbatim as a 200 text body.
type Exec struct {
	path    string
	timeout time.Duration
}

// NewExec returns a module running the executable at path.
func NewExec(path string) *Exec {
	return &Exec{path: path, timeout: constants.DefaultExecTimeout}
}

// WithTimeout returns a copy of e whose runs are cut off after d.
func (e *Exec) WithTimeout(d time.Duration) *Exec {
	c := *e
	c.timeout = d
	return &c
}

func (e *Exec) Name() string { return filepath.Base(e.path) }

type execInput struct {
	*Request
	Body    string       `json:"body"`
	Storage execDocument `json:"storage"`
}

type execDocument struct {
	Data    string `json:"data"`
	Version int64  `json:"version"`
	Force   bool   `json:"force,omitempty"`
}

type execOutput struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
	Storage *execDocument     `json:"storage"`
}

func (e *Exec) Execute(ctx context.Context, req *Request) (*Response, error) {
	logger := common.GetLogger().WithComponent("task-exec").WithModule(e.path)

	var doc storage.Document
	if req.Storage != nil {
		d, err := req.Storage.Get(ctx)
		if err != nil {
			return nil, err
		}
		doc = d
	}
	in, err := json.Marshal(execInput{
		Request: req,
		Body:    string(req.Body),
		Storage: execDocument{Data: doc.Data, Version: doc.Version},
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := commandContext(runCtx, e.path)
	cmd.Dir = filepath.Dir(e.path)
	cmd.Stdin = bytes.NewReader(in)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err = cmd.Run()
	if stderr.Len() > 0 {
		logger.Info("task stderr", "request_id", req.ID, "output", strings.TrimSpace(stderr.String()))
	}
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("task %s timed out after %s", e.Name(), e.timeout)
		}
		return nil, fmt.Errorf("task %s failed: %w", e.Name(), err)
	}
	logger.Debug("task finished", "request_id", req.ID, "duration", time.Since(start))

	out, ok := parseExecOutput(stdout.Bytes())
	if !ok {
		return &Response{
			Status:  http.StatusOK,
			Headers: map[string]string{"Content-Type": "text/plain; charset=utf-8"},
			Body:    stdout.Bytes(),
		}, nil
	}

	if out.Storage != nil && req.Storage != nil {
		if _, err := req.Storage.Set(ctx, out.Storage.Data, out.Storage.Version, out.Storage.Force); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return &Response{
					Status:  http.StatusConflict,
					Headers: map[string]string{"Content-Type": "application/json"},
					Body:    []byte(`{"error":"storage conflict"}`),
				}, nil
			}
			return nil, err
		}
	}

	resp := &Response{Status: out.Status, Headers: out.Headers}
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Body = execBody(out.Body, resp.Headers)
	return resp, nil
}

// parseExecOutput recognises the JSON envelope. Output that is not a JSON
// object carrying at least one of status, headers or body is not an
// envelope.
func parseExecOutput(b []byte) (execOutput, bool) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return execOutput{}, false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return execOutput{}, false
	}
	_, hasStatus := probe["status"]
	_, hasHeaders := probe["headers"]
	_, hasBody := probe["body"]
	if !hasStatus && !hasHeaders && !hasBody {
		return execOutput{}, false
	}
	var out execOutput
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return execOutput{}, false
	}
	return out, true
}

// execBody turns the envelope body into bytes: JSON strings are unquoted,
// other JSON values are sent as application/json.
func execBody(raw json.RawMessage, headers map[string]string) []byte {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s)
	}
	if _, ok := headers["Content-Type"]; !ok {
		headers["Content-Type"] = "application/json"
	}
	return raw
}
