package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/loykin/taskserve/internal/constants"
	"github.com/loykin/taskserve/internal/task"
	"github.com/tidwall/gjson"
)

var errBodyNotObject = errors.New("JSON body must be an object")

// handle runs the module for every route the router does not answer itself.
func (s *Server) handle(c *gin.Context) {
	id := c.GetString(requestIDKey)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, constants.DefaultMaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abort(c, http.StatusRequestEntityTooLarge, err)
			return
		}
		abort(c, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}

	req := &task.Request{
		ID:      id,
		Method:  c.Request.Method,
		Path:    c.Request.URL.Path,
		Query:   firstValues(c.Request.URL.Query()),
		Headers: firstValues(c.Request.Header),
		Body:    body,
		Secrets: s.cfg.Secrets(),
		Params:  s.cfg.Params(),
		Storage: s.store,
	}

	// merging needs a parsed body, so MergeBody implies ParseBody
	if s.cfg.ParseBody() || s.cfg.MergeBody() {
		parsed, err := parseBody(c.ContentType(), body)
		if err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}
		req.ParsedBody = parsed
	}
	req.Data = requestData(req, s.cfg.MergeBody())

	if req.Token, err = s.tokens.issue(req.Params, id); err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	resp, err := s.module.Execute(c.Request.Context(), req)
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	writeResponse(c, resp)
}

func abort(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "request_id": c.GetString(requestIDKey)})
}

func writeResponse(c *gin.Context, resp *task.Response) {
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	contentType := ""
	for k, v := range resp.Headers {
		if strings.EqualFold(k, "Content-Type") {
			contentType = v
			continue
		}
		c.Header(k, v)
	}
	if contentType == "" && len(resp.Body) > 0 {
		contentType = http.DetectContentType(resp.Body)
	}
	c.Data(status, contentType, resp.Body)
}

func firstValues(in map[string][]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// parseBody decodes JSON objects and urlencoded forms. Other content types
// and empty bodies yield nil.
func parseBody(contentType string, body []byte) (map[string]any, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}
	switch contentType {
	case gin.MIMEJSON:
		if !gjson.ValidBytes(body) {
			return nil, errors.New("invalid JSON body")
		}
		if !gjson.ParseBytes(body).IsObject() {
			return nil, errBodyNotObject
		}
		var out map[string]any
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("decode JSON body: %w", err)
		}
		return out, nil
	case gin.MIMEPOSTForm:
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("decode form body: %w", err)
		}
		out := make(map[string]any, len(values))
		for k, v := range values {
			if len(v) == 1 {
				out[k] = v[0]
			} else {
				out[k] = v
			}
		}
		return out, nil
	}
	return nil, nil
}

// requestData layers query, body, params and secrets, later sources winning.
func requestData(req *task.Request, mergeBody bool) map[string]any {
	data := map[string]any{}
	for k, v := range req.Query {
		data[k] = v
	}
	if mergeBody {
		for k, v := range req.ParsedBody {
			data[k] = v
		}
	}
	for k, v := range req.Params {
		data[k] = v
	}
	for k, v := range req.Secrets {
		data[k] = v
	}
	return data
}
