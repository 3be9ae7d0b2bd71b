package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/loykin/taskserve/internal/common"
	"github.com/loykin/taskserve/internal/execconfig"
	"github.com/loykin/taskserve/internal/kv"
	"github.com/loykin/taskserve/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoModule answers with the request it received.
type echoModule struct {
	mu   sync.Mutex
	last *task.Request
}

func (m *echoModule) Name() string { return "echo" }

func (m *echoModule) lastRequest() *task.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *echoModule) Execute(_ context.Context, req *task.Request) (*task.Response, error) {
	m.mu.Lock()
	m.last = req
	m.mu.Unlock()
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return &task.Response{
		Status:  http.StatusAccepted,
		Headers: map[string]string{"Content-Type": "application/json", "X-Echo": req.Method},
		Body:    b,
	}, nil
}

type failingModule struct{}

func (failingModule) Name() string { return "failing" }
func (failingModule) Execute(context.Context, *task.Request) (*task.Response, error) {
	return nil, errors.New("module exploded")
}

func testLogger() *common.Logger {
	return common.NewLoggerTo(io.Discard, common.LogLevelDebug, false)
}

func newTestServer(t *testing.T, m task.Module, opts execconfig.Options) (*Server, *resty.Client) {
	t.Helper()
	srv, err := NewEngine(testLogger()).CreateServer(context.Background(), m, execconfig.Build(opts))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close(context.Background())
	})
	return srv, resty.New().SetBaseURL(ts.URL)
}

func TestCreateServer_NilModule(t *testing.T) {
	_, err := NewEngine(nil).CreateServer(context.Background(), nil, execconfig.Build(execconfig.Options{}))
	assert.Error(t, err)
}

func TestCreateServer_BadStorage(t *testing.T) {
	dir := t.TempDir()
	// a directory cannot be opened as a SQLite database
	_, err := NewEngine(testLogger()).CreateServer(context.Background(), &echoModule{},
		execconfig.Build(execconfig.Options{StorageFile: dir}))
	assert.Error(t, err)
}

func TestHandle_RequestShape(t *testing.T) {
	m := &echoModule{}
	_, client := newTestServer(t, m, execconfig.Options{
		Secrets: kv.Map{"API_KEY": "s3cret", "shared": "from-secret"},
		Params:  kv.Map{"region": "eu", "shared": "from-param"},
	})

	resp, err := client.R().
		SetQueryParams(map[string]string{"q": "1", "region": "us"}).
		SetHeader("X-Custom", "yes").
		SetBody(`{"a":1}`).
		SetHeader("Content-Type", "application/json").
		Post("/some/path")
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode())
	assert.Equal(t, "POST", resp.Header().Get("X-Echo"))
	_, err = uuid.Parse(resp.Header().Get(requestIDHeader))
	assert.NoError(t, err)

	req := m.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "/some/path", req.Path)
	assert.Equal(t, "1", req.Query["q"])
	assert.Equal(t, "yes", req.Headers["X-Custom"])
	assert.Equal(t, `{"a":1}`, string(req.Body))
	assert.Nil(t, req.ParsedBody, "body parsing is off")
	assert.Equal(t, "s3cret", req.Secrets["API_KEY"])
	assert.Equal(t, "eu", req.Params["region"])
	assert.NotNil(t, req.Storage)

	// query < params < secrets
	assert.Equal(t, "1", req.Data["q"])
	assert.Equal(t, "eu", req.Data["region"])
	assert.Equal(t, "from-secret", req.Data["shared"])
	_, hasBodyKey := req.Data["a"]
	assert.False(t, hasBodyKey)
}

func TestHandle_ParseBody(t *testing.T) {
	m := &echoModule{}
	_, client := newTestServer(t, m, execconfig.Options{ParseBody: true})

	_, err := client.R().SetHeader("Content-Type", "application/json").SetBody(`{"user":{"name":"ada"}}`).Post("/")
	require.NoError(t, err)
	require.NotNil(t, m.lastRequest().ParsedBody)
	assert.Equal(t, map[string]any{"name": "ada"}, m.lastRequest().ParsedBody["user"])
	_, merged := m.lastRequest().Data["user"]
	assert.False(t, merged, "merge is off")

	_, err = client.R().SetFormData(map[string]string{"x": "1", "y": "2"}).Post("/form")
	require.NoError(t, err)
	assert.Equal(t, "1", m.lastRequest().ParsedBody["x"])

	_, err = client.R().SetHeader("Content-Type", "text/plain").SetBody("hello").Post("/text")
	require.NoError(t, err)
	assert.Nil(t, m.lastRequest().ParsedBody)
	assert.Equal(t, "hello", string(m.lastRequest().Body))
}

func TestHandle_ParseBodyErrors(t *testing.T) {
	_, client := newTestServer(t, &echoModule{}, execconfig.Options{ParseBody: true})

	for _, body := range []string{`{"a":`, `[1,2]`} {
		resp, err := client.R().SetHeader("Content-Type", "application/json").SetBody(body).Post("/")
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode(), body)
	}
}

func TestHandle_MergeBody(t *testing.T) {
	m := &echoModule{}
	_, client := newTestServer(t, m, execconfig.Options{
		MergeBody: true,
		Params:    kv.Map{"p": "param"},
	})

	_, err := client.R().
		SetQueryParam("q", "query").
		SetQueryParam("b", "query").
		SetHeader("Content-Type", "application/json").
		SetBody(`{"b":"body","p":"body"}`).
		Post("/")
	require.NoError(t, err)
	require.NotNil(t, m.lastRequest().ParsedBody, "merge implies parsing")
	assert.Equal(t, "query", m.lastRequest().Data["q"])
	assert.Equal(t, "body", m.lastRequest().Data["b"])
	assert.Equal(t, "param", m.lastRequest().Data["p"])
}

func TestHandle_Token(t *testing.T) {
	m := &echoModule{}
	srv, client := newTestServer(t, m, execconfig.Options{Params: kv.Map{"region": "eu"}})

	_, err := client.R().Get("/")
	require.NoError(t, err)
	params, err := srv.VerifyToken(m.lastRequest().Token)
	require.NoError(t, err)
	assert.Equal(t, kv.Map{"region": "eu"}, params)

	other, err := NewEngine(testLogger()).CreateServer(context.Background(), m, execconfig.Build(execconfig.Options{}))
	require.NoError(t, err)
	defer func() { _ = other.Close(context.Background()) }()
	_, err = other.VerifyToken(m.lastRequest().Token)
	assert.Error(t, err, "tokens are bound to the issuing server")

	_, err = srv.VerifyToken("")
	assert.Error(t, err)
}

func TestHandle_RequestIDPassthrough(t *testing.T) {
	m := &echoModule{}
	_, client := newTestServer(t, m, execconfig.Options{})
	id := uuid.NewString()

	resp, err := client.R().SetHeader(requestIDHeader, id).Get("/")
	require.NoError(t, err)
	assert.Equal(t, id, resp.Header().Get(requestIDHeader))
	assert.Equal(t, id, m.lastRequest().ID)

	resp, err = client.R().SetHeader(requestIDHeader, "not-a-uuid").Get("/")
	require.NoError(t, err)
	assert.NotEqual(t, "not-a-uuid", resp.Header().Get(requestIDHeader))
}

func TestHandle_Favicon(t *testing.T) {
	m := &echoModule{}
	_, client := newTestServer(t, m, execconfig.Options{})

	resp, err := client.R().Get("/favicon.ico")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode())
	assert.Nil(t, m.lastRequest(), "favicon never reaches the module")
}

func TestHandle_ModuleError(t *testing.T) {
	_, client := newTestServer(t, failingModule{}, execconfig.Options{})

	resp, err := client.R().Get("/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode())
	assert.Contains(t, resp.String(), "module exploded")
}

func TestHandle_TemplateModuleWithStorage(t *testing.T) {
	m, err := task.NewTemplate(task.TemplateSpec{
		Name:    "counter",
		Body:    `{{ .storage }}`,
		Storage: `{{ .storage }}+`,
	})
	require.NoError(t, err)
	_, client := newTestServer(t, m, execconfig.Options{
		StorageFile: filepath.Join(t.TempDir(), "nested", "store.db"),
	})

	var bodies []string
	for i := 0; i < 3; i++ {
		resp, err := client.R().Get("/")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode())
		bodies = append(bodies, resp.String())
	}
	assert.Equal(t, []string{"", "+", "++"}, bodies)
}

func TestWriteResponse_DefaultsAndSniffing(t *testing.T) {
	m := &plainModule{body: "<html><body>hi</body></html>"}
	_, client := newTestServer(t, m, execconfig.Options{})

	resp, err := client.R().Get("/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.True(t, strings.HasPrefix(resp.Header().Get("Content-Type"), "text/html"))
}

type plainModule struct{ body string }

func (p *plainModule) Name() string { return "plain" }
func (p *plainModule) Execute(context.Context, *task.Request) (*task.Response, error) {
	return &task.Response{Body: []byte(p.body)}, nil
}

// blockingModule holds requests until release is closed.
type blockingModule struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingModule) Name() string { return "blocking" }
func (b *blockingModule) Execute(ctx context.Context, _ *task.Request) (*task.Response, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return &task.Response{}, nil
}
