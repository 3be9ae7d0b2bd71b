package task

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/loykin/taskserve/internal/storage"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// TemplateSpec is the YAML form of a template task module. Every string
// field is a Go text/template rendered against the request.
type TemplateSpec struct {
	Name        string   `yaml:"name"`
	Status      string   `yaml:"status"`
	ContentType string   `yaml:"content_type"`
	Headers     []Header `yaml:"headers"`
	Body        string   `yaml:"body"`
	// Storage, when set, is rendered after Body and written to the task's
	// storage. A concurrent write answers 409.
	Storage string `yaml:"storage"`
}

// Template is a Module rendering responses from a TemplateSpec.
type Template struct {
	spec    TemplateSpec
	status  *template.Template
	body    *template.Template
	store   *template.Template
	headers []compiledHeader
}

type compiledHeader struct {
	name  string
	value *template.Template
}

// LoadTemplate reads and compiles a YAML template module.
func LoadTemplate(path string) (*Template, error) {
	clean := filepath.Clean(path)
	// #nosec G304 -- the task file is chosen by the user running the server
	f, err := os.Open(clean)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var spec TemplateSpec
	if err := yaml.NewDecoder(f).Decode(&spec); err != nil {
		return nil, fmt.Errorf("failed to decode YAML task module %s: %w", clean, err)
	}
	if strings.TrimSpace(spec.Name) == "" {
		spec.Name = strings.TrimSuffix(filepath.Base(clean), filepath.Ext(clean))
	}
	return NewTemplate(spec)
}

// NewTemplate compiles spec. Template syntax errors are reported here rather
// than on the first request.
func NewTemplate(spec TemplateSpec) (*Template, error) {
	t := &Template{spec: spec}
	var err error
	if t.status, err = compile("status", spec.Status); err != nil {
		return nil, err
	}
	if t.body, err = compile("body", spec.Body); err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec.Storage) != "" {
		if t.store, err = compile("storage", spec.Storage); err != nil {
			return nil, err
		}
	}
	for _, h := range spec.Headers {
		if h.Name == "" {
			continue
		}
		v, err := compile("header "+h.Name, h.Value)
		if err != nil {
			return nil, err
		}
		t.headers = append(t.headers, compiledHeader{name: h.Name, value: v})
	}
	return t, nil
}

func compile(name, text string) (*template.Template, error) {
	tpl, err := template.New(name).Funcs(templateFuncs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("invalid %s template: %w", name, err)
	}
	return tpl, nil
}

var templateFuncs = template.FuncMap{
	// jsonpath evaluates a gjson path against a JSON document
	"jsonpath": func(path string, doc any) string {
		switch v := doc.(type) {
		case string:
			return gjson.Get(v, path).String()
		case []byte:
			return gjson.GetBytes(v, path).String()
		default:
			return ""
		}
	},
	"toJSON": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"default": func(def string, v any) string {
		if v == nil {
			return def
		}
		if s := fmt.Sprint(v); s != "" {
			return s
		}
		return def
	},
}

func (t *Template) Name() string { return t.spec.Name }

func (t *Template) Execute(ctx context.Context, req *Request) (*Response, error) {
	var doc storage.Document
	if req.Storage != nil {
		d, err := req.Storage.Get(ctx)
		if err != nil {
			return nil, err
		}
		doc = d
	}
	data := templateData(req, doc)

	body, err := render(t.body, data)
	if err != nil {
		return nil, err
	}

	status := http.StatusOK
	if s, err := render(t.status, data); err != nil {
		return nil, err
	} else if s = strings.TrimSpace(s); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 100 || n > 999 {
			return nil, fmt.Errorf("invalid status %q", s)
		}
		status = n
	}

	headers := map[string]string{}
	if ct := strings.TrimSpace(t.spec.ContentType); ct != "" {
		headers["Content-Type"] = ct
	}
	for _, h := range t.headers {
		v, err := render(h.value, data)
		if err != nil {
			return nil, err
		}
		headers[h.name] = v
	}

	if t.store != nil && req.Storage != nil {
		next, err := render(t.store, data)
		if err != nil {
			return nil, err
		}
		if _, err := req.Storage.Set(ctx, next, doc.Version, false); err != nil {
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

	return &Response{Status: status, Headers: headers, Body: []byte(body)}, nil
}

func render(tpl *template.Template, data map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", tpl.Name(), err)
	}
	return buf.String(), nil
}

func templateData(req *Request, doc storage.Document) map[string]any {
	return map[string]any{
		"id":              req.ID,
		"method":          req.Method,
		"path":            req.Path,
		"query":           req.Query,
		"headers":         req.Headers,
		"body":            string(req.Body),
		"parsed":          req.ParsedBody,
		"data":            req.Data,
		"secrets":         map[string]string(req.Secrets),
		"params":          map[string]string(req.Params),
		"token":           req.Token,
		"storage":         doc.Data,
		"storage_version": doc.Version,
	}
}
