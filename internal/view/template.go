package view

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
	"golang.org/x/text/language"

	"openadmin/internal/i18n"
	"openadmin/internal/logger"
)

const templateExt = ".html"

//go:embed templates
var embedded embed.FS

var filtersOnce sync.Once

func registerFilters() {
	filtersOnce.Do(func() {
		if !pongo2.FilterExists("sanitize") {
			_ = pongo2.RegisterFilter("sanitize", func(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
				return pongo2.AsSafeValue(Sanitize(in.String())), nil
			})
		}
	})
}

// TemplateRenderer renders views with pongo2. Templates in the override
// directory shadow the embedded ones.
type TemplateRenderer struct {
	mu        sync.RWMutex
	set       *pongo2.TemplateSet
	templates map[string]*pongo2.Template
	bundle    *i18n.Bundle
	lggr      logger.Logger
}

func NewTemplateRenderer(overrideDir string, bundle *i18n.Bundle, lggr logger.Logger) (*TemplateRenderer, error) {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		return nil, err
	}
	loader := &layeredLoader{fsys: sub}
	if dir := strings.TrimSpace(overrideDir); dir != "" {
		fi, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("template dir %s: %w", dir, err)
		}
		if !fi.IsDir() {
			return nil, fmt.Errorf("template dir %s is not a directory", dir)
		}
		loader.dir = dir
	}
	registerFilters()
	return &TemplateRenderer{
		set:       pongo2.NewSet("openadmin", loader),
		templates: map[string]*pongo2.Template{},
		bundle:    bundle,
		lggr:      lggr.Named("view"),
	}, nil
}

// layeredLoader resolves every template name from the template root, so
// includes are written the same way in every file. A file in dir wins over
// the embedded copy.
type layeredLoader struct {
	dir  string
	fsys fs.FS
}

func (l *layeredLoader) Abs(_, name string) string {
	return path.Clean(strings.TrimPrefix(filepath.ToSlash(name), "/"))
}

func (l *layeredLoader) Get(name string) (io.Reader, error) {
	if l.dir != "" {
		if b, err := os.ReadFile(filepath.Join(l.dir, filepath.FromSlash(name))); err == nil {
			return bytes.NewReader(b), nil
		}
	}
	b, err := fs.ReadFile(l.fsys, name)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

func (r *TemplateRenderer) ContentType() string { return "text/html; charset=utf-8" }

func (r *TemplateRenderer) Render(w io.Writer, name string, model Model) error {
	tmpl, err := r.template(name + templateExt)
	if err != nil {
		return err
	}
	ctx, err := r.context(model)
	if err != nil {
		return fmt.Errorf("view %s: %w", name, err)
	}
	if err := tmpl.ExecuteWriter(ctx, w); err != nil {
		return fmt.Errorf("view %s: %w", name, err)
	}
	return nil
}

func (r *TemplateRenderer) template(path string) (*pongo2.Template, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[path]
	r.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if tmpl, ok := r.templates[path]; ok {
		return tmpl, nil
	}
	tmpl, err := r.set.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load template %q: %w", path, err)
	}
	r.templates[path] = tmpl
	r.lggr.Debugw("template loaded", "template", path)
	return tmpl, nil
}

// context flattens the model to plain maps keyed by json names and adds the
// message helpers for the request locale.
func (r *TemplateRenderer) context(model Model) (pongo2.Context, error) {
	tag := language.Und
	if r.bundle != nil {
		tag = r.bundle.Default()
	}
	if t, ok := model["locale"].(language.Tag); ok {
		tag = t
	}

	ctx := make(pongo2.Context, len(model)+4)
	for k, v := range model {
		converted, err := plain(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}
		ctx[k] = converted
	}
	ctx["locale"] = tag.String()
	if vt := model.String("viewType"); vt != "" {
		if !strings.Contains(vt, "/") {
			vt = "views/" + vt
		}
		ctx["viewTemplate"] = vt + templateExt
	}
	ctx["msg"] = func(code *pongo2.Value) string { return r.message(tag, code.String()) }
	ctx["msgf"] = func(code, arg *pongo2.Value) string {
		return r.message(tag, code.String(), arg.Interface())
	}
	return ctx, nil
}

func (r *TemplateRenderer) message(tag language.Tag, code string, args ...any) string {
	if r.bundle == nil {
		return code
	}
	return r.bundle.Message(tag, code, args...)
}

// plain converts v to maps, slices and scalars through its json form.
// Whole numbers come back as int so templates print them without decimals.
func plain(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Func {
		return v, nil
	}
	switch v.(type) {
	case string, bool, int, int64:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return ints(out), nil
}

func ints(v any) any {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int(t)
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = ints(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = ints(e)
		}
		return t
	}
	return v
}
