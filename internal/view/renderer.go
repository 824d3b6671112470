package view

import (
	"encoding/json"
	"io"
)

// Model holds the attributes a handler hands to a view.
type Model map[string]any

func (m Model) Set(key string, value any) Model {
	m[key] = value
	return m
}

func (m Model) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Renderer writes a named view for a model.
type Renderer interface {
	ContentType() string
	Render(w io.Writer, name string, model Model) error
}

// JSONRenderer writes {"view": name, "model": model}. Clients that ask for
// JSON get the same model the templates see.
type JSONRenderer struct{}

func (JSONRenderer) ContentType() string { return "application/json; charset=utf-8" }

func (JSONRenderer) Render(w io.Writer, name string, model Model) error {
	return json.NewEncoder(w).Encode(struct {
		View  string `json:"view"`
		Model Model  `json:"model"`
	}{View: name, Model: model})
}
