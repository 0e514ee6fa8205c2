// Package env composes the worker environment from .env files and explicit
// KEY=VALUE entries.
package env

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Env accumulates variables in definition order. Values are expanded when
// they are set, against the variables defined so far and then the OS
// environment.
type Env struct {
	vars   map[string]string
	lookup func(string) string
}

func New() *Env {
	return &Env{vars: make(map[string]string), lookup: os.Getenv}
}

// Set expands v and stores it under k. Empty keys are ignored.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.vars[k] = os.Expand(v, e.get)
}

func (e *Env) get(k string) string {
	if v, ok := e.vars[k]; ok {
		return v
	}
	return e.lookup(k)
}

// SetPair parses one "KEY=VALUE" entry.
func (e *Env) SetPair(kv string) error {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return fmt.Errorf("invalid env entry %q, want KEY=VALUE", kv)
	}
	e.Set(k, v)
	return nil
}

// LoadFile applies every pair of the .env file at path, in file order.
func (e *Env) LoadFile(path string) error {
	pairs, err := ReadFile(path)
	if err != nil {
		return err
	}
	for _, kv := range pairs {
		e.Set(kv[0], kv[1])
	}
	return nil
}

// List returns "KEY=VALUE" entries sorted by key.
func (e *Env) List() []string {
	keys := make([]string, 0, len(e.vars))
	for k := range e.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+e.vars[k])
	}
	return out
}

// ReadFile parses KEY=VALUE lines. Blank lines and lines starting with # are
// ignored, an "export " prefix is dropped and matching quotes around the
// value are removed. Values are returned unexpanded.
func ReadFile(path string) ([][2]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return parse(string(b)), nil
}

func parse(text string) [][2]string {
	var out [][2]string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = unquote(strings.TrimSpace(v))
		if k == "" {
			continue
		}
		out = append(out, [2]string{k, v})
	}
	return out
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
