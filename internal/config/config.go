// Package config reads the dispatcher's hierarchical configuration document
// (spec.md §6): a tree of nested maps, slices, strings, numbers, booleans and
// null. Recognized top-level keys (server, receiver/sender, endpoint, rabbit,
// rabbitmq.<tag>, database.<tag>, flat REST-client tags, router) are read by
// the core; any other key is opaque and reserved for user code or Options.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Tree is a read-only view over a parsed configuration document.
type Tree struct {
	root any
}

// Load reads and parses a JSON configuration file into a Tree.
func Load(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses raw JSON bytes into a Tree.
func Parse(data []byte) (*Tree, error) {
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return &Tree{root: root}, nil
}

// Empty returns a Tree with no data, useful when a process runs purely off
// environment variables.
func Empty() *Tree {
	return &Tree{root: map[string]any{}}
}

// FromValue wraps an already-decoded value (e.g. one element of a list
// returned by Get) as a standalone Tree, so callers can reuse Sub/Get/Decode
// on it instead of re-marshaling by hand.
func FromValue(v any) *Tree {
	return &Tree{root: v}
}

// Sub returns the sub-tree rooted at dotted path (e.g. "database.sessions"),
// or false if the path does not resolve to a value.
func (t *Tree) Sub(path string) (*Tree, bool) {
	v, ok := t.lookup(path)
	if !ok {
		return nil, false
	}
	return &Tree{root: v}, true
}

// Get returns the raw value at path.
func (t *Tree) Get(path string) (any, bool) {
	return t.lookup(path)
}

// GetString returns a string value at path, or def if absent/wrong type.
func (t *Tree) GetString(path, def string) string {
	v, ok := t.lookup(path)
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// GetInt returns an int value at path, or def if absent/wrong type.
func (t *Tree) GetInt(path string, def int) int {
	v, ok := t.lookup(path)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}

// GetBool returns a bool value at path, or def if absent/wrong type.
func (t *Tree) GetBool(path string, def bool) bool {
	v, ok := t.lookup(path)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// Keys returns the keys of the map at this tree's root, or nil if the root
// is not a map. Used to enumerate configured connector tags
// (rabbitmq.<tag>, database.<tag>).
func (t *Tree) Keys() []string {
	m, ok := t.root.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// Decode unmarshals the tree's root into dst via a JSON round-trip. Used by
// connector configuration structs (Mongo, AMQP, REST-client) to bind a
// sub-tree to a typed Config struct.
func (t *Tree) Decode(dst any) error {
	data, err := json.Marshal(t.root)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return json.Unmarshal(data, dst)
}

func (t *Tree) lookup(path string) (any, bool) {
	cur := t.root
	if path == "" {
		return cur, true
	}
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			segment := path[start:i]
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			v, ok := m[segment]
			if !ok {
				return nil, false
			}
			cur = v
			start = i + 1
		}
	}
	return cur, true
}

// Env reads an environment variable, falling back to def when unset. Mirrors
// the teacher's cmd/main.go getEnv helper.
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvInt reads an integer environment variable, falling back to def on
// absence or parse failure. Mirrors the teacher's getEnvInt helper.
func EnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// EnvBool reads a boolean environment variable ("true"/"false").
func EnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true"
}
