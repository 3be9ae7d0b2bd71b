// Package kv turns repeated KEY=VALUE command arguments into maps.
package kv

import (
	"sort"
	"strings"
)

// Map holds normalized key/value pairs.
type Map map[string]string

// Normalize folds entries into a Map in order. Each entry is split on its
// first '='; anything after it, further '=' included, is the value. An entry
// without '=' yields an empty value. Later entries overwrite earlier ones.
func Normalize(entries []string) Map {
	out := Map{}
	for _, e := range entries {
		key, value, _ := strings.Cut(e, "=")
		out[key] = value
	}
	return out
}

// Merge returns a new Map containing base overridden by each of overrides in
// turn. Nil maps are skipped.
func Merge(base Map, overrides ...Map) Map {
	out := base.Clone()
	for _, o := range overrides {
		for k, v := range o {
			out[k] = v
		}
	}
	return out
}

// Clone returns a copy of m. The copy of a nil Map is empty, not nil.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Keys returns the keys of m in ascending order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns the values of m ordered by key.
func (m Map) Values() []string {
	keys := m.Keys()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}

// Pairs serializes m back into KEY=VALUE entries ordered by key, so that
// Normalize(m.Pairs()) reproduces m.
func (m Map) Pairs() []string {
	keys := m.Keys()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + m[k]
	}
	return out
}
