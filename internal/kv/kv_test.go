package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		want    Map
	}{
		{"empty", nil, Map{}},
		{"simple", []string{"a=1", "b=2"}, Map{"a": "1", "b": "2"}},
		{"last write wins", []string{"a=1", "b=2", "a=3"}, Map{"a": "3", "b": "2"}},
		{"split on first equals only", []string{"a=b=c"}, Map{"a": "b=c"}},
		{"missing equals", []string{"flag"}, Map{"flag": ""}},
		{"empty value", []string{"k="}, Map{"k": ""}},
		{"empty key", []string{"=v"}, Map{"": "v"}},
		{"trailing equals kept", []string{"tok=abc=="}, Map{"tok": "abc=="}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.entries))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := [][]string{
		{"a=1", "b=2", "a=3"},
		{"x=y=z", "flag", "x=", "url=http://h/?q=1&r=2"},
		{},
	}
	for _, in := range inputs {
		first := Normalize(in)
		second := Normalize(first.Pairs())
		assert.Equal(t, first, second, "input %v", in)
	}
}

func TestNormalizeDoesNotAliasInput(t *testing.T) {
	in := []string{"a=1"}
	m := Normalize(in)
	in[0] = "a=2"
	assert.Equal(t, "1", m["a"])
}

func TestMerge(t *testing.T) {
	base := Map{"a": "1", "b": "2"}
	got := Merge(base, nil, Map{"b": "3"}, Map{"c": "4"})

	assert.Equal(t, Map{"a": "1", "b": "3", "c": "4"}, got)
	assert.Equal(t, "2", base["b"], "base must not be modified")
}

func TestMapHelpers(t *testing.T) {
	m := Map{"b": "2", "a": "1"}
	assert.Equal(t, []string{"a", "b"}, m.Keys())
	assert.Equal(t, []string{"1", "2"}, m.Values())
	assert.Equal(t, []string{"a=1", "b=2"}, m.Pairs())

	var nilMap Map
	assert.NotNil(t, nilMap.Clone())
	assert.Empty(t, nilMap.Pairs())
}
