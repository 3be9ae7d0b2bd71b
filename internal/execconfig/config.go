// Package execconfig assembles the immutable configuration handed to the
// task-execution engine when a server is created.
package execconfig

import (
	"github.com/loykin/taskserve/internal/kv"
)

// Options carries the parsed command line values that shape execution.
// Hostname and port are not part of it; they belong to the launcher.
type Options struct {
	ParseBody   bool
	MergeBody   bool
	Secrets     kv.Map
	Params      kv.Map
	StorageFile string
}

// Config is a snapshot of Options plus the engine extras. The zero value is
// usable. All accessors return copies, so a Config can be passed around by
// value without anyone mutating the engine's view of it.
type Config struct {
	parseBody   bool
	mergeBody   bool
	secrets     kv.Map
	params      kv.Map
	storageFile string
	showFavicon bool
}

// Build copies opts into a Config. It performs no I/O and cannot fail; the
// storage file in particular is passed through as given.
func Build(opts Options) Config {
	return Config{
		parseBody:   opts.ParseBody,
		mergeBody:   opts.MergeBody,
		secrets:     opts.Secrets.Clone(),
		params:      opts.Params.Clone(),
		storageFile: opts.StorageFile,
		showFavicon: true,
	}
}

func (c Config) ParseBody() bool     { return c.parseBody }
func (c Config) MergeBody() bool     { return c.mergeBody }
func (c Config) StorageFile() string { return c.storageFile }

// ShowFavicon reports whether the engine answers /favicon.ico itself instead
// of routing it into the task module.
func (c Config) ShowFavicon() bool { return c.showFavicon }

// Secrets returns a copy of the secrets map.
func (c Config) Secrets() kv.Map { return c.secrets.Clone() }

// Params returns a copy of the params map.
func (c Config) Params() kv.Map { return c.params.Clone() }
