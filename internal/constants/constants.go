package constants

import (
	"time"
)

// Session Constants
const (
	// DefaultSessionTimeout is the ceiling after which a local server is shut
	// down automatically.
	DefaultSessionTimeout = 30 * time.Minute
	// DefaultShutdownGrace bounds how long closing the server may take once
	// the session has ended.
	DefaultShutdownGrace = 10 * time.Second
)

// Server Constants
const (
	DefaultHostname = "localhost"
	DefaultPort     = 8080

	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultMaxBodyBytes caps request bodies read by the engine (10MB).
	DefaultMaxBodyBytes = 10 << 20
)

// Storage Constants
const (
	DefaultStorageTable = "task_storage"

	// SQLite allows only one writer
	DefaultSQLiteMaxConnections = 1
	DefaultSQLiteBusyTimeoutMS  = 5000

	DefaultPostgresMaxConnections = 5
	DefaultPostgresMaxIdleConns   = 2
	DefaultMaxConnLifetime        = 5 * time.Minute
)

// Exec module Constants
const (
	// DefaultExecTimeout bounds a single run of an executable task module.
	DefaultExecTimeout = 30 * time.Second
)
