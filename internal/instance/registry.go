package instance

import (
	"fmt"
	"maps"
	"sync"
)

// Flavor tags a registered instance constructor: "postgresql",
// "mysql", "sqlite", "kv", and so on. The instance key a pipe
// carries (e.g. "sql:main") is resolved to a Flavor by the caller's
// config layer (internal/config), not by this package.
type Flavor string

const (
	FlavorMySQL      Flavor = "mysql"
	FlavorMariaDB    Flavor = "mariadb"
	FlavorPostgreSQL Flavor = "postgresql"
	FlavorSQLite     Flavor = "sqlite"
	FlavorMSSQL      Flavor = "mssql"
	FlavorOracle     Flavor = "oracle"
	FlavorKV         Flavor = "kv"
)

// Opener constructs a live Instance from a DSN/connection string.
type Opener func(dsn string) (Instance, error)

var (
	registryMu sync.RWMutex
	registry   = map[Flavor]Opener{}
)

// Register adds a constructor for flavor to the registry. Flavor
// packages call this from an init() func, mirroring the teacher's
// dialect.RegisterDialect / introspect.Register convention.
func Register(flavor Flavor, open Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[flavor] = open
}

// Open resolves flavor to its registered constructor and dials dsn.
func Open(flavor Flavor, dsn string) (Instance, error) {
	registryMu.RLock()
	open, ok := registry[flavor]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("instance: flavor %q is not registered", flavor)
	}
	return open(dsn)
}

// Registered reports whether flavor has a registered constructor.
func Registered(flavor Flavor) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[flavor]
	return ok
}

// resetRegistry replaces the registry wholesale. Test-only.
func resetRegistry(r map[Flavor]Opener) map[Flavor]Opener {
	registryMu.Lock()
	defer registryMu.Unlock()
	prev := registry
	registry = r
	return prev
}

// snapshotRegistry returns a shallow copy of the current registry. Test-only.
func snapshotRegistry() map[Flavor]Opener {
	registryMu.RLock()
	defer registryMu.RUnlock()
	snap := make(map[Flavor]Opener, len(registry))
	maps.Copy(snap, registry)
	return snap
}
