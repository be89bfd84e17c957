// Package cache provides a Redis-backed read-through layer for table schema lookups
// (keyresolver.SchemaCache), following a common adapters/redis connection-ownership pattern.
package cache

import (
	"crypto/tls"
	"fmt"
	"sync"

	log "log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/sop-txmanager/dynatx"
)

// connection wraps a redis.Client.
type connection struct {
	client *redis.Client
}

var (
	singleton *connection
	mux       sync.Mutex
)

// openConnection builds a redis.Client from dynatx.RedisOptions.
func openConnection(opts dynatx.RedisOptions, tlsConfig *tls.Config) *connection {
	return &connection{
		client: redis.NewClient(&redis.Options{
			Addr:      opts.Address,
			Password:  opts.Password,
			DB:        opts.DB,
			TLSConfig: tlsConfig,
		}),
	}
}

// sharedConnection returns the package-level singleton, opening it on first use. A single
// process typically needs one Redis connection, shared by every schema cache client it creates.
func sharedConnection(opts dynatx.RedisOptions) *connection {
	if singleton != nil {
		return singleton
	}
	mux.Lock()
	defer mux.Unlock()
	if singleton != nil {
		return singleton
	}
	log.Info("opening redis connection", "address", opts.Address, "db", opts.DB)
	singleton = openConnection(opts, nil)
	return singleton
}

// CloseShared closes the package-level singleton connection, if present.
func CloseShared() error {
	mux.Lock()
	defer mux.Unlock()
	if singleton == nil {
		return nil
	}
	err := singleton.client.Close()
	singleton = nil
	return err
}

func keyNotFound(err error) bool {
	return err == redis.Nil
}

func wrapf(op, key string, err error) error {
	return fmt.Errorf("cache: %s %s: %w", op, key, err)
}
