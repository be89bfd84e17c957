// Package backend selects and constructs the store.Client implementation cmd/txserver and
// cmd/sweepd both need from a shared dynatx.Config, so the two binaries don't duplicate backend
// wiring.
package backend

import (
	"fmt"
	"os"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/store"
	"github.com/sop-txmanager/dynatx/store/cassandra"
	"github.com/sop-txmanager/dynatx/store/dynamo"
)

// LoadConfig reads the JSON config file named by DYNATX_CONFIG, or returns a default
// DynamoDB-backed config with the package's defaults filled in when unset.
func LoadConfig() (dynatx.Config, error) {
	path := os.Getenv("DYNATX_CONFIG")
	if path == "" {
		return dynatx.Config{Backend: dynatx.BackendDynamoDB}.WithDefaults(), nil
	}
	return dynatx.LoadConfiguration(path)
}

// NewClient constructs the store.Client cfg.Backend names.
func NewClient(cfg dynatx.Config) (store.Client, error) {
	switch cfg.Backend {
	case dynatx.BackendCassandra:
		conn, err := cassandra.Open(cassandra.Config{
			ClusterHosts: cfg.CassandraHosts,
			Keyspace:     cfg.CassandraKeyspace,
		})
		if err != nil {
			return nil, err
		}
		return cassandra.New(conn), nil
	case dynatx.BackendDynamoDB, "":
		ddb := dynamo.Connect(dynamo.Config{
			Region:   cfg.DynamoDBRegion,
			Endpoint: cfg.DynamoDBEndpoint,
		})
		return dynamo.New(ddb), nil
	default:
		return nil, fmt.Errorf("backend: unknown backend %q", cfg.Backend)
	}
}
