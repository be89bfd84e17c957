// Package cassandra implements store.Client over Apache Cassandra, using lightweight
// transactions (LWT) as the conditional-write primitive in place of DynamoDB's native
// conditional expressions, following a common Cassandra adapter connection/session
// management and per-API consistency customization.
package cassandra

import (
	"fmt"
	"time"

	log "log/slog"

	"github.com/gocql/gocql"
)

// Config contains configuration for connecting to a Cassandra cluster and the dynatx keyspace.
type Config struct {
	ClusterHosts      []string
	Keyspace          string
	Consistency       gocql.Consistency
	ConnectionTimeout time.Duration
	Authenticator     gocql.Authenticator
	ReplicationClause string
}

// Connection wraps a Cassandra session and the configuration used to create it.
type Connection struct {
	Session *gocql.Session
	Config  Config
}

// Open creates a new session and ensures the keyspace and metadata table exist.
func Open(cfg Config) (*Connection, error) {
	if cfg.Keyspace == "" {
		cfg.Keyspace = "dynatx"
	}
	if cfg.Consistency == gocql.Any {
		cfg.Consistency = gocql.LocalQuorum
	}
	if cfg.ReplicationClause == "" {
		cfg.ReplicationClause = "{'class':'SimpleStrategy', 'replication_factor':1}"
	}

	log.Info("opening cassandra connection", "hosts", cfg.ClusterHosts, "keyspace", cfg.Keyspace)
	cluster := gocql.NewCluster(cfg.ClusterHosts...)
	cluster.Consistency = cfg.Consistency
	if cfg.ConnectionTimeout > 0 {
		cluster.ConnectTimeout = cfg.ConnectionTimeout
	}
	if cfg.Authenticator != nil {
		cluster.Authenticator = cfg.Authenticator
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("cassandra: create session: %w", err)
	}

	if err := session.Query(fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = %s;", cfg.Keyspace, cfg.ReplicationClause,
	)).Exec(); err != nil {
		session.Close()
		return nil, fmt.Errorf("cassandra: create keyspace %s: %w", cfg.Keyspace, err)
	}
	if err := session.Query(fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s.dynatx_table_schema (table_name text PRIMARY KEY, schema_json text);",
		cfg.Keyspace,
	)).Exec(); err != nil {
		session.Close()
		return nil, fmt.Errorf("cassandra: create schema metadata table: %w", err)
	}

	return &Connection{Session: session, Config: cfg}, nil
}

// Close closes the underlying session.
func (c *Connection) Close() {
	if c != nil && c.Session != nil {
		log.Info("closing cassandra connection")
		c.Session.Close()
	}
}
