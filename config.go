package dynatx

import (
	"encoding/json"
	"os"
	"time"
)

// Backend names understood by the default store selection in cmd/txserver and cmd/sweepd.
const (
	BackendDynamoDB  = "dynamodb"
	BackendCassandra = "cassandra"
)

// Default auxiliary table names. These are construction-time configuration with these
// defaults, never treated as process-global constants.
const (
	DefaultTxInfoTable = "tx-info"
	DefaultTxDataTable = "tx-data"
)

// RedisOptions mirrors a typical cache.Options shape: host parameters for the Redis
// read-through schema cache used by keyresolver.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
}

// Config contains caching (Redis) and backend store parameters, loaded from a JSON file the
// way a JSON-file-backed config.go loads Configuration.
type Config struct {
	// Backend selects which store.Client implementation to construct ("dynamodb" or "cassandra").
	Backend string `json:"backend"`

	// TxInfoTable/TxDataTable are the auxiliary table names; default when empty.
	TxInfoTable string `json:"txInfoTable"`
	TxDataTable string `json:"txDataTable"`

	// ReadCapacity/WriteCapacity are the default provisioned throughput used at table creation.
	ReadCapacity  int64 `json:"readCapacity"`
	WriteCapacity int64 `json:"writeCapacity"`

	// RedisOptions configures the read-through schema cache. Zero value disables it.
	RedisOptions RedisOptions `json:"redisOptions"`

	// DynamoDBEndpoint, when non-empty, overrides the AWS SDK's default DynamoDB endpoint
	// (useful for local DynamoDB or DynamoDB-compatible test doubles).
	DynamoDBEndpoint string `json:"dynamoDbEndpoint"`
	DynamoDBRegion   string `json:"dynamoDbRegion"`

	// CassandraHosts/CassandraKeyspace configure the alternate Cassandra-backed store.Client.
	CassandraHosts    []string `json:"cassandraHosts"`
	CassandraKeyspace string   `json:"cassandraKeyspace"`

	// WaitLockInterval/WaitLockMaxWait override lock.DefaultWaitInterval/DefaultMaxWait.
	WaitLockInterval time.Duration `json:"waitLockInterval"`
	WaitLockMaxWait  time.Duration `json:"waitLockMaxWait"`

	// SweepInterval is how often cmd/sweepd runs the crash-recovery sweep and garbage
	// collection pass; SweepOlderThan/GCOlderThan are the per-pass age thresholds.
	SweepInterval  time.Duration `json:"sweepInterval"`
	SweepOlderThan time.Duration `json:"sweepOlderThan"`
	GCOlderThan    time.Duration `json:"gcOlderThan"`

	// ArchiveBucket enables WAL archival to S3 ahead of garbage collection when non-empty;
	// the remaining Archive* fields configure the S3 client, mirroring aws_s3.Config.
	ArchiveBucket    string `json:"archiveBucket"`
	ArchiveRegion    string `json:"archiveRegion"`
	ArchiveEndpoint  string `json:"archiveEndpoint"`
	ArchiveKeyPrefix string `json:"archiveKeyPrefix"`
}

// WithDefaults returns a copy of c with zero-valued fields replaced by their defaults.
func (c Config) WithDefaults() Config {
	if c.TxInfoTable == "" {
		c.TxInfoTable = DefaultTxInfoTable
	}
	if c.TxDataTable == "" {
		c.TxDataTable = DefaultTxDataTable
	}
	if c.ReadCapacity <= 0 {
		c.ReadCapacity = 5
	}
	if c.WriteCapacity <= 0 {
		c.WriteCapacity = 5
	}
	if c.WaitLockInterval <= 0 {
		c.WaitLockInterval = 100 * time.Millisecond
	}
	if c.WaitLockMaxWait <= 0 {
		c.WaitLockMaxWait = 1 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 1 * time.Minute
	}
	if c.SweepOlderThan <= 0 {
		c.SweepOlderThan = 10 * time.Minute
	}
	if c.GCOlderThan <= 0 {
		c.GCOlderThan = 7 * 24 * time.Hour
	}
	return c
}

// LoadConfiguration reads a JSON file and loads it into memory, the way a typical
// LoadConfiguration for Configuration.
func LoadConfiguration(filename string) (Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, err
	}
	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		return Config{}, err
	}
	return c.WithDefaults(), nil
}
