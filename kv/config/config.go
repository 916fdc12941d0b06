package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/occkv/occkv/kv/tuple"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Duration is a time.Duration that decodes from TOML strings such as "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.Trace(err)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// AttributeConfig declares one attribute. Size -1 declares a variable-length attribute.
type AttributeConfig struct {
	ID   int64 `toml:"id"`
	Size int32 `toml:"size"`
}

// TableConfig declares a table and its schema in declaration order.
type TableConfig struct {
	ID         int32             `toml:"id"`
	Attributes []AttributeConfig `toml:"attributes"`
}

// Schema converts the declared attributes into descriptors for storage.NewTable.
func (t TableConfig) Schema() []tuple.TupleDesc {
	descs := make([]tuple.TupleDesc, len(t.Attributes))
	for i, a := range t.Attributes {
		descs[i] = tuple.Attr(a.ID, a.Size)
	}
	return descs
}

type Config struct {
	ShardID    int      `toml:"shard-id"`
	ShardCount int      `toml:"shard-count"`
	StoreAddr  string   `toml:"store-addr"`
	StatusAddr string   `toml:"status-addr"`
	// Peers lists the RPC address of every shard, indexed by shard id.
	Peers []string `toml:"peers"`

	// Router is "hash" or "modulo". The modulo router routes by key component RouteComponent and
	// treats ReplicatedTables as held by every shard.
	Router           string  `toml:"router"`
	RouteComponent   int     `toml:"route-component"`
	ReplicatedTables []int32 `toml:"replicated-tables"`

	LogLevel string `toml:"log-level"`
	LogFile  string `toml:"log-file"`

	// Number of committer goroutines validating transactions in parallel.
	CommitterCount int `toml:"committer-count"`
	// Capacity of the queue between committing callers and committers.
	QueueCapacity int `toml:"queue-capacity"`
	// Number of recently committed transactions kept for backward validation. A transaction that
	// started more than HistorySize commits ago aborts.
	HistorySize int `toml:"history-size"`
	// Number of idle transaction contexts kept for reuse.
	ContextPoolSize int `toml:"context-pool-size"`

	// WALPath enables the file log when non-empty.
	WALPath     string `toml:"wal-path"`
	WALSync     bool   `toml:"wal-sync"`
	WALCompress bool   `toml:"wal-compress"`
	// WALReset starts every run with an empty log file.
	WALReset bool `toml:"wal-reset"`

	// Cost budget of the cache of remote secondary-key resolutions.
	SecondaryCacheSize int64    `toml:"secondary-cache-size"`
	RPCTimeout         Duration `toml:"rpc-timeout"`

	Tables []TableConfig `toml:"tables"`
}

func (c *Config) Validate() error {
	if c.CommitterCount <= 0 {
		return fmt.Errorf("committer count must be greater than 0")
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("history size must be greater than 0")
	}
	if c.ShardCount <= 0 {
		return fmt.Errorf("shard count must be greater than 0")
	}
	if c.ShardID < 0 || c.ShardID >= c.ShardCount {
		return fmt.Errorf("shard id %d out of range [0, %d)", c.ShardID, c.ShardCount)
	}
	if c.ShardCount > 1 && len(c.Peers) != c.ShardCount {
		return fmt.Errorf("%d peers configured for %d shards", len(c.Peers), c.ShardCount)
	}
	switch c.Router {
	case RouterHash:
	case RouterModulo:
		if c.RouteComponent < 0 || c.RouteComponent >= tuple.KeyComponents {
			return fmt.Errorf("route component %d out of range [0, %d)", c.RouteComponent, tuple.KeyComponents)
		}
	default:
		return fmt.Errorf("unknown router %q", c.Router)
	}
	if c.HistorySize < c.CommitterCount {
		log.Warn("history size is smaller than the committer count, long transactions will abort",
			zap.Int("history-size", c.HistorySize), zap.Int("committer-count", c.CommitterCount))
	}
	seen := make(map[int32]bool, len(c.Tables))
	for _, t := range c.Tables {
		if seen[t.ID] {
			return fmt.Errorf("table %d declared twice", t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}

// InitLogger replaces the global logger with one writing at LogLevel to LogFile, or to stderr when
// LogFile is empty.
func (c *Config) InitLogger() error {
	lg, props, err := log.InitLogger(&log.Config{
		Level: c.LogLevel,
		File:  log.FileLogConfig{Filename: c.LogFile},
	})
	if err != nil {
		return errors.Trace(err)
	}
	log.ReplaceGlobals(lg, props)
	return nil
}

// LoadFile decodes a TOML file over the defaults.
func LoadFile(path string) (*Config, error) {
	conf := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, conf); err != nil {
		return nil, errors.Annotatef(err, "load config %s", path)
	}
	return conf, nil
}

const (
	RouterHash   = "hash"
	RouterModulo = "modulo"
)

const (
	KB int64 = 1024
	MB int64 = 1024 * 1024
)

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		ShardID:            0,
		ShardCount:         1,
		Router:             RouterHash,
		StoreAddr:          "127.0.0.1:20160",
		StatusAddr:         "127.0.0.1:20180",
		LogLevel:           getLogLevel(),
		CommitterCount:     4,
		QueueCapacity:      1024,
		HistorySize:        4096,
		ContextPoolSize:    1024,
		SecondaryCacheSize: 64 * MB,
		RPCTimeout:         Duration{5 * time.Second},
	}
}

func NewTestConfig() *Config {
	return &Config{
		ShardID:            0,
		ShardCount:         1,
		Router:             RouterHash,
		LogLevel:           getLogLevel(),
		CommitterCount:     4,
		QueueCapacity:      128,
		HistorySize:        64,
		ContextPoolSize:    16,
		SecondaryCacheSize: 1 * MB,
		RPCTimeout:         Duration{time.Second},
	}
}
