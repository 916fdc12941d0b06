package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/occkv/occkv/kv/tuple"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigsValidate(t *testing.T) {
	assert.NoError(t, NewDefaultConfig().Validate())
	assert.NoError(t, NewTestConfig().Validate())
}

func TestValidate(t *testing.T) {
	conf := NewTestConfig()
	conf.CommitterCount = 0
	assert.Error(t, conf.Validate())

	conf = NewTestConfig()
	conf.HistorySize = 0
	assert.Error(t, conf.Validate())

	conf = NewTestConfig()
	conf.ShardID = 1
	assert.Error(t, conf.Validate())

	conf = NewTestConfig()
	conf.ShardCount = 2
	conf.Peers = []string{"a:1"}
	assert.Error(t, conf.Validate())
	conf.Peers = append(conf.Peers, "b:1")
	assert.NoError(t, conf.Validate())

	conf = NewTestConfig()
	conf.Tables = []TableConfig{{ID: 1}, {ID: 1}}
	assert.Error(t, conf.Validate())

	conf = NewTestConfig()
	conf.Router = "range"
	assert.Error(t, conf.Validate())
	conf.Router = RouterModulo
	conf.RouteComponent = 6
	assert.Error(t, conf.Validate())
	conf.RouteComponent = 1
	assert.NoError(t, conf.Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "occkv.toml")
	err := os.WriteFile(path, []byte(`
shard-id = 1
shard-count = 2
peers = ["127.0.0.1:1000", "127.0.0.1:1001"]
committer-count = 8
history-size = 100
rpc-timeout = "250ms"
wal-path = "/tmp/occkv.wal"
router = "modulo"
route-component = 1
replicated-tables = [3]

[[tables]]
id = 1
[[tables.attributes]]
id = 100
size = 4
[[tables.attributes]]
id = 200
size = -1
`), 0o644)
	require.NoError(t, err)

	conf, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, conf.Validate())

	assert.Equal(t, 1, conf.ShardID)
	assert.Equal(t, 2, conf.ShardCount)
	assert.Equal(t, 8, conf.CommitterCount)
	assert.Equal(t, 100, conf.HistorySize)
	assert.Equal(t, 250*time.Millisecond, conf.RPCTimeout.Duration)
	assert.Equal(t, "/tmp/occkv.wal", conf.WALPath)
	assert.Equal(t, RouterModulo, conf.Router)
	assert.Equal(t, 1, conf.RouteComponent)
	assert.Equal(t, []int32{3}, conf.ReplicatedTables)
	// Unset keys keep their defaults.
	assert.Equal(t, 1024, conf.QueueCapacity)

	require.Len(t, conf.Tables, 1)
	assert.Equal(t, []tuple.TupleDesc{tuple.Attr(100, 4), tuple.Attr(200, tuple.VarLen)}, conf.Tables[0].Schema())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
