package shard

import (
	"github.com/dgryski/go-farm"
	"github.com/occkv/occkv/kv/config"
	"github.com/occkv/occkv/kv/tuple"
	"github.com/pingcap/errors"
)

// AnyShard is returned by a Router for keys every shard holds a copy of.
const AnyShard = -1

// Router maps a key to the shard that owns it. It must be deterministic and agree across shards.
type Router interface {
	Shard(key tuple.PrimaryKey) int
}

// ModuloRouter routes by one key component modulo the shard count. Tables listed as replicated,
// such as an item catalog, are held by every shard.
type ModuloRouter struct {
	count      int
	component  int
	replicated map[int32]struct{}
}

// NewModuloRouter routes by key component component, which must be below tuple.KeyComponents.
func NewModuloRouter(count, component int, replicated ...int32) *ModuloRouter {
	if component < 0 || component >= tuple.KeyComponents {
		panic("shard: key component out of range")
	}
	r := &ModuloRouter{count: count, component: component, replicated: make(map[int32]struct{}, len(replicated))}
	for _, id := range replicated {
		r.replicated[id] = struct{}{}
	}
	return r
}

func (r *ModuloRouter) Shard(key tuple.PrimaryKey) int {
	if _, ok := r.replicated[key.TableID]; ok {
		return AnyShard
	}
	return int(uint64(key.Keys[r.component]) % uint64(r.count))
}

// HashRouter spreads keys by a fingerprint of their encoding.
type HashRouter struct {
	count int
}

func NewHashRouter(count int) *HashRouter {
	return &HashRouter{count: count}
}

func (r *HashRouter) Shard(key tuple.PrimaryKey) int {
	var b [tuple.EncodedKeySize]byte
	key.EncodeTo(b[:])
	return int(farm.Fingerprint64(b[:]) % uint64(r.count))
}

// NewRouter builds the router conf names.
func NewRouter(conf *config.Config) (Router, error) {
	switch conf.Router {
	case config.RouterHash, "":
		return NewHashRouter(conf.ShardCount), nil
	case config.RouterModulo:
		return NewModuloRouter(conf.ShardCount, conf.RouteComponent, conf.ReplicatedTables...), nil
	}
	return nil, errors.Errorf("unknown router %q", conf.Router)
}
