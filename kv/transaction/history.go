package transaction

import (
	"github.com/occkv/occkv/kv/storage"
	"github.com/occkv/occkv/kv/tuple"
	"go.uber.org/atomic"
)

// commitRecord is what validation needs from a transaction once it entered the commit pipeline.
// It is immutable apart from num, which is set under the manager lock before the record is
// published to the history.
type commitRecord struct {
	num    int64
	txnID  int64
	reads  map[tuple.PrimaryKey]struct{}
	writes map[tuple.PrimaryKey]struct{}
}

func newCommitRecord(txnID int64, reads []storage.ReadEntry, writes []*storage.WriteEntry) *commitRecord {
	r := &commitRecord{
		txnID:  txnID,
		reads:  make(map[tuple.PrimaryKey]struct{}, len(reads)),
		writes: make(map[tuple.PrimaryKey]struct{}, len(writes)),
	}
	for _, e := range reads {
		r.reads[e.Key] = struct{}{}
	}
	for _, e := range writes {
		r.writes[e.Key] = struct{}{}
	}
	return r
}

// writesAny reports whether r wrote any key in keys.
func (r *commitRecord) writesAny(keys map[tuple.PrimaryKey]struct{}) bool {
	small, large := keys, r.writes
	if len(small) > len(large) {
		small, large = large, small
	}
	for k := range small {
		if _, ok := large[k]; ok {
			return true
		}
	}
	return false
}

// history is a ring of the most recent commit records, indexed by transaction number modulo its
// size. Slots are written under the manager lock and read without it.
type history struct {
	size    int64
	records []atomic.Pointer[commitRecord]
}

func newHistory(size int) *history {
	if size < 1 {
		size = 1
	}
	return &history{
		size:    int64(size),
		records: make([]atomic.Pointer[commitRecord], size),
	}
}

func (h *history) record(r *commitRecord) {
	h.records[r.num%h.size].Store(r)
	historyGauge.Set(float64(r.num))
}

// get returns the record committed as num, or nil if it has been overwritten.
func (h *history) get(num int64) *commitRecord {
	r := h.records[num%h.size].Load()
	if r == nil || r.num != num {
		return nil
	}
	return r
}
