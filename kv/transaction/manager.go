package transaction

import (
	"context"
	"sync"
	"time"

	"github.com/occkv/occkv/kv/config"
	"github.com/occkv/occkv/kv/storage"
	"github.com/occkv/occkv/kv/util/worker"
	"github.com/occkv/occkv/kv/wal"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Results recorded in the txn metrics.
const (
	resultCommitted = "committed"
	resultConflict  = "conflict"
	resultOverrun   = "overrun"
	resultLog       = "log"
	resultInvalid   = "invalid"
	resultFailed    = "failed"
	resultStopped   = "stopped"
	resultAbandoned = "abandoned"
)

type commitTask struct {
	txn       *TxnContext
	submitted time.Time
}

// Manager runs the optimistic commit pipeline. Committers validate a transaction backward against
// the transactions that committed since it began and forward against those still validating, then
// log and apply its writes. The order in which transactions take a commit number is the
// serialization order.
type Manager struct {
	catalog  *storage.Catalog
	wal      wal.LogService
	pool     *worker.Pool
	contexts *contextPool
	history  *history
	nextID   atomic.Int64
	stopped  atomic.Bool

	// mu guards committed, active and writes to history.
	mu        sync.Mutex
	committed int64
	active    map[*commitRecord]struct{}

	live sync.Map // transaction id -> *TxnContext
}

// NewManager creates a manager over the tables in catalog. logService may be nil to run without a
// write-ahead log.
func NewManager(conf *config.Config, catalog *storage.Catalog, logService wal.LogService) *Manager {
	return &Manager{
		catalog:  catalog,
		wal:      logService,
		pool:     worker.NewPool("committer", conf.CommitterCount, conf.QueueCapacity),
		contexts: newContextPool(conf.ContextPoolSize),
		history:  newHistory(conf.HistorySize),
		active:   make(map[*commitRecord]struct{}),
	}
}

// Run starts the committers.
func (m *Manager) Run() {
	m.pool.Start(m)
	log.Info("transaction manager started", zap.String("pool", m.pool.Name()))
}

// Terminate stops the committers. Validations in progress finish; transactions still queued are
// aborted so no caller waits forever. Begin and Commit fail afterwards.
func (m *Manager) Terminate() {
	if m.stopped.Swap(true) {
		return
	}
	pending := m.pool.Stop()
	for _, t := range pending {
		m.abort(t.(*commitTask), nil, resultStopped)
	}
	log.Info("transaction manager terminated", zap.Int("aborted", len(pending)))
}

// Begin starts a transaction that observes every commit finished so far.
func (m *Manager) Begin() (*TxnContext, error) {
	return m.begin(m.nextID.Inc())
}

// BeginWithID is Begin for a transaction whose id was assigned elsewhere, such as the participant
// of a transaction spanning shards. Remote reads carrying txnID then see its staged writes. Ids
// handed out by Begin afterwards are larger than txnID.
func (m *Manager) BeginWithID(txnID int64) (*TxnContext, error) {
	if txnID <= 0 {
		return nil, errors.Errorf("transaction id %d must be positive", txnID)
	}
	for {
		cur := m.nextID.Load()
		if cur >= txnID || m.nextID.CompareAndSwap(cur, txnID) {
			break
		}
	}
	return m.begin(txnID)
}

func (m *Manager) begin(txnID int64) (*TxnContext, error) {
	if m.stopped.Load() {
		return nil, ErrManagerStopped
	}
	txn := m.contexts.get()
	m.mu.Lock()
	start := m.committed
	m.mu.Unlock()
	txn.init(m.catalog, start, txnID)
	if _, loaded := m.live.LoadOrStore(txnID, txn); loaded {
		m.contexts.put(txn)
		return nil, errors.Annotatef(ErrDuplicateTxn, "transaction %d", txnID)
	}
	if m.wal != nil {
		pos, err := m.wal.Begin(txnID)
		if err != nil {
			m.live.Delete(txnID)
			m.contexts.put(txn)
			return nil, errors.Annotatef(err, "log begin of transaction %d", txnID)
		}
		txn.logPos = pos
	}
	return txn, nil
}

// Lookup returns the live context of a begun transaction that has not finished.
func (m *Manager) Lookup(txnID int64) (*TxnContext, bool) {
	v, ok := m.live.Load(txnID)
	if !ok {
		return nil, false
	}
	return v.(*TxnContext), true
}

// Committed returns the number of transactions committed so far.
func (m *Manager) Committed() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}

// CommitAsync submits txn and returns immediately. fn, if not nil, is called from a committer once
// txn reaches a terminal status. It fails if txn was already submitted.
func (m *Manager) CommitAsync(txn *TxnContext, fn func(*TxnContext)) error {
	if !txn.status.CompareAndSwap(int32(StatusIdle), int32(StatusPending)) {
		return errors.Annotatef(ErrNotIdle, "transaction %d is %v", txn.txnID, txn.Status())
	}
	txn.callback = fn
	task := &commitTask{txn: txn, submitted: time.Now()}
	if m.stopped.Load() || !m.pool.Submit(task) {
		m.abort(task, nil, resultStopped)
		return ErrManagerStopped
	}
	return nil
}

// Commit submits txn and waits for the outcome. It returns true iff txn committed; false covers
// conflicts, log failures and a context that was already submitted.
func (m *Manager) Commit(txn *TxnContext) bool {
	if err := m.CommitAsync(txn, nil); err != nil && errors.Cause(err) == ErrNotIdle {
		return false
	}
	<-txn.Done()
	return txn.Status() == StatusCommitted
}

// CommitContext is Commit with the wait bounded by ctx. When ctx ends first the transaction stays
// in the pipeline and its outcome is left to Done.
func (m *Manager) CommitContext(ctx context.Context, txn *TxnContext) (bool, error) {
	if err := m.CommitAsync(txn, nil); err != nil {
		return false, err
	}
	select {
	case <-txn.Done():
		return txn.Status() == StatusCommitted, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Release returns txn to the pool. A finished context is recycled; an idle one is abandoned, which
// logs an abort. A context still in the commit pipeline is left alone. txn must not be used after
// Release.
func (m *Manager) Release(txn *TxnContext) {
	if txn.status.CompareAndSwap(int32(StatusIdle), int32(StatusPending)) {
		m.abort(&commitTask{txn: txn, submitted: time.Now()}, nil, resultAbandoned)
	}
	if s := txn.Status(); !s.Terminal() {
		log.Warn("release of transaction in commit pipeline ignored",
			zap.Int64("txn", txn.txnID), zap.Stringer("status", s))
		return
	}
	m.contexts.put(txn)
}

// Handle validates and commits one submitted transaction. It implements worker.TaskHandler.
func (m *Manager) Handle(t worker.Task) {
	task := t.(*commitTask)
	txn := task.txn
	if err := txn.Err(); err != nil {
		log.Debug("abort failed transaction", zap.Int64("txn", txn.txnID), zap.Error(err))
		m.abort(task, nil, resultFailed)
		return
	}
	rec := newCommitRecord(txn.txnID, txn.readSet, txn.writeSet)

	m.mu.Lock()
	finish := m.committed
	concurrent := make([]*commitRecord, 0, len(m.active))
	for r := range m.active {
		concurrent = append(concurrent, r)
	}
	m.active[rec] = struct{}{}
	m.mu.Unlock()

	activeValidationsGauge.Inc()
	defer activeValidationsGauge.Dec()

	if result := m.validate(txn, rec, finish, concurrent); result != "" {
		m.abort(task, rec, result)
		return
	}
	txn.setStatus(StatusValidated)
	if result, err := m.apply(txn); err != nil {
		log.Warn("abort validated transaction", zap.Int64("txn", txn.txnID), zap.String("result", result), zap.Error(err))
		m.abort(task, rec, result)
		return
	}

	m.mu.Lock()
	m.committed++
	rec.num = m.committed
	m.history.record(rec)
	delete(m.active, rec)
	m.mu.Unlock()
	m.finalize(task, StatusCommitted, resultCommitted)
}

// validate returns the abort result, or "" if txn may commit.
func (m *Manager) validate(txn *TxnContext, rec *commitRecord, finish int64, concurrent []*commitRecord) string {
	if finish-txn.startTxnNum > m.history.size {
		historyOverrunCounter.Inc()
		log.Warn("commit history overrun", zap.Int64("txn", txn.txnID),
			zap.Int64("start", txn.startTxnNum), zap.Int64("finish", finish))
		return resultOverrun
	}
	for num := txn.startTxnNum + 1; num <= finish; num++ {
		r := m.history.get(num)
		if r == nil {
			historyOverrunCounter.Inc()
			log.Warn("commit history overrun", zap.Int64("txn", txn.txnID), zap.Int64("num", num))
			return resultOverrun
		}
		if r.writesAny(rec.reads) {
			return resultConflict
		}
	}
	for _, r := range concurrent {
		if r.writesAny(rec.reads) || r.writesAny(rec.writes) {
			return resultConflict
		}
	}
	return ""
}

// apply checks, logs and applies the write-set of a validated transaction. Nothing is applied when
// it returns an error.
func (m *Manager) apply(txn *TxnContext) (string, error) {
	tables := make([]*storage.Table, len(txn.writeSet))
	for i, e := range txn.writeSet {
		tbl, ok := m.catalog.Table(e.Key.TableID)
		if !ok {
			return resultInvalid, errors.Annotatef(ErrUnknownTable, "table %d", e.Key.TableID)
		}
		if err := tbl.CheckWrite(e); err != nil {
			return resultInvalid, err
		}
		tables[i] = tbl
	}
	if m.wal != nil {
		for _, e := range txn.writeSet {
			if _, err := m.wal.Write(txn.txnID, e.Key, e.Descs, e.Value); err != nil {
				return resultLog, errors.Trace(err)
			}
		}
		if _, err := m.wal.Finish(txn.txnID, wal.OutcomeCommit); err != nil {
			return resultLog, errors.Trace(err)
		}
	}
	for i, e := range txn.writeSet {
		if err := tables[i].Write(e); err != nil {
			log.Error("apply committed write", zap.Int64("txn", txn.txnID), zap.Stringer("key", e.Key), zap.Error(err))
		}
	}
	return "", nil
}

// abort finishes task as aborted. rec is the task's entry in the active set, if it has one.
func (m *Manager) abort(task *commitTask, rec *commitRecord, result string) {
	txn := task.txn
	if m.wal != nil {
		if _, err := m.wal.Finish(txn.txnID, wal.OutcomeAbort); err != nil {
			log.Warn("log abort", zap.Int64("txn", txn.txnID), zap.Error(err))
		}
	}
	if rec != nil {
		m.mu.Lock()
		delete(m.active, rec)
		m.mu.Unlock()
	}
	m.finalize(task, StatusAborted, result)
}

func (m *Manager) finalize(task *commitTask, s Status, result string) {
	m.live.Delete(task.txn.txnID)
	txnCounter.WithLabelValues(result).Inc()
	txnDuration.WithLabelValues(result).Observe(time.Since(task.submitted).Seconds())
	task.txn.finish(s)
}
