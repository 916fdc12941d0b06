package transaction

import "sync"

// contextPool keeps finished contexts for reuse so read/write-set buffers are recycled. It never
// holds more than capacity contexts.
type contextPool struct {
	mu       sync.Mutex
	free     []*TxnContext
	capacity int
}

func newContextPool(capacity int) *contextPool {
	return &contextPool{free: make([]*TxnContext, 0, capacity), capacity: capacity}
}

func (p *contextPool) get() *TxnContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		txn := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		return txn
	}
	return newTxnContext()
}

func (p *contextPool) put(txn *TxnContext) {
	txn.reset()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) < p.capacity {
		p.free = append(p.free, txn)
	}
}

func (p *contextPool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
