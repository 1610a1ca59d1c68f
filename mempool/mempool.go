// Package mempool is the coordinator's fourth persisted-in-memory
// subsystem: pending transactions waiting to be forged into a block,
// reconciled every time a block application completes.
package mempool

import (
	"sync"

	"github.com/mezonai/sidechainnode/block"
	"github.com/mezonai/sidechainnode/versionedkv"
)

// MemoryPool is a thread-safe, insertion-ordered queue of pending
// transactions keyed by id, so a transaction confirmed in one block and
// resubmitted from a rolled-back sibling is never queued twice.
type MemoryPool struct {
	mu    sync.Mutex
	txs   map[string]block.TransactionRef
	order []string
}

func New() *MemoryPool {
	return &MemoryPool{txs: make(map[string]block.TransactionRef)}
}

// Add enqueues tx unless its id is already present.
func (p *MemoryPool) Add(tx block.TransactionRef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addLocked(tx)
}

func (p *MemoryPool) addLocked(tx block.TransactionRef) {
	if _, exists := p.txs[tx.ID]; exists {
		return
	}
	p.txs[tx.ID] = tx
	p.order = append(p.order, tx.ID)
}

// Remove drops a transaction by id, a no-op if absent.
func (p *MemoryPool) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(id)
}

func (p *MemoryPool) removeLocked(id string) {
	if _, exists := p.txs[id]; !exists {
		return
	}
	delete(p.txs, id)
	for i, existing := range p.order {
		if existing == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Contains reports whether id is currently queued.
func (p *MemoryPool) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.txs[id]
	return ok
}

// Len returns the number of queued transactions.
func (p *MemoryPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// GetBatch returns up to max queued transactions, oldest first, without
// removing them.
func (p *MemoryPool) GetBatch(max int) []block.TransactionRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	if max > len(p.order) {
		max = len(p.order)
	}
	batch := make([]block.TransactionRef, 0, max)
	for _, id := range p.order[:max] {
		batch = append(batch, p.txs[id])
	}
	return batch
}

// Update reconciles the pool against a completed block application:
// transactions carried by newly-applied blocks are removed, since
// they're now confirmed; transactions carried by rolled-back blocks are
// requeued so they get another chance to be forged. newState is the
// coordinator's post-application version; it is accepted and not used,
// since the pool itself has no notion of a version.
func (p *MemoryPool) Update(removed []*block.Block, added []*block.Block, newState versionedkv.Version) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, b := range added {
		for _, tx := range b.Transactions {
			p.removeLocked(tx.ID)
		}
	}
	for _, b := range removed {
		for _, tx := range b.Transactions {
			p.addLocked(tx)
		}
	}
	_ = newState
}
