package mempool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mezonai/sidechainnode/block"
	"github.com/mezonai/sidechainnode/versionedkv"
)

func TestAddDeduplicatesByID(t *testing.T) {
	p := New()
	p.Add(block.TransactionRef{ID: "tx1"})
	p.Add(block.TransactionRef{ID: "tx1"})
	require.Equal(t, 1, p.Len())
}

func TestGetBatchOrderingAndCap(t *testing.T) {
	p := New()
	p.Add(block.TransactionRef{ID: "tx1"})
	p.Add(block.TransactionRef{ID: "tx2"})
	p.Add(block.TransactionRef{ID: "tx3"})

	batch := p.GetBatch(2)
	require.Len(t, batch, 2)
	require.Equal(t, "tx1", batch[0].ID)
	require.Equal(t, "tx2", batch[1].ID)
	require.Equal(t, 3, p.Len())
}

func TestUpdateRemovesAppliedRequeuesRolledBack(t *testing.T) {
	p := New()
	p.Add(block.TransactionRef{ID: "tx1"})
	p.Add(block.TransactionRef{ID: "tx2"})

	applied := &block.Block{Transactions: []block.TransactionRef{{ID: "tx1"}}}
	rolledBack := &block.Block{Transactions: []block.TransactionRef{{ID: "tx3"}}}

	p.Update([]*block.Block{rolledBack}, []*block.Block{applied}, versionedkv.Version{})

	require.False(t, p.Contains("tx1"))
	require.True(t, p.Contains("tx2"))
	require.True(t, p.Contains("tx3"))
}

func TestUpdateDoesNotDuplicateAlreadyQueuedRolledBackTx(t *testing.T) {
	p := New()
	p.Add(block.TransactionRef{ID: "tx1"})

	rolledBack := &block.Block{Transactions: []block.TransactionRef{{ID: "tx1"}}}
	p.Update([]*block.Block{rolledBack}, nil, versionedkv.Version{})

	require.Equal(t, 1, p.Len())
}
