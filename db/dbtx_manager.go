package db

import (
	"fmt"
)

// TxManager runs a sequence of puts/deletes against a single provider as
// one atomic batch, so a versioned KV store can commit its live-value
// update and its undo-log entry together.
type TxManager struct {
	provider DatabaseProvider
}

// NewTxManager creates a new transaction manager for the given provider.
func NewTxManager(provider DatabaseProvider) *TxManager {
	return &TxManager{provider: provider}
}

// WithBatch executes fn against a fresh batch. If fn returns nil the
// batch is written; otherwise it is discarded and the error propagated.
func (tm *TxManager) WithBatch(fn func(batch DatabaseBatch) error) error {
	batch := tm.provider.Batch()
	defer batch.Close()

	if err := fn(batch); err != nil {
		batch.Reset()
		return fmt.Errorf("batch aborted: %w", err)
	}

	if err := batch.Write(); err != nil {
		return fmt.Errorf("batch commit failed: %w", err)
	}

	return nil
}
