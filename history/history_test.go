package history

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mezonai/sidechainnode/block"
	"github.com/mezonai/sidechainnode/db"
	"github.com/mezonai/sidechainnode/versionedkv"
)

func newTestHistory(t *testing.T) *History {
	t.Helper()
	dir := t.TempDir()
	open := func(name string) db.IterableProvider {
		p, err := db.NewLevelDBProvider(filepath.Join(dir, name))
		require.NoError(t, err)
		t.Cleanup(func() { _ = p.Close() })
		return p.(db.IterableProvider)
	}
	h, err := Open(Stores{
		Headers:   open("headers"),
		Best:      open("best"),
		Consensus: open("consensus"),
	})
	require.NoError(t, err)
	return h
}

func id(b byte) [32]byte {
	var out [32]byte
	out[0] = b
	return out
}

func TestAppendGenesisBecomesBest(t *testing.T) {
	h := newTestHistory(t)
	genesis := &block.Block{ID: id(1)}
	progress, err := h.Append(genesis)
	require.NoError(t, err)
	require.Equal(t, []*block.Block{genesis}, progress.ToApply)
	require.False(t, progress.ChainSwitchingNeeded)

	require.NoError(t, h.ReportModifierIsValid(genesis))
	best, ok := h.BestBlockID()
	require.True(t, ok)
	require.Equal(t, versionedkv.Version(genesis.ID), best)
}

func TestAppendSimpleExtension(t *testing.T) {
	h := newTestHistory(t)
	genesis := &block.Block{ID: id(1)}
	_, err := h.Append(genesis)
	require.NoError(t, err)
	require.NoError(t, h.ReportModifierIsValid(genesis))

	child := &block.Block{ID: id(2), ParentID: id(1)}
	progress, err := h.Append(child)
	require.NoError(t, err)
	require.Equal(t, []*block.Block{child}, progress.ToApply)
	require.False(t, progress.ChainSwitchingNeeded)
}

func TestAppendUnknownParentRequestsDownload(t *testing.T) {
	h := newTestHistory(t)
	orphan := &block.Block{ID: id(2), ParentID: id(1)}
	progress, err := h.Append(orphan)
	require.NoError(t, err)
	require.Equal(t, []versionedkv.Version{versionedkv.Version(id(1))}, progress.ToDownload)
}

func TestAppendIsIdempotent(t *testing.T) {
	h := newTestHistory(t)
	genesis := &block.Block{ID: id(1)}
	_, err := h.Append(genesis)
	require.NoError(t, err)

	progress, err := h.Append(genesis)
	require.NoError(t, err)
	require.True(t, progress.IsEmpty())
}

func TestAppendReorgAcrossFork(t *testing.T) {
	h := newTestHistory(t)
	genesis := &block.Block{ID: id(1)}
	_, err := h.Append(genesis)
	require.NoError(t, err)
	require.NoError(t, h.ReportModifierIsValid(genesis))

	a1 := &block.Block{ID: id(2), ParentID: id(1)}
	_, err = h.Append(a1)
	require.NoError(t, err)
	require.NoError(t, h.ReportModifierIsValid(a1))

	// A competing fork: b1 -> b2, both children of genesis / b1.
	b1 := &block.Block{ID: id(3), ParentID: id(1)}
	progress, err := h.Append(b1)
	require.NoError(t, err)
	// b1 has the same height as a1: known but not yet best.
	require.True(t, progress.IsEmpty())

	b2 := &block.Block{ID: id(4), ParentID: id(3)}
	progress, err = h.Append(b2)
	require.NoError(t, err)
	require.True(t, progress.ChainSwitchingNeeded)
	require.Equal(t, versionedkv.Version(id(1)), progress.BranchPoint)
	require.Equal(t, []versionedkv.Version{versionedkv.Version(id(2))}, progress.ToRemove)
	require.Equal(t, []*block.Block{b1, b2}, progress.ToApply)
}

func TestChainBackFindsCommonAncestor(t *testing.T) {
	h := newTestHistory(t)
	genesis := &block.Block{ID: id(1)}
	_, err := h.Append(genesis)
	require.NoError(t, err)
	require.NoError(t, h.ReportModifierIsValid(genesis))

	a1 := &block.Block{ID: id(2), ParentID: id(1)}
	_, err = h.Append(a1)
	require.NoError(t, err)
	require.NoError(t, h.ReportModifierIsValid(a1))

	b1 := &block.Block{ID: id(3), ParentID: id(1)}
	_, err = h.Append(b1)
	require.NoError(t, err)

	path, err := h.ChainBack(versionedkv.Version(id(3)), 10)
	require.NoError(t, err)
	require.Equal(t, []versionedkv.Version{versionedkv.Version(id(1)), versionedkv.Version(id(3))}, path)
}

func TestReportModifierIsInvalidReturnsEmptyAlternative(t *testing.T) {
	h := newTestHistory(t)
	genesis := &block.Block{ID: id(1)}
	_, err := h.Append(genesis)
	require.NoError(t, err)

	alt, err := h.ReportModifierIsInvalid(genesis, ProgressInfo{})
	require.NoError(t, err)
	require.True(t, alt.IsEmpty())
}

func TestRollbackRestoresBestPointer(t *testing.T) {
	h := newTestHistory(t)
	genesis := &block.Block{ID: id(1)}
	_, err := h.Append(genesis)
	require.NoError(t, err)
	require.NoError(t, h.ReportModifierIsValid(genesis))

	child := &block.Block{ID: id(2), ParentID: id(1)}
	_, err = h.Append(child)
	require.NoError(t, err)
	require.NoError(t, h.ReportModifierIsValid(child))

	require.NoError(t, h.Rollback(versionedkv.Version(id(1))))
	best, ok := h.BestBlockID()
	require.True(t, ok)
	require.Equal(t, versionedkv.Version(id(1)), best)
}

func TestConsensusEpochNonceChains(t *testing.T) {
	h := newTestHistory(t)
	nonce1, err := h.ComputeEpochNonce(1, versionedkv.Version(id(1)))
	require.NoError(t, err)
	require.NoError(t, h.ApplyFullConsensusEpochInfo(EpochRecord{
		Epoch:            1,
		LastBlockInEpoch: versionedkv.Version(id(1)),
		Nonce:            nonce1,
	}))

	nonce2, err := h.ComputeEpochNonce(2, versionedkv.Version(id(2)))
	require.NoError(t, err)
	require.NotEqual(t, nonce1, nonce2)

	rec, ok, err := h.GetEpochRecord(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, nonce1, rec.Nonce)
}
