package coordinator

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mezonai/sidechainnode/block"
	"github.com/mezonai/sidechainnode/box"
	"github.com/mezonai/sidechainnode/db"
	"github.com/mezonai/sidechainnode/events"
	"github.com/mezonai/sidechainnode/history"
	"github.com/mezonai/sidechainnode/mempool"
	"github.com/mezonai/sidechainnode/state"
	"github.com/mezonai/sidechainnode/versionedkv"
	"github.com/mezonai/sidechainnode/wallet"
)

type testCodec struct{}

func (testCodec) Encode(s box.Secret) ([]byte, error) { return nil, nil }
func (testCodec) Decode(typeID byte, data []byte) (box.Secret, error) {
	return nil, nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *history.History, *state.State, *mempool.MemoryPool, *events.EventBus) {
	t.Helper()
	dir := t.TempDir()
	open := func(name string) db.IterableProvider {
		p, err := db.NewLevelDBProvider(filepath.Join(dir, name))
		require.NoError(t, err)
		t.Cleanup(func() { _ = p.Close() })
		return p.(db.IterableProvider)
	}

	h, err := history.Open(history.Stores{
		Headers:   open("h_headers"),
		Best:      open("h_best"),
		Consensus: open("h_consensus"),
	})
	require.NoError(t, err)

	s, err := state.Open(state.Stores{
		Boxes:       open("s_boxes"),
		ForgerBoxes: open("s_forger"),
		UTXOTree:    open("s_utxo"),
	}, state.Config{ConsensusEpochLength: 100, WithdrawalEpochLength: 100})
	require.NoError(t, err)

	w, err := wallet.Open(wallet.Stores{
		Boxes:       open("w_boxes"),
		Txs:         open("w_txs"),
		ForgerBoxes: open("w_forger"),
		CSWData:     open("w_csw"),
		StakeInfo:   open("w_stake"),
		Secrets:     open("w_secrets"),
	}, testCodec{}, &wallet.NoopApplicationWallet{})
	require.NoError(t, err)

	pool := mempool.New()
	bus := events.NewEventBus()
	c := New(h, s, w, pool, bus)
	return c, h, s, pool, bus
}

// storeNames lists every LevelDB directory a coordinator instance opens,
// keyed the same way newTestCoordinator and openProviders name them.
var storeNames = []string{
	"h_headers", "h_best", "h_consensus",
	"s_boxes", "s_forger", "s_utxo",
	"w_boxes", "w_txs", "w_forger", "w_csw", "w_stake", "w_secrets",
}

// openProviders opens every store under dir without registering any
// t.Cleanup, so the caller controls exactly when they close — needed to
// simulate a restart, where the first generation must be closed before
// the second generation reopens the same on-disk files.
func openProviders(t *testing.T, dir string) map[string]db.IterableProvider {
	t.Helper()
	providers := make(map[string]db.IterableProvider, len(storeNames))
	for _, name := range storeNames {
		p, err := db.NewLevelDBProvider(filepath.Join(dir, name))
		require.NoError(t, err)
		providers[name] = p.(db.IterableProvider)
	}
	return providers
}

func closeProviders(t *testing.T, providers map[string]db.IterableProvider) {
	t.Helper()
	for _, p := range providers {
		require.NoError(t, p.Close())
	}
}

func coordinatorOver(t *testing.T, providers map[string]db.IterableProvider) (*Coordinator, *history.History) {
	t.Helper()
	h, err := history.Open(history.Stores{
		Headers:   providers["h_headers"],
		Best:      providers["h_best"],
		Consensus: providers["h_consensus"],
	})
	require.NoError(t, err)

	s, err := state.Open(state.Stores{
		Boxes:       providers["s_boxes"],
		ForgerBoxes: providers["s_forger"],
		UTXOTree:    providers["s_utxo"],
	}, state.Config{ConsensusEpochLength: 100, WithdrawalEpochLength: 100})
	require.NoError(t, err)

	w, err := wallet.Open(wallet.Stores{
		Boxes:       providers["w_boxes"],
		Txs:         providers["w_txs"],
		ForgerBoxes: providers["w_forger"],
		CSWData:     providers["w_csw"],
		StakeInfo:   providers["w_stake"],
		Secrets:     providers["w_secrets"],
	}, testCodec{}, &wallet.NoopApplicationWallet{})
	require.NoError(t, err)

	c := New(h, s, w, mempool.New(), events.NewEventBus())
	return c, h
}

func id(b byte) [32]byte {
	var out [32]byte
	out[0] = b
	return out
}

func TestPmodModifyAppliesGenesisAndExtension(t *testing.T) {
	c, h, s, _, _ := newTestCoordinator(t)

	genesis := &block.Block{
		ID: id(1),
		MainchainBlockReferencesData: []block.MainchainBlockReferenceData{
			{SidechainRelatedAggregatedTx: &block.SidechainRelatedAggregatedTransaction{
				ForwardTransfers: []block.ForwardTransferOutput{{BoxID: id(10), Proposition: []byte("A"), Amount: 100}},
			}},
		},
	}
	require.NoError(t, c.PmodModify(genesis))

	best, ok := h.BestBlockID()
	require.True(t, ok)
	require.Equal(t, versionedkv.Version(id(1)), best)

	v, ok := s.Version()
	require.True(t, ok)
	require.Equal(t, versionedkv.Version(id(1)), v)

	child := &block.Block{ID: id(2), ParentID: id(1)}
	require.NoError(t, c.PmodModify(child))

	best, ok = h.BestBlockID()
	require.True(t, ok)
	require.Equal(t, versionedkv.Version(id(2)), best)
}

func TestPmodModifyIsIdempotent(t *testing.T) {
	c, h, _, _, _ := newTestCoordinator(t)
	genesis := &block.Block{ID: id(1)}
	require.NoError(t, c.PmodModify(genesis))
	require.NoError(t, c.PmodModify(genesis))

	best, ok := h.BestBlockID()
	require.True(t, ok)
	require.Equal(t, versionedkv.Version(id(1)), best)
}

func TestPmodModifySwitchesOnReorg(t *testing.T) {
	c, h, s, _, _ := newTestCoordinator(t)

	genesis := &block.Block{ID: id(1)}
	require.NoError(t, c.PmodModify(genesis))

	a1 := &block.Block{ID: id(2), ParentID: id(1)}
	require.NoError(t, c.PmodModify(a1))

	b1 := &block.Block{ID: id(3), ParentID: id(1)}
	require.NoError(t, c.PmodModify(b1))
	// b1 has the same height as a1: recorded but not yet best.
	best, ok := h.BestBlockID()
	require.True(t, ok)
	require.Equal(t, versionedkv.Version(id(2)), best)

	b2 := &block.Block{ID: id(4), ParentID: id(3)}
	require.NoError(t, c.PmodModify(b2))

	best, ok = h.BestBlockID()
	require.True(t, ok)
	require.Equal(t, versionedkv.Version(id(4)), best)

	v, ok := s.Version()
	require.True(t, ok)
	require.Equal(t, versionedkv.Version(id(4)), v)
}

func TestPmodModifyReportsSemanticallyFailedModifier(t *testing.T) {
	c, _, _, _, bus := newTestCoordinator(t)
	subID, ch := bus.Subscribe()
	defer bus.Unsubscribe(subID)

	bad := &block.Block{
		ID: id(1),
		Transactions: []block.TransactionRef{
			{ID: "tx1", BoxIDsToOpen: [][32]byte{id(99)}},
		},
	}
	require.NoError(t, c.PmodModify(bad))

	select {
	case ev := <-ch:
		require.Equal(t, events.EventSemanticallyFailedModifier, ev.Type())
	default:
		t.Fatal("expected a SemanticallyFailedModifier event")
	}
}

func TestCheckAndRecoverStoragesConsistentAfterCleanRun(t *testing.T) {
	c, _, _, _, _ := newTestCoordinator(t)
	genesis := &block.Block{ID: id(1)}
	require.NoError(t, c.PmodModify(genesis))
	require.NoError(t, c.CheckAndRecoverStorages())
}

func TestPmodModifyUpdatesMempoolOnReorg(t *testing.T) {
	c, _, _, pool, _ := newTestCoordinator(t)

	genesis := &block.Block{ID: id(1)}
	require.NoError(t, c.PmodModify(genesis))

	a1 := &block.Block{
		ID:           id(2),
		ParentID:     id(1),
		Transactions: []block.TransactionRef{{ID: "tx-a1"}},
	}
	require.NoError(t, c.PmodModify(a1))

	b1 := &block.Block{ID: id(3), ParentID: id(1), Transactions: []block.TransactionRef{{ID: "tx-b1"}}}
	require.NoError(t, c.PmodModify(b1))
	b2 := &block.Block{ID: id(4), ParentID: id(3)}
	require.NoError(t, c.PmodModify(b2))

	require.True(t, pool.Contains("tx-a1"))
	require.False(t, pool.Contains("tx-b1"))
}

func TestCheckAndRecoverStoragesOnFreshDataDirectory(t *testing.T) {
	dir := t.TempDir()
	providers := openProviders(t, dir)
	defer closeProviders(t, providers)

	c, _ := coordinatorOver(t, providers)
	require.NoError(t, c.CheckAndRecoverStorages())
}

func TestCheckAndRecoverStoragesAfterRestart(t *testing.T) {
	dir := t.TempDir()

	firstGen := openProviders(t, dir)
	c, _ := coordinatorOver(t, firstGen)
	genesis := &block.Block{ID: id(1)}
	require.NoError(t, c.PmodModify(genesis))
	child := &block.Block{ID: id(2), ParentID: id(1)}
	require.NoError(t, c.PmodModify(child))
	closeProviders(t, firstGen)

	secondGen := openProviders(t, dir)
	defer closeProviders(t, secondGen)
	c2, h2 := coordinatorOver(t, secondGen)
	require.NoError(t, c2.CheckAndRecoverStorages())

	best, ok := h2.BestBlockID()
	require.True(t, ok)
	require.Equal(t, versionedkv.Version(id(2)), best)
}
