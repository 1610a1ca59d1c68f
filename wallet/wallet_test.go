package wallet

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mezonai/sidechainnode/block"
	"github.com/mezonai/sidechainnode/box"
	"github.com/mezonai/sidechainnode/db"
	"github.com/stretchr/testify/require"
)

const testSecretTypeID byte = 1

type testSecret struct{ pub []byte }

func (s *testSecret) SecretTypeID() byte                { return testSecretTypeID }
func (s *testSecret) PublicImage() box.Proposition       { return box.Proposition{Bytes: s.pub} }
func (s *testSecret) Bytes() []byte                      { return s.pub }
func (s *testSecret) Owns(p box.Proposition) bool        { return p.Equal(s.PublicImage()) }
func (s *testSecret) Sign(msg []byte) (box.Proof, error) { return box.Proof{Bytes: msg}, nil }

type testCodec struct{}

func (testCodec) Encode(s box.Secret) ([]byte, error) { return s.Bytes(), nil }
func (testCodec) Decode(typeID byte, data []byte) (box.Secret, error) {
	return &testSecret{pub: data}, nil
}

func newTestWallet(t *testing.T) *Wallet {
	t.Helper()
	dir := t.TempDir()
	open := func(name string) db.IterableProvider {
		p, err := db.NewLevelDBProvider(filepath.Join(dir, name))
		require.NoError(t, err)
		t.Cleanup(func() { _ = p.Close() })
		return p.(db.IterableProvider)
	}
	stores := Stores{
		Boxes:       open("boxes"),
		Txs:         open("txs"),
		ForgerBoxes: open("forger"),
		CSWData:     open("csw"),
		StakeInfo:   open("stake"),
		Secrets:     open("secrets"),
	}
	w, err := Open(stores, testCodec{}, nil)
	require.NoError(t, err)
	return w
}

func boxID(b byte) [32]byte {
	var id [32]byte
	id[0] = b
	return id
}

func TestScanPersistentAddsKnownBoxesOnly(t *testing.T) {
	w := newTestWallet(t)
	myPub := []byte("me")
	require.NoError(t, w.AddSecret(&testSecret{pub: myPub}))

	blk := &block.Block{ID: boxID(1), Timestamp: time.Unix(1000, 0)}
	changes := BoxChanges{
		ToAppend: []box.Box{
			{ID: box.ID(boxID(2)), Proposition: box.Proposition{Bytes: myPub}, Value: 10},
			{ID: box.ID(boxID(3)), Proposition: box.Proposition{Bytes: []byte("stranger")}, Value: 20},
		},
	}

	require.NoError(t, w.ScanPersistent(blk, 0, changes, nil, nil))

	all, err := w.boxes.all()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, box.ID(boxID(2)), all[0].Box.ID)

	v, ok := w.Version()
	require.True(t, ok)
	require.Equal(t, blk.ID, v)
}

func TestScanPersistentRemovesBoxes(t *testing.T) {
	w := newTestWallet(t)
	myPub := []byte("me")
	require.NoError(t, w.AddSecret(&testSecret{pub: myPub}))

	blk1 := &block.Block{ID: boxID(1), Timestamp: time.Unix(1000, 0)}
	require.NoError(t, w.ScanPersistent(blk1, 0, BoxChanges{
		ToAppend: []box.Box{{ID: box.ID(boxID(2)), Proposition: box.Proposition{Bytes: myPub}, Value: 10}},
	}, nil, nil))

	blk2 := &block.Block{ID: boxID(4), Timestamp: time.Unix(2000, 0)}
	require.NoError(t, w.ScanPersistent(blk2, 0, BoxChanges{
		ToRemove: [][32]byte{boxID(2)},
	}, nil, nil))

	all, err := w.boxes.all()
	require.NoError(t, err)
	require.Len(t, all, 0)
}

func TestRollbackRestoresVersion(t *testing.T) {
	w := newTestWallet(t)
	myPub := []byte("me")
	require.NoError(t, w.AddSecret(&testSecret{pub: myPub}))

	blk1 := &block.Block{ID: boxID(1), Timestamp: time.Unix(1000, 0)}
	require.NoError(t, w.ScanPersistent(blk1, 0, BoxChanges{
		ToAppend: []box.Box{{ID: box.ID(boxID(2)), Proposition: box.Proposition{Bytes: myPub}, Value: 10}},
	}, nil, nil))

	blk2 := &block.Block{ID: boxID(4), Timestamp: time.Unix(2000, 0)}
	require.NoError(t, w.ScanPersistent(blk2, 0, BoxChanges{
		ToAppend: []box.Box{{ID: box.ID(boxID(5)), Proposition: box.Proposition{Bytes: myPub}, Value: 20}},
	}, nil, nil))

	require.NoError(t, w.Rollback(blk1.ID))

	v, ok := w.Version()
	require.True(t, ok)
	require.Equal(t, blk1.ID, v)

	all, err := w.boxes.all()
	require.NoError(t, err)
	require.Len(t, all, 1)
}

// TestSecretDurabilityAcrossRollback covers P3: the secret set is
// unaffected by block application and rollback.
func TestSecretDurabilityAcrossRollback(t *testing.T) {
	w := newTestWallet(t)
	myPub := []byte("me")
	require.NoError(t, w.AddSecret(&testSecret{pub: myPub}))

	blk1 := &block.Block{ID: boxID(1), Timestamp: time.Unix(1000, 0)}
	require.NoError(t, w.ScanPersistent(blk1, 0, BoxChanges{}, nil, nil))
	blk2 := &block.Block{ID: boxID(2), Timestamp: time.Unix(2000, 0)}
	require.NoError(t, w.ScanPersistent(blk2, 0, BoxChanges{}, nil, nil))

	require.NoError(t, w.Rollback(blk1.ID))

	got, ok, err := w.secrets.Get(box.Proposition{Bytes: myPub})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, myPub, got.Bytes())
}

func TestCSWLeafIndexCountsAllForwardTransfers(t *testing.T) {
	w := newTestWallet(t)
	require.NoError(t, w.AddSecret(&testSecret{pub: []byte("A")}))
	require.NoError(t, w.AddSecret(&testSecret{pub: []byte("C")}))

	blk := &block.Block{
		ID:        boxID(9),
		Timestamp: time.Unix(1000, 0),
		MainchainBlockReferencesData: []block.MainchainBlockReferenceData{
			{
				SidechainRelatedAggregatedTx: &block.SidechainRelatedAggregatedTransaction{
					SidechainCreation: &block.SidechainCreationOutput{Version: 1},
					ForwardTransfers: []block.ForwardTransferOutput{
						{BoxID: boxID(10), Proposition: []byte("A")},
						{BoxID: boxID(11), Proposition: []byte("B")},
						{BoxID: boxID(12), Proposition: []byte("C")},
					},
				},
			},
		},
	}

	require.NoError(t, w.ScanPersistent(blk, 0, BoxChanges{}, nil, nil))

	data, ok, err := w.csw.get(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, data.ForwardTransfers, 2)
	require.Equal(t, 0, data.ForwardTransfers[0].LeafIndex)
	require.Equal(t, 2, data.ForwardTransfers[1].LeafIndex)
}

