package chainwatcher

import (
	"context"
	"math/big"
	"testing"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	tip      uint64
	receipts map[common.Hash]*types.Receipt
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	return f.tip, nil
}

func TestWatcher_PendingThenConfirmed(t *testing.T) {
	backend := &fakeBackend{tip: 100, receipts: make(map[common.Hash]*types.Receipt)}
	w := New(slog.Disabled, backend, 2)
	hash := common.HexToHash("0xaa")

	ch, unsub := w.Watch(hash)
	defer unsub()

	// Not mined yet: pending.
	w.pollOnce(context.Background())
	u := <-ch
	assert.Equal(t, StatusPending, u.Status)
	assert.False(t, u.Final(w.confTarget))

	// Mined at block 100 with the tip at 101: two confirmations.
	backend.receipts[hash] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(100),
	}
	backend.tip = 101
	w.pollOnce(context.Background())
	u = <-ch
	assert.Equal(t, StatusConfirmed, u.Status)
	assert.Equal(t, uint64(2), u.Confs)
	assert.True(t, u.Final(w.confTarget))
}

func TestWatcher_Reverted(t *testing.T) {
	hash := common.HexToHash("0xbb")
	backend := &fakeBackend{tip: 50, receipts: map[common.Hash]*types.Receipt{
		hash: {Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(50)},
	}}
	w := New(slog.Disabled, backend, 1)

	ch, unsub := w.Watch(hash)
	defer unsub()

	w.pollOnce(context.Background())
	u := <-ch
	assert.Equal(t, StatusFailed, u.Status)
	assert.True(t, u.Final(w.confTarget))
}

func TestWatcher_UnsubscribeDropsState(t *testing.T) {
	hash := common.HexToHash("0xcc")
	backend := &fakeBackend{tip: 10, receipts: map[common.Hash]*types.Receipt{
		hash: {Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(10)},
	}}
	w := New(slog.Disabled, backend, 1)

	_, unsub := w.Watch(hash)
	w.pollOnce(context.Background())

	w.mu.RLock()
	_, known := w.known[hash]
	w.mu.RUnlock()
	require.True(t, known)

	unsub()
	w.mu.RLock()
	defer w.mu.RUnlock()
	assert.Empty(t, w.subs)
	assert.Empty(t, w.known)
}

func TestWatcher_SlowReceiverDoesNotBlock(t *testing.T) {
	hash := common.HexToHash("0xdd")
	backend := &fakeBackend{tip: 10, receipts: map[common.Hash]*types.Receipt{
		hash: {Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1)},
	}}
	w := New(slog.Disabled, backend, 1)

	_, unsub := w.Watch(hash)
	defer unsub()

	// Channel capacity is 8; extra broadcasts must drop, not deadlock.
	for i := 0; i < 20; i++ {
		w.pollOnce(context.Background())
	}
}
