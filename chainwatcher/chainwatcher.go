package chainwatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxStatus is the lifecycle of a watched transaction.
type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusConfirmed TxStatus = "confirmed"
	StatusFailed    TxStatus = "failed"
)

// TxUpdate is one observation of a watched transaction.
type TxUpdate struct {
	Hash   common.Hash
	Status TxStatus
	Confs  uint64
	At     time.Time
}

// Final reports whether no further updates will change the status.
func (u TxUpdate) Final(confTarget uint64) bool {
	return u.Status == StatusFailed || (u.Status == StatusConfirmed && u.Confs >= confTarget)
}

// Backend is the node surface the watcher polls. *ethclient.Client
// satisfies it.
type Backend interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// ChainWatcher is a minimal pusher: it polls receipts for every transaction
// hash that currently has at least one subscriber and broadcasts a TxUpdate
// each tick. Mined receipts are cached so later ticks only re-derive the
// confirmation count.
type ChainWatcher struct {
	log        slog.Logger
	client     Backend
	confTarget uint64

	mu    sync.RWMutex
	tip   uint64
	subs  map[common.Hash]map[chan TxUpdate]struct{}
	known map[common.Hash]*types.Receipt

	quit chan struct{}
}

func New(log slog.Logger, client Backend, confTarget uint64) *ChainWatcher {
	if confTarget == 0 {
		confTarget = 1
	}
	return &ChainWatcher{
		log:        log,
		client:     client,
		confTarget: confTarget,
		subs:       make(map[common.Hash]map[chan TxUpdate]struct{}),
		known:      make(map[common.Hash]*types.Receipt),
		quit:       make(chan struct{}),
	}
}

func (w *ChainWatcher) Stop() { close(w.quit) }

func (w *ChainWatcher) Run(ctx context.Context) {
	w.log.Infof("watcher: started")
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	defer w.log.Infof("watcher: stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case <-t.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *ChainWatcher) pollOnce(ctx context.Context) {
	// Update tip (best effort).
	if n, err := w.client.BlockNumber(ctx); err == nil {
		w.mu.Lock()
		w.tip = n
		w.mu.Unlock()
	} else {
		w.log.Debugf("watcher: BlockNumber failed: %v", err)
	}

	// Snapshot subscribed hashes.
	w.mu.RLock()
	hashes := make([]common.Hash, 0, len(w.subs))
	for h := range w.subs {
		hashes = append(hashes, h)
	}
	w.mu.RUnlock()
	if len(hashes) == 0 {
		return
	}

	tip := w.currentTip()
	for _, h := range hashes {
		w.mu.RLock()
		receipt := w.known[h]
		w.mu.RUnlock()

		if receipt == nil {
			var err error
			receipt, err = w.client.TransactionReceipt(ctx, h)
			if err != nil {
				if !errors.Is(err, ethereum.NotFound) {
					w.log.Debugf("watcher: receipt %s failed: %v", h, err)
				}
				w.broadcastUpdate(h, TxUpdate{Hash: h, Status: StatusPending, At: time.Now()})
				continue
			}
			w.mu.Lock()
			w.known[h] = receipt
			w.mu.Unlock()
		}

		var confs uint64
		if tip >= receipt.BlockNumber.Uint64() {
			confs = tip - receipt.BlockNumber.Uint64() + 1
		}
		status := StatusConfirmed
		if receipt.Status != types.ReceiptStatusSuccessful {
			status = StatusFailed
		}
		w.broadcastUpdate(h, TxUpdate{Hash: h, Status: status, Confs: confs, At: time.Now()})
	}
}

// broadcastUpdate fans an update out to every subscriber of the hash. Sends
// never block; a slow receiver misses ticks rather than stalling the poller.
func (w *ChainWatcher) broadcastUpdate(hash common.Hash, u TxUpdate) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for ch := range w.subs[hash] {
		select {
		case ch <- u:
		default:
		}
	}
}

func (w *ChainWatcher) currentTip() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tip
}

// Watch adds a listener for a transaction hash and returns the channel plus
// an unsubscribe func. No initial snapshot is sent; first data arrives on
// the next tick.
func (w *ChainWatcher) Watch(hash common.Hash) (<-chan TxUpdate, func()) {
	ch := make(chan TxUpdate, 8)

	w.mu.Lock()
	if _, ok := w.subs[hash]; !ok {
		w.subs[hash] = make(map[chan TxUpdate]struct{})
	}
	w.subs[hash][ch] = struct{}{}
	n := len(w.subs[hash])
	w.mu.Unlock()
	w.log.Infof("watcher: subscribed tx=%s (subs=%d)", hash, n)

	unsub := func() {
		w.mu.Lock()
		if set, ok := w.subs[hash]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(w.subs, hash)
				// Last subscriber gone; drop the cached receipt too.
				delete(w.known, hash)
			}
		}
		w.mu.Unlock()
		w.log.Infof("watcher: unsubscribed tx=%s", hash)
		// Do not close(ch): the poller may still try to send; let the
		// receiver stop by context.
	}
	return ch, unsub
}

// Track follows a transaction until it reaches the confirmation target or
// fails, logging the outcome. Used for fire-and-forget settlement and
// cancellation transactions whose rooms are already gone.
func (w *ChainWatcher) Track(ctx context.Context, hash common.Hash) {
	ch, unsub := w.Watch(hash)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case u := <-ch:
			switch {
			case u.Status == StatusFailed:
				w.log.Warnf("watcher: tx %s reverted", hash)
				return
			case u.Final(w.confTarget):
				w.log.Infof("watcher: tx %s confirmed (%d confs)", hash, u.Confs)
				return
			}
		}
	}
}
