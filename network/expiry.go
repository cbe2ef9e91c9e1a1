package network

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tidepool-labs/tidepool/blob"
	"github.com/tidepool-labs/tidepool/ledger"
)

// expiryScheduler periodically removes slivers whose blob object has expired or has been deleted.
type expiryScheduler struct {
	interval time.Duration
	network  *Local
	closing  chan struct{}
	closed   sync.WaitGroup
}

func newExpiryScheduler(interval time.Duration, network *Local) *expiryScheduler {
	return &expiryScheduler{
		interval: interval,
		network:  network,
		closing:  make(chan struct{}),
	}
}

func (es *expiryScheduler) start(_ context.Context) {
	es.closed.Add(1)

	go func() {
		defer es.closed.Done()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-es.closing:
				cancel()
			case <-ctx.Done():
			}
		}()

		ticker := time.NewTicker(es.interval)
		defer ticker.Stop()

		// Run once immediately on startup
		if err := es.expire(ctx); err != nil {
			logger.Warnw("Failed to remove expired slivers", "err", err)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := es.expire(ctx); err != nil {
					logger.Warnw("Failed to remove expired slivers", "err", err)
				}
			}
		}
	}()
}

func (es *expiryScheduler) stop(ctx context.Context) error {
	close(es.closing)

	done := make(chan struct{})
	go func() {
		es.closed.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (es *expiryScheduler) expire(ctx context.Context) error {
	_, err := es.network.expire(ctx)
	return err
}

// expire removes every stored sliver whose blob has no unexpired object on the ledger.
// Blobs that are registered but not yet certified are kept.
//
// Nodes are listed before the ledger is read, and the ledger is read while sliver writes are
// excluded. Slivers are only written once their register transaction has committed, so every
// sliver on disk at that point whose blob is live is covered by the snapshot.
func (n *Local) expire(ctx context.Context) (int, error) {
	listings := make([][]string, len(n.nodes))
	for i, node := range n.nodes {
		keys, err := node.List(ctx)
		if err != nil {
			logger.Warnw("Failed to list slivers on storage node, skipping for this expiry cycle", "node", i, "err", err)
			continue
		}
		listings[i] = keys
	}

	n.sweepMu.Lock()
	defer n.sweepMu.Unlock()

	epoch := n.Epoch()
	objs, err := n.ledger.Find(ctx, BlobObjectType, func(obj ledger.Object) bool {
		return !expired(obj, epoch)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list live blob objects: %w", err)
	}
	live := make(map[blob.ID]bool, len(objs))
	for _, obj := range objs {
		live[blob.ID(obj.Fields[FieldBlobID])] = true
	}

	var removed int
	for i, keys := range listings {
		for _, key := range keys {
			dot := strings.LastIndexByte(key, '.')
			if dot <= 0 || live[blob.ID(key[:dot])] {
				continue
			}
			if err := n.nodes[i].Remove(ctx, key); err != nil {
				logger.Warnw("Failed to remove expired sliver", "node", i, "key", key, "err", err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		logger.Infow("Removed slivers of expired blobs", "count", removed, "epoch", epoch)
	}
	return removed, nil
}
