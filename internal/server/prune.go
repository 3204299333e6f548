package server

import (
	"context"
	"time"

	"github.com/aspect-build/attestbroker/internal/logx"
	"github.com/aspect-build/attestbroker/internal/server/db"
)

var pruneLog = logx.For("server.prune")

// PruneLedger deletes entries older than retention, measured from now.
func PruneLedger(store *db.Store, retention time.Duration, now time.Time) (int64, error) {
	return store.PruneRequests(now.Add(-retention))
}

// RunLedgerPruner prunes the ledger every interval until ctx is done. It
// returns immediately when retention is zero.
func RunLedgerPruner(ctx context.Context, store *db.Store, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := PruneLedger(store, retention, time.Now())
		if err != nil {
			pruneLog.Errorf("prune ledger: %v", err)
		} else if n > 0 {
			pruneLog.Infof("pruned %d ledger entries older than %s", n, retention)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
