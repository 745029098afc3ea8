package repotest

import (
	"context"
	"time"

	"github.com/chaindexer/chaindexer/internal/models"
)

// fakeTx mutates the parent Repo directly; WithTx already holds r.mu and
// snapshots/restores around the whole closure, so these methods assume the
// lock is held and never take it themselves.
type fakeTx struct{ r *Repo }

func (t *fakeTx) Exec(ctx context.Context, query string, args ...any) error { return nil }

func (t *fakeTx) InsertEvents(ctx context.Context, events []models.Event) error {
	for _, e := range events {
		dup := false
		for _, existing := range t.r.events {
			if existing.TransactionHash == e.TransactionHash &&
				existing.LogIndex == e.LogIndex &&
				existing.ChainID == e.ChainID {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		e.ContractAddress = models.NormalizeAddress(e.ContractAddress)
		t.r.events = append(t.r.events, e)
	}
	return nil
}

func (t *fakeTx) AdvanceIngestCursor(ctx context.Context, ids []int64, to uint64) error {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for i := range t.r.addrs {
		if want[t.r.addrs[i].ID] && t.r.addrs[i].NextBlockNumberToIngestFrom < to {
			t.r.addrs[i].NextBlockNumberToIngestFrom = to
		}
	}
	return nil
}

func (t *fakeTx) DeleteEventsFromBlock(ctx context.Context, chainID models.ChainID, fromBlock uint64) error {
	kept := t.r.events[:0:0]
	for _, e := range t.r.events {
		if e.ChainID == chainID && e.BlockNumber >= fromBlock {
			continue
		}
		kept = append(kept, e)
	}
	t.r.events = kept
	return nil
}

func (t *fakeTx) InsertReorgedBlock(ctx context.Context, rb models.ReorgedBlock) error {
	t.r.nextRBID++
	rb.ID = t.r.nextRBID
	t.r.reorgs = append(t.r.reorgs, rb)
	return nil
}

func (t *fakeTx) AdvanceHandleCursor(ctx context.Context, id int64, to uint64) error {
	for i := range t.r.addrs {
		if t.r.addrs[i].ID == id && t.r.addrs[i].NextBlockNumberToHandleFrom < to {
			t.r.addrs[i].NextBlockNumberToHandleFrom = to
		}
	}
	return nil
}

func (t *fakeTx) AdvanceSideEffectCursor(ctx context.Context, id int64, to uint64) error {
	for i := range t.r.addrs {
		if t.r.addrs[i].ID == id && t.r.addrs[i].NextBlockNumberForSideEffects < to {
			t.r.addrs[i].NextBlockNumberForSideEffects = to
		}
	}
	return nil
}

func (t *fakeTx) RewindHandleCursor(ctx context.Context, chainID models.ChainID, to uint64) error {
	for i := range t.r.addrs {
		if t.r.addrs[i].ChainID == chainID && to < t.r.addrs[i].NextBlockNumberToHandleFrom {
			t.r.addrs[i].NextBlockNumberToHandleFrom = to
		}
	}
	return nil
}

func (t *fakeTx) MarkReorgedBlockHandled(ctx context.Context, id int64, at time.Time) error {
	for i := range t.r.reorgs {
		if t.r.reorgs[i].ID == id {
			stamped := at
			t.r.reorgs[i].HandledAt = &stamped
		}
	}
	return nil
}
