// Package ingest implements the per-chain ingestion loop: advance each
// contract address's cursor, pull logs in confirmed-safe batches, detect
// reorgs, and commit decoded events transactionally (spec.md §4.D).
package ingest

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/chaindexer/chaindexer/internal/evm"
	"github.com/chaindexer/chaindexer/internal/metrics"
	"github.com/chaindexer/chaindexer/internal/models"
	"github.com/chaindexer/chaindexer/internal/provider"
	"github.com/chaindexer/chaindexer/internal/repo"
)

// Config parameterizes one chain's ingester, matching spec.md §4.D's state.
type Config struct {
	ChainID             models.ChainID
	Provider            provider.Provider
	Repo                repo.Repo
	Decoder             *evm.Decoder
	BlocksPerBatch      uint64
	MinConfirmationCount uint64
	IngestionRate       time.Duration
	StreamPageSize      int
}

// Ingester runs Config's tick loop until its context is cancelled.
type Ingester struct {
	cfg Config
	log *logrus.Entry

	// lastBlockHash remembers the hash seen for a given block number, so a
	// later batch that returns a different hash for the same number can be
	// recognized as a reorg even when the provider doesn't set Removed.
	lastBlockHash map[uint64]string
}

// New builds an Ingester for cfg.
func New(cfg Config, log *logrus.Entry) *Ingester {
	if cfg.StreamPageSize <= 0 {
		cfg.StreamPageSize = 100
	}
	return &Ingester{
		cfg:           cfg,
		log:           log.WithFields(logrus.Fields{"component": "ingester", "chain_id": cfg.ChainID}),
		lastBlockHash: make(map[uint64]string),
	}
}

// Run ticks every cfg.IngestionRate until ctx is done.
func (in *Ingester) Run(ctx context.Context) {
	ticker := time.NewTicker(in.cfg.IngestionRate)
	defer ticker.Stop()

	for {
		if err := in.tick(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				in.log.Info("ingester cancelled")
				return
			}
			in.log.WithError(err).Warn("ingest tick failed, retrying next tick")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick runs one full iteration of spec.md §4.D's main loop.
func (in *Ingester) tick(ctx context.Context) error {
	headCtx, cancel := context.WithTimeout(ctx, in.cfg.IngestionRate/2)
	head, err := in.cfg.Provider.GetBlockNumber(headCtx)
	cancel()
	if err != nil {
		metrics.IngesterErrors.WithLabelValues(chainLabel(in.cfg.ChainID)).Inc()
		return err // transient/fatal provider errors are swallowed by Run
	}
	if head < in.cfg.MinConfirmationCount {
		return nil // chain hasn't produced enough blocks yet to have a safe head
	}
	safeHead := head - in.cfg.MinConfirmationCount

	release, err := in.cfg.Repo.AcquireChainLock(ctx, in.cfg.ChainID)
	if err != nil {
		return err
	}
	defer release()

	stream := in.cfg.Repo.StreamContractAddresses(in.cfg.ChainID, in.cfg.StreamPageSize)
	for {
		page, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := in.processPage(ctx, page, safeHead); err != nil {
			in.log.WithError(err).Warn("batch failed, cursor not advanced")
		}
	}
}

// processPage batches contract addresses sharing the same ingest cursor,
// per spec.md §4.D.3a ("from = min(... across addresses sharing the same
// cursor)"), so each group gets its own [from, to] window.
func (in *Ingester) processPage(ctx context.Context, page []models.ContractAddress, safeHead uint64) error {
	groups := groupByCursor(page)
	// Lower cursors first keeps lag uniform across addresses (spec.md
	// §4.D "Ordering & tie-breaks").
	sort.Slice(groups, func(i, j int) bool { return groups[i].from < groups[j].from })

	for _, g := range groups {
		if g.from > safeHead {
			continue
		}
		to := g.from + in.cfg.BlocksPerBatch - 1
		if to > safeHead {
			to = safeHead
		}
		if err := in.ingestBatch(ctx, g.addrs, g.from, to); err != nil {
			return err
		}
	}
	return nil
}

type addressGroup struct {
	from  uint64
	addrs []models.ContractAddress
}

func groupByCursor(page []models.ContractAddress) []addressGroup {
	byCursor := make(map[uint64][]models.ContractAddress)
	for _, a := range page {
		byCursor[a.NextBlockNumberToIngestFrom] = append(byCursor[a.NextBlockNumberToIngestFrom], a)
	}
	groups := make([]addressGroup, 0, len(byCursor))
	for from, addrs := range byCursor {
		groups = append(groups, addressGroup{from: from, addrs: addrs})
	}
	return groups
}

// ingestBatch fetches logs for [from, to], detects reorgs, and commits
// decoded events plus the advanced cursor in one transaction.
func (in *Ingester) ingestBatch(ctx context.Context, addrs []models.ContractAddress, from, to uint64) error {
	addresses := make([]string, len(addrs))
	for i, a := range addrs {
		addresses[i] = a.Address
	}

	rpcCtx, cancel := context.WithTimeout(ctx, in.cfg.IngestionRate/2)
	logs, err := in.cfg.Provider.GetLogs(rpcCtx, from, to, addresses)
	cancel()
	if err != nil {
		return err // transient/fatal: cursor not advanced, retried next tick
	}

	byAddress := make(map[string]models.ContractAddress, len(addrs))
	for _, a := range addrs {
		byAddress[a.Address] = a
	}

	reorgBlock, hasReorg := in.detectReorg(logs)

	return in.cfg.Repo.WithTx(ctx, func(tx repo.Tx) error {
		if hasReorg {
			if err := tx.DeleteEventsFromBlock(ctx, in.cfg.ChainID, reorgBlock); err != nil {
				return err
			}
			if err := tx.InsertReorgedBlock(ctx, models.ReorgedBlock{BlockNumber: reorgBlock, ChainID: in.cfg.ChainID}); err != nil {
				return err
			}
			metrics.ReorgsDetected.WithLabelValues(chainLabel(in.cfg.ChainID)).Inc()
			in.log.WithField("block_number", reorgBlock).Warn("reorg detected")
		}

		events := make([]models.Event, 0, len(logs))
		for _, l := range logs {
			addr := models.NormalizeAddress(l.Address.Hex())
			contract, ok := byAddress[addr]
			if !ok {
				continue // log for an address outside this page's set; ignore
			}
			decoded, err := in.cfg.Decoder.Decode(contract.ContractName, l)
			if err != nil {
				in.log.WithError(err).WithFields(logrus.Fields{
					"tx_hash": l.TxHash.Hex(), "log_index": l.Index,
				}).Warn("decode failed, skipping log")
				continue // DecodeFailed is per-log, not fatal to the batch
			}
			events = append(events, models.Event{
				ID:               uuid.NewString(),
				ChainID:          in.cfg.ChainID,
				ContractAddress:  addr,
				ContractName:     contract.ContractName,
				ABISignature:     decoded.ABISignature,
				LogParams:        decoded.Params,
				Topics:           decoded.Topics,
				BlockHash:        l.BlockHash.Hex(),
				BlockNumber:      l.BlockNumber,
				TransactionHash:  l.TxHash.Hex(),
				TransactionIndex: uint64(l.TxIndex),
				LogIndex:         uint64(l.Index),
				Removed:          l.Removed,
			})
		}
		if err := tx.InsertEvents(ctx, events); err != nil {
			return err
		}

		ids := make([]int64, len(addrs))
		for i, a := range addrs {
			ids[i] = a.ID
		}
		if err := tx.AdvanceIngestCursor(ctx, ids, to+1); err != nil {
			return err
		}
		metrics.BlocksIngested.WithLabelValues(chainLabel(in.cfg.ChainID)).Add(float64(to - from + 1))
		return nil
	})
}

// detectReorg implements both heuristics spec.md §9 calls for: a
// provider-declared Removed flag, or a stored block hash disagreeing with
// a newly observed one for the same block number.
func (in *Ingester) detectReorg(logs []types.Log) (block uint64, detected bool) {
	earliest := uint64(0)
	found := false
	for _, l := range logs {
		if l.Removed {
			if !found || l.BlockNumber < earliest {
				earliest, found = l.BlockNumber, true
			}
			continue
		}
		if prevHash, ok := in.lastBlockHash[l.BlockNumber]; ok && prevHash != l.BlockHash.Hex() {
			if !found || l.BlockNumber < earliest {
				earliest, found = l.BlockNumber, true
			}
		}
		in.lastBlockHash[l.BlockNumber] = l.BlockHash.Hex()
	}
	return earliest, found
}

func chainLabel(c models.ChainID) string {
	return c.String()
}
