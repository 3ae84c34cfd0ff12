package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"chunkforge/internal/chunklog"
	"chunkforge/internal/logging"
)

// ChunkTracking holds the authoritative state of every chunk in a run: the
// immutable entire set, the mutable pool still waiting to be sent, the
// per-chunk info records, every transaction ever opened, and the one
// currently open transaction, all behind a single mutex.
type ChunkTracking struct {
	mu sync.Mutex

	entireSet map[int]struct{}
	toSend    map[int]struct{}
	chunks    map[int]*ChunkInfo

	transactions map[int]*Transaction
	current      *Transaction

	logs   *chunklog.ChunkLogs
	ingest IngestTransactor

	db              string
	transactionSize int
	skipIngest      bool
	nextFakeID      int
	logger          *slog.Logger
}

// Config bundles ChunkTracking's constructor parameters.
type Config struct {
	ResultSet       []int
	Logs            *chunklog.ChunkLogs
	Ingest          IngestTransactor
	Database        string
	TransactionSize int
	SkipIngest      bool
	Logger          *slog.Logger
}

// New builds a ChunkTracking over the given result set. Every chunk starts
// UNASSIGNED and in the to-send pool.
func New(cfg Config) *ChunkTracking {
	entire := toSet(cfg.ResultSet)
	toSend := make(map[int]struct{}, len(entire))
	chunks := make(map[int]*ChunkInfo, len(entire))
	for id := range entire {
		toSend[id] = struct{}{}
		chunks[id] = &ChunkInfo{ChunkID: id, Stage: Unassigned}
	}
	size := cfg.TransactionSize
	if size <= 0 {
		size = 1
	}
	return &ChunkTracking{
		entireSet:       entire,
		toSend:          toSend,
		chunks:          chunks,
		transactions:    make(map[int]*Transaction),
		logs:            cfg.Logs,
		ingest:          cfg.Ingest,
		db:              cfg.Database,
		transactionSize: size,
		skipIngest:      cfg.SkipIngest,
		nextFakeID:      -1,
		logger:          logging.Default(cfg.Logger).With("component", "tracking"),
	}
}

func sortedKeys(s map[int]struct{}) []int {
	out := make([]int, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// GetChunksForClient allocates up to maxCount chunks to a worker, opening a
// fresh transaction first if none is open, aborted, or exhausted. An empty
// returned set paired with InvalidTransactionID signals end-of-work.
func (t *ChunkTracking) GetChunksForClient(ctx context.Context, clientID, clientAddr string, maxCount int) ([]int, int, error) {
	t.mu.Lock()

	if t.current == nil || t.current.Aborted || len(t.current.ChunksRemaining) == 0 {
		if err := t.buildAndStartTransactionLocked(ctx); err != nil {
			t.mu.Unlock()
			return nil, 0, err
		}
	}

	cur := t.current
	ids := sortedKeys(cur.ChunksRemaining)
	if len(ids) > maxCount {
		ids = ids[:maxCount]
	}
	for _, id := range ids {
		delete(cur.ChunksRemaining, id)
		info := t.chunks[id]
		info.Stage = Assigned
		info.ClientID = clientID
		info.ClientAddr = clientAddr
	}

	if err := t.logs.AddAssigned(ids); err != nil {
		t.mu.Unlock()
		return nil, 0, fmt.Errorf("tracking: persist assigned: %w", err)
	}

	txnID := cur.ID
	t.mu.Unlock()
	return ids, txnID, nil
}

// buildAndStartTransactionLocked must be called with t.mu held. It moves up
// to transactionSize chunks out of the to-send pool into a fresh
// transaction and opens it with the ingest service (or a fake id).
func (t *ChunkTracking) buildAndStartTransactionLocked(ctx context.Context) error {
	ids := sortedKeys(t.toSend)
	if len(ids) > t.transactionSize {
		ids = ids[:t.transactionSize]
	}
	total := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		delete(t.toSend, id)
		total[id] = struct{}{}
		t.chunks[id].Stage = InTransaction
	}
	remaining := make(map[int]struct{}, len(total))
	for id := range total {
		remaining[id] = struct{}{}
	}
	txn := &Transaction{
		TotalChunks:     total,
		ChunksRemaining: remaining,
		CompletedChunks: make(map[int]struct{}),
	}

	if len(total) == 0 {
		txn.ID = InvalidTransactionID
		t.current = txn
		// A transaction with no chunks is trivially finished; close it
		// immediately so end-of-work bookkeeping is consistent.
		return t.closeTransactionLocked(ctx, txn, false)
	}

	if t.skipIngest {
		txn.ID = t.nextFakeID
		t.nextFakeID--
		t.transactions[txn.ID] = txn
		t.current = txn
		return nil
	}

	id, err := t.ingest.BeginTransaction(ctx, t.db)
	if err != nil {
		return fmt.Errorf("tracking: begin transaction: %w", err)
	}
	txn.ID = id
	t.transactions[id] = txn
	t.current = txn
	return nil
}

// closeTransactionLocked closes txn, idempotently. It is called with t.mu
// held and returns with t.mu held; across the ingest RPC itself the lock is
// released, per the redesign flagged for _close_transaction: txn is marked
// closing under the mutex, the mutex is dropped for the blocking HTTP call
// and reacquired to flip Closed, with a recheck in case a concurrent caller
// closed it in the meantime.
func (t *ChunkTracking) closeTransactionLocked(ctx context.Context, txn *Transaction, aborted bool) error {
	if txn.Closed || txn.closing {
		return nil
	}
	if aborted {
		txn.Aborted = true
	}
	txn.closing = true

	skipRPC := txn.ID == InvalidTransactionID || t.skipIngest
	id, db, txnAborted := txn.ID, t.db, txn.Aborted

	t.mu.Unlock()
	var rpcErr error
	if !skipRPC {
		rpcErr = t.ingest.EndTransaction(ctx, db, id, txnAborted)
	}
	t.mu.Lock()

	if txn.Closed {
		return rpcErr
	}
	txn.Closed = true
	if rpcErr != nil {
		return fmt.Errorf("tracking: end transaction %d: %w", id, rpcErr)
	}
	return nil
}

// finalizeAbortLocked transitions every chunk in txn that was never handed
// out back to UNASSIGNED (returned to the to-send pool) and every chunk
// that was handed out (whether reported complete or not) to LIMBO, then
// persists the limbo set. Must be called with t.mu held.
//
// Sending already-completed chunks to LIMBO alongside the outstanding ones
// is a deliberate choice: a chunk "completed" inside a transaction that
// ends up aborted has no committed ingest record, so marking it FINISHED
// would be a lie. A human re-triages it on the next run.
func (t *ChunkTracking) finalizeAbortLocked(txn *Transaction) error {
	limboIDs := make([]int, 0, len(txn.TotalChunks))
	for id := range txn.TotalChunks {
		if _, stillPending := txn.ChunksRemaining[id]; stillPending {
			delete(txn.ChunksRemaining, id)
			t.chunks[id].Stage = Unassigned
			t.toSend[id] = struct{}{}
			continue
		}
		t.chunks[id].Stage = Limbo
		limboIDs = append(limboIDs, id)
	}
	if len(limboIDs) == 0 {
		return nil
	}
	sort.Ints(limboIDs)
	if err := t.logs.AddLimbo(limboIDs); err != nil {
		return fmt.Errorf("tracking: persist limbo: %w", err)
	}
	return nil
}

// ClientResults records a worker's report for transactionID: the chunk ids
// it was expected to complete and the ones it actually completed. A
// mismatch aborts the transaction and moves every handed-out chunk to
// LIMBO; a clean match records the completed chunks against the
// transaction, and once every chunk in the transaction has completed they
// are marked FINISHED, written to the completed log, and the transaction is
// closed.
func (t *ChunkTracking) ClientResults(ctx context.Context, transactionID int, expected, completed []int) error {
	t.mu.Lock()

	if transactionID == InvalidTransactionID {
		t.mu.Unlock()
		if len(expected) > 0 || len(completed) > 0 {
			t.logger.Warn("non-empty results reported against invalid transaction",
				"expected", len(expected), "completed", len(completed))
		}
		return nil
	}

	txn, ok := t.transactions[transactionID]
	if !ok {
		t.mu.Unlock()
		t.logger.Warn("results reported against unknown transaction", "transaction_id", transactionID)
		return nil
	}

	if txn.Closed {
		t.mu.Unlock()
		t.logger.Warn("results reported against already-closed transaction", "transaction_id", transactionID)
		return nil
	}

	diff := symmetricDifference(toSet(expected), toSet(completed))
	if len(diff) > 0 {
		if err := t.finalizeAbortLocked(txn); err != nil {
			t.mu.Unlock()
			return err
		}
		err := t.closeTransactionLocked(ctx, txn, true)
		t.mu.Unlock()
		return err
	}

	// Record the report against the transaction but leave chunk stages and
	// the completed log untouched until the transaction actually commits:
	// a transaction can be shared across clients (§5), so a clean partial
	// report here does not by itself mean these chunks are done for good.
	// Committing (or aborting) them is what closeTransactionLocked below,
	// or finalizeAbortLocked on a later client's failure, decides.
	for _, id := range completed {
		if _, ok := t.chunks[id]; !ok {
			continue
		}
		txn.CompletedChunks[id] = struct{}{}
	}

	if txn.isFinished() {
		finishedIDs := make([]int, 0, len(txn.CompletedChunks))
		for id := range txn.CompletedChunks {
			t.chunks[id].Stage = Finished
			finishedIDs = append(finishedIDs, id)
		}
		sort.Ints(finishedIDs)
		if err := t.logs.AddCompleted(finishedIDs); err != nil {
			t.mu.Unlock()
			return fmt.Errorf("tracking: persist completed: %w", err)
		}
		err := t.closeTransactionLocked(ctx, txn, false)
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()
	return nil
}

// AbortAndClose marks transactionID aborted and closes it, moving every
// chunk it holds to LIMBO (or back to UNASSIGNED if never handed out). Used
// by the session handler on any socket, protocol, or ingest fault.
func (t *ChunkTracking) AbortAndClose(ctx context.Context, transactionID int) error {
	t.mu.Lock()
	if transactionID == InvalidTransactionID {
		t.mu.Unlock()
		return nil
	}
	txn, ok := t.transactions[transactionID]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	if err := t.finalizeAbortLocked(txn); err != nil {
		t.mu.Unlock()
		return err
	}
	err := t.closeTransactionLocked(ctx, txn, true)
	t.mu.Unlock()
	return err
}

// RemainingChunkCount returns the number of chunks not yet handed to a
// worker: the to-send pool plus whatever remains in the currently open
// transaction.
func (t *ChunkTracking) RemainingChunkCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.toSend)
	if t.current != nil {
		n += len(t.current.ChunksRemaining)
	}
	return n
}

// StageOf reports a chunk's current generation stage. Used by tests.
func (t *ChunkTracking) StageOf(chunkID int) (GenerationStage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.chunks[chunkID]
	if !ok {
		return 0, false
	}
	return info.Stage, true
}

// AllFinished reports whether every chunk in the entire set has reached a
// terminal stage (FINISHED), used to decide whether to publish the
// database at shutdown.
func (t *ChunkTracking) AllFinished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.entireSet {
		if t.chunks[id].Stage != Finished {
			return false
		}
	}
	return true
}
