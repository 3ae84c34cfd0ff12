package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"chunkforge/internal/tracking"
	"chunkforge/internal/wire"
)

// handleSession drives one connection through the full protocol sequence
// of spec.md §4.F: init exchange, the partitioner and pregenerated file
// bundles, then a request/response loop over chunk batches until the
// tracking pool is exhausted. It returns true if the session ended
// because it observed end-of-work (an empty S_CNKLST), as opposed to a
// transport or protocol error.
func (c *Coordinator) handleSession(ctx context.Context, conn net.Conn, name string) bool {
	defer conn.Close()

	logger := c.logger.With(
		"client", name,
		"alias", newSessionAlias(),
		"session_id", newSessionID(),
		"remote", conn.RemoteAddr().String(),
	)
	logger.Info("session started")

	currentTxn := tracking.InvalidTransactionID
	abort := func() {
		if currentTxn == tracking.InvalidTransactionID {
			return
		}
		if err := c.cfg.Tracking.AbortAndClose(ctx, currentTxn); err != nil {
			logger.Error("abort and close failed", "transaction_id", currentTxn, "error", err)
		}
	}

	if err := c.expectInit(conn); err != nil {
		logger.Warn("init handshake failed", "error", err)
		return false
	}
	if err := c.sendInitResponse(conn, name); err != nil {
		logger.Warn("write S_INIT_R failed", "error", err)
		return false
	}
	if err := c.serveFileBundle(conn, c.cfg.PartitionerFiles); err != nil {
		logger.Warn("serve partitioner bundle failed", "error", err)
		return false
	}
	if err := c.serveFileBundle(conn, c.cfg.PregeneratedFiles); err != nil {
		logger.Warn("serve pregenerated bundle failed", "error", err)
		return false
	}

	for {
		count, err := c.expectChunkRequest(conn)
		if err != nil {
			logger.Debug("session ended awaiting C_CHUNKR", "error", err)
			abort()
			return false
		}

		ids, txnID, err := c.cfg.Tracking.GetChunksForClient(ctx, name, conn.RemoteAddr().String(), count)
		if err != nil {
			logger.Error("get chunks for client failed", "error", err)
			return false
		}
		currentTxn = txnID

		list := wire.ChunkList{TransactionID: txnID, ChunkIDs: ids}
		if err := wire.WriteFrame(conn, wire.SCnkLst, list.Encode()); err != nil {
			logger.Warn("write S_CNKLST failed", "error", err)
			abort()
			return false
		}

		if len(ids) == 0 {
			logger.Info("end of work signaled")
			return true
		}

		durations, err := c.expectTiming(conn)
		if err != nil {
			logger.Warn("expected C_TIMING", "error", err)
			abort()
			return false
		}
		c.timing.Merge(durations, 1)

		completed, err := c.expectCompletedIDs(conn)
		if err != nil {
			logger.Warn("expected completed-ids stream", "error", err)
			abort()
			return false
		}

		if !c.cfg.SkipIngest && len(completed) > 0 {
			completed = c.uploadCompleted(ctx, txnID, completed, logger)
		}

		if err := c.cfg.Tracking.ClientResults(ctx, txnID, ids, completed); err != nil {
			logger.Error("client results failed", "error", err)
			return false
		}
		currentTxn = tracking.InvalidTransactionID
	}
}

func (c *Coordinator) expectInit(conn net.Conn) error {
	tag, _, err := wire.ReadFrame(conn)
	if err != nil {
		return err
	}
	if tag != wire.CInitR {
		return &wire.ProtocolError{Reason: fmt.Sprintf("expected C_INIT_R, got %s", tag)}
	}
	return nil
}

func (c *Coordinator) sendInitResponse(conn net.Conn, name string) error {
	resp := wire.InitResponse{
		Name:       name,
		Objects:    c.cfg.GeneratorSpec.Objects,
		Visits:     c.cfg.GeneratorSpec.Visits,
		Seed:       c.cfg.GeneratorSpec.Seed,
		CfgBlob:    c.cfg.GeneratorSpec.CfgBlob,
		IngestDict: c.cfg.IngestDictJSON,
	}
	enc, err := resp.Encode()
	if err != nil {
		return err
	}
	return wire.WriteFrame(conn, wire.SInitR, enc)
}

// serveFileBundle waits for a C_PCFG_R request, then streams files as
// S_PCFG_A frames terminated by an empty-filename frame.
func (c *Coordinator) serveFileBundle(conn net.Conn, files []FileEntry) error {
	tag, _, err := wire.ReadFrame(conn)
	if err != nil {
		return err
	}
	if tag != wire.CPcfgR {
		return &wire.ProtocolError{Reason: fmt.Sprintf("expected C_PCFG_R, got %s", tag)}
	}
	for i, f := range files {
		enc, err := wire.PcfgAck{Index: i, Filename: f.Filename, Contents: f.Contents}.Encode()
		if err != nil {
			return err
		}
		if err := wire.WriteFrame(conn, wire.SPcfgA, enc); err != nil {
			return err
		}
	}
	term, err := wire.PcfgAck{Index: len(files)}.Encode()
	if err != nil {
		return err
	}
	return wire.WriteFrame(conn, wire.SPcfgA, term)
}

func (c *Coordinator) expectChunkRequest(conn net.Conn) (int, error) {
	tag, payload, err := wire.ReadFrame(conn)
	if err != nil {
		return 0, err
	}
	if tag != wire.CChunkR {
		return 0, &wire.ProtocolError{Reason: fmt.Sprintf("expected C_CHUNKR, got %s", tag)}
	}
	count, err := strconv.Atoi(strings.TrimSpace(payload))
	if err != nil || count <= 0 {
		return 0, &wire.ProtocolError{Reason: fmt.Sprintf("bad C_CHUNKR count %q", payload)}
	}
	return count, nil
}

func (c *Coordinator) expectTiming(conn net.Conn) (map[string]time.Duration, error) {
	tag, payload, err := wire.ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	if tag != wire.CTiming {
		return nil, &wire.ProtocolError{Reason: fmt.Sprintf("expected C_TIMING, got %s", tag)}
	}
	report, err := wire.DecodeTimingReport(payload)
	if err != nil {
		return nil, err
	}
	return report.Durations, nil
}

func (c *Coordinator) expectCompletedIDs(conn net.Conn) ([]int, error) {
	var completed []int
	for {
		tag, payload, err := wire.ReadFrame(conn)
		if err != nil {
			return nil, err
		}
		if tag != wire.CCkComp && tag != wire.CCkCfin {
			return nil, &wire.ProtocolError{Reason: fmt.Sprintf("expected C_CKCOMP/C_CKCFIN, got %s", tag)}
		}
		batch, err := wire.DecodeCompletedIDs(payload)
		if err != nil {
			return nil, err
		}
		completed = append(completed, batch...)
		if tag == wire.CCkCfin {
			return completed, nil
		}
	}
}

// uploadCompleted uploads every table's artifact for each completed chunk
// and returns the ids whose lookups and uploads all succeeded. A failed
// chunk is left out, so ClientResults sees a mismatch and aborts the
// transaction.
func (c *Coordinator) uploadCompleted(ctx context.Context, txnID int, chunkIDs []int, logger *slog.Logger) []int {
	failed := make(map[int]bool)
	for _, table := range c.cfg.Tables {
		for _, chunkID := range chunkIDs {
			loc, err := c.cfg.Ingest.LocateChunk(ctx, txnID, chunkID)
			if err != nil {
				logger.Error("locate chunk failed", "chunk", chunkID, "table", table, "error", err)
				failed[chunkID] = true
				continue
			}
			path := artifactPath(c.cfg.ArtifactDir, chunkID, table)
			if err := c.cfg.Uploader.Upload(ctx, loc, txnID, table, path); err != nil {
				logger.Error("upload chunk failed", "chunk", chunkID, "table", table, "error", err)
				failed[chunkID] = true
			}
		}
	}
	uploaded := make([]int, 0, len(chunkIDs))
	for _, chunkID := range chunkIDs {
		if !failed[chunkID] {
			uploaded = append(uploaded, chunkID)
		}
	}
	return uploaded
}

func artifactPath(dir string, chunkID int, table string) string {
	return fmt.Sprintf("%s/chunk_%d_%s.txt", dir, chunkID, table)
}
