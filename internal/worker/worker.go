// Package worker implements the client-side state machine of spec.md
// §4.G: connect to a coordinator, collect its generator configuration,
// then repeatedly request and generate chunks until the coordinator
// signals end-of-work.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"chunkforge/internal/generator"
	"chunkforge/internal/logging"
	"chunkforge/internal/wire"
)

// Config bundles a Worker's connection and generation parameters.
type Config struct {
	CoordinatorAddr string
	WorkDir         string
	Generator       generator.Generator
	MaxChunksPerReq int
	Logger          *slog.Logger
}

// Result summarizes one run: every chunk id the coordinator offered and
// every chunk id that was successfully generated.
type Result struct {
	Offered   []int
	Succeeded []int
}

// ErrNoChunksSucceeded reports that a non-empty assignment produced zero
// successful completions, the worker-side fatal condition of spec.md
// §4.G.
type ErrNoChunksSucceeded struct {
	Offered int
}

func (e *ErrNoChunksSucceeded) Error() string {
	return fmt.Sprintf("worker: zero of %d offered chunks succeeded", e.Offered)
}

// Worker drives one coordinator session end to end.
type Worker struct {
	cfg    Config
	logger *slog.Logger
}

// New builds a Worker.
func New(cfg Config) *Worker {
	if cfg.MaxChunksPerReq <= 0 {
		cfg.MaxChunksPerReq = 10
	}
	return &Worker{
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "worker"),
	}
}

// Run connects to the coordinator and processes chunks until end-of-work
// or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) (Result, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", w.cfg.CoordinatorAddr)
	if err != nil {
		return Result{}, fmt.Errorf("worker: dial %s: %w", w.cfg.CoordinatorAddr, err)
	}
	defer conn.Close()
	return w.runOverConn(ctx, conn)
}

// runOverConn drives the session protocol over an already-connected
// conn, split out from Run so tests can supply an in-process net.Pipe
// instead of a real TCP dial.
func (w *Worker) runOverConn(ctx context.Context, conn net.Conn) (Result, error) {
	var result Result

	init, err := w.exchangeInit(conn)
	if err != nil {
		return result, err
	}
	w.logger.Info("session initialized", "name", init.Name, "objects", init.Objects, "visits", init.Visits)

	if err := w.collectBundle(conn, "partitioner"); err != nil {
		return result, err
	}
	if err := w.collectBundle(conn, "pregenerated"); err != nil {
		return result, err
	}

	spec := generator.Spec{
		CfgFileName: init.CfgBlob,
		Objects:     init.Objects,
		Visits:      init.Visits,
		Seed:        init.Seed,
		OutDir:      w.cfg.WorkDir,
	}

	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if err := wire.WriteFrame(conn, wire.CChunkR, strconv.Itoa(w.cfg.MaxChunksPerReq)); err != nil {
			return result, fmt.Errorf("worker: write C_CHUNKR: %w", err)
		}
		tag, payload, err := wire.ReadFrame(conn)
		if err != nil {
			return result, fmt.Errorf("worker: read S_CNKLST: %w", err)
		}
		if tag != wire.SCnkLst {
			return result, &wire.ProtocolError{Reason: fmt.Sprintf("expected S_CNKLST, got %s", tag)}
		}
		list, err := wire.DecodeChunkList(payload)
		if err != nil {
			return result, err
		}
		if len(list.ChunkIDs) == 0 {
			w.logger.Info("coordinator signaled end of work")
			return result, nil
		}

		result.Offered = append(result.Offered, list.ChunkIDs...)
		succeeded, durations := w.processChunks(ctx, list.ChunkIDs, spec)
		result.Succeeded = append(result.Succeeded, succeeded...)

		if len(succeeded) == 0 {
			w.reportTiming(conn, durations)
			w.reportCompleted(conn, nil)
			return result, &ErrNoChunksSucceeded{Offered: len(list.ChunkIDs)}
		}

		if err := w.reportTiming(conn, durations); err != nil {
			return result, err
		}
		if err := w.reportCompleted(conn, succeeded); err != nil {
			return result, err
		}
	}
}

func (w *Worker) processChunks(ctx context.Context, chunkIDs []int, spec generator.Spec) ([]int, map[string]time.Duration) {
	durations := map[string]time.Duration{}
	var succeeded []int
	for _, id := range chunkIDs {
		start := time.Now()
		_, err := w.cfg.Generator.Generate(ctx, id, spec)
		durations["generate"] += time.Since(start)
		if err != nil {
			w.logger.Warn("chunk generation failed", "chunk", id, "error", err)
			continue
		}
		succeeded = append(succeeded, id)
	}
	return succeeded, durations
}

func (w *Worker) reportTiming(conn net.Conn, durations map[string]time.Duration) error {
	report := wire.TimingReport{Durations: durations}
	enc, err := report.Encode()
	if err != nil {
		return fmt.Errorf("worker: encode timing: %w", err)
	}
	if err := wire.WriteFrame(conn, wire.CTiming, enc); err != nil {
		return fmt.Errorf("worker: write C_TIMING: %w", err)
	}
	return nil
}

// reportCompleted ships completed as zero or more C_CKCOMP frames, then
// always terminates the burst with a single empty C_CKCFIN frame.
func (w *Worker) reportCompleted(conn net.Conn, completed []int) error {
	if len(completed) > 0 {
		for _, batch := range wire.FragmentChunkIDs(completed) {
			if err := wire.WriteFrame(conn, wire.CCkComp, wire.EncodeCompletedIDs(batch)); err != nil {
				return fmt.Errorf("worker: write %s: %w", wire.CCkComp, err)
			}
		}
	}
	if err := wire.WriteFrame(conn, wire.CCkCfin, wire.EncodeCompletedIDs(nil)); err != nil {
		return fmt.Errorf("worker: write %s: %w", wire.CCkCfin, err)
	}
	return nil
}
