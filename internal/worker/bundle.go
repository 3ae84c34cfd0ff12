package worker

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"chunkforge/internal/wire"
)

// exchangeInit sends C_INIT_R and decodes the coordinator's S_INIT_R.
func (w *Worker) exchangeInit(conn net.Conn) (wire.InitResponse, error) {
	if err := wire.WriteFrame(conn, wire.CInitR, ""); err != nil {
		return wire.InitResponse{}, fmt.Errorf("worker: write C_INIT_R: %w", err)
	}
	tag, payload, err := wire.ReadFrame(conn)
	if err != nil {
		return wire.InitResponse{}, fmt.Errorf("worker: read S_INIT_R: %w", err)
	}
	if tag != wire.SInitR {
		return wire.InitResponse{}, &wire.ProtocolError{Reason: fmt.Sprintf("expected S_INIT_R, got %s", tag)}
	}
	return wire.DecodeInitResponse(payload)
}

// collectBundle requests one file bundle (partitioner or pregenerated)
// via C_PCFG_R and writes each served file into the worker's working
// directory under the given subdirectory name.
func (w *Worker) collectBundle(conn net.Conn, subdir string) error {
	if err := wire.WriteFrame(conn, wire.CPcfgR, ""); err != nil {
		return fmt.Errorf("worker: write C_PCFG_R (%s): %w", subdir, err)
	}
	dir := filepath.Join(w.cfg.WorkDir, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("worker: create %s dir: %w", subdir, err)
	}
	for {
		tag, payload, err := wire.ReadFrame(conn)
		if err != nil {
			return fmt.Errorf("worker: read S_PCFG_A (%s): %w", subdir, err)
		}
		if tag != wire.SPcfgA {
			return &wire.ProtocolError{Reason: fmt.Sprintf("expected S_PCFG_A, got %s", tag)}
		}
		ack, err := wire.DecodePcfgAck(payload)
		if err != nil {
			return err
		}
		if ack.Filename == "" {
			return nil
		}
		path := filepath.Join(dir, ack.Filename)
		if err := os.WriteFile(path, []byte(ack.Contents), 0o644); err != nil {
			return fmt.Errorf("worker: write %s: %w", path, err)
		}
	}
}
