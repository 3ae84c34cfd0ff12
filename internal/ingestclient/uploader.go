package ingestclient

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Uploader ships a generated artifact file to a located ingest target.
// Tests substitute a fake implementation; production uses SubprocessUploader.
type Uploader interface {
	Upload(ctx context.Context, loc ChunkLocation, transactionID int, table, path string) error
}

// SubprocessUploader invokes an external file-ingest tool, matching
// DataIngest.sendChunkToTarget's qserv-replica-file-ingest invocation.
// The command name is injectable so tests can substitute a fake binary.
type SubprocessUploader struct {
	// Command is the ingest-tool binary name or path. Defaults to
	// "qserv-replica-file-ingest" when empty.
	Command string
}

func (u *SubprocessUploader) command() string {
	if u.Command != "" {
		return u.Command
	}
	return "qserv-replica-file-ingest"
}

// Upload runs: <command> FILE <host> <port> <transactionID> <table> P <path> --verbose
// A non-zero exit is a fatal error for the owning transaction.
func (u *SubprocessUploader) Upload(ctx context.Context, loc ChunkLocation, transactionID int, table, path string) error {
	args := []string{
		"FILE",
		loc.Host,
		fmt.Sprintf("%d", loc.Port),
		fmt.Sprintf("%d", transactionID),
		table,
		"P",
		path,
		"--verbose",
	}
	cmd := exec.CommandContext(ctx, u.command(), args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ingestclient: upload %s: %w: %s", path, err, out.String())
	}
	return nil
}
