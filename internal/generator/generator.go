// Package generator invokes the external program that turns a chunk id
// into a set of artifact files on disk, matching the generator
// subprocess contract named in spec.md §6.
package generator

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
)

// ArtifactFile is one file a Generate call produced, ready for upload.
type ArtifactFile struct {
	Table string
	Path  string
}

// Spec parameterizes one Generate call: the config file path plus the
// fake-data knobs a worker received at startup.
type Spec struct {
	CfgFileName string
	Objects     int
	Visits      int
	Seed        int64
	OutDir      string
}

// Generator produces the artifact files for a single chunk. Tests
// substitute a fake implementation; workers use SubprocessGenerator.
type Generator interface {
	Generate(ctx context.Context, chunkID int, spec Spec) ([]ArtifactFile, error)
}

// GenerateError wraps a non-zero subprocess exit with its captured
// output, so callers can log a precise diagnostic instead of a bare
// exit-status error.
type GenerateError struct {
	ChunkID int
	Err     error
	Output  string
}

func (e *GenerateError) Error() string {
	return fmt.Sprintf("generator: chunk %d: %v: %s", e.ChunkID, e.Err, e.Output)
}

func (e *GenerateError) Unwrap() error { return e.Err }

// SubprocessGenerator shells out to an external binary with the chunk id
// and generator config path as arguments. No shell is involved: argv is
// passed directly to exec.CommandContext, matching the same
// no-shell-injection idiom used by ingestclient.SubprocessUploader.
type SubprocessGenerator struct {
	// Command is the generator binary name or path.
	Command string
}

func (g *SubprocessGenerator) command() string {
	if g.Command != "" {
		return g.Command
	}
	return "chunkforge-generate"
}

// Generate runs:
//
//	<command> --chunk <chunkID> --config <cfgFileName> --objects <n> \
//	    --visits <n> --seed <n> --outdir <dir>
//
// and parses the artifact file list from the subprocess's stdout, one
// "table:path" pair per line.
func (g *SubprocessGenerator) Generate(ctx context.Context, chunkID int, spec Spec) ([]ArtifactFile, error) {
	args := []string{
		"--chunk", strconv.Itoa(chunkID),
		"--config", spec.CfgFileName,
		"--objects", strconv.Itoa(spec.Objects),
		"--visits", strconv.Itoa(spec.Visits),
		"--seed", strconv.FormatInt(spec.Seed, 10),
		"--outdir", spec.OutDir,
	}
	cmd := exec.CommandContext(ctx, g.command(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &GenerateError{ChunkID: chunkID, Err: err, Output: stderr.String()}
	}
	return parseArtifactList(stdout.String())
}
