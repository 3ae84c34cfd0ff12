// Package chunklog implements the durable, append-only chunk-id logs that
// track which spatial chunks a run targets, has assigned, has completed,
// and has dropped into limbo.
//
// A ChunkListFile owns one such set backed by one file on disk. ChunkLogs
// composes four of them (target, completed, assigned, limbo) into the
// effective work set for a run.
package chunklog

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ParseError reports a malformed token in a chunk-id list.
type ParseError struct {
	Token string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("chunklog: invalid chunk token %q: %v", e.Token, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FileNotFoundError reports a required log file missing from disk.
type FileNotFoundError struct {
	Path string
	Err  error
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("chunklog: file not found %q: %v", e.Path, e.Err)
}

func (e *FileNotFoundError) Unwrap() error { return e.Err }

// ChunkListFile reads, parses, and appends a set of integer chunk IDs
// stored on disk as a separator-joined list of decimals and inclusive
// ranges ("a:b").
//
// The on-disk representation is a superset-tolerant, multi-valued log:
// duplicate entries across reads and appends are not an error. Once Write
// has been called the file is considered "open for append" and subsequent
// Add calls append just the novel IDs rather than rewriting the file.
type ChunkListFile struct {
	path      string
	fileWOpen bool
	chunkSet  map[int]struct{}
}

// NewChunkListFile creates an empty ChunkListFile rooted at path. path may
// be empty, in which case Read/Write are no-ops and Add never appends.
func NewChunkListFile(path string) *ChunkListFile {
	return &ChunkListFile{path: path, chunkSet: make(map[int]struct{})}
}

// Path returns the backing file path.
func (c *ChunkListFile) Path() string { return c.path }

// FileWOpen reports whether Write has been called, enabling append-on-Add.
func (c *ChunkListFile) FileWOpen() bool { return c.fileWOpen }

// Set returns the current set of chunk IDs as a plain map. The caller must
// not mutate the returned map.
func (c *ChunkListFile) Set() map[int]struct{} { return c.chunkSet }

// Len returns the number of chunk ids currently held.
func (c *ChunkListFile) Len() int { return len(c.chunkSet) }

// Contains reports whether id is present in the set.
func (c *ChunkListFile) Contains(id int) bool {
	_, ok := c.chunkSet[id]
	return ok
}

// IDs returns the chunk ids in ascending order.
func (c *ChunkListFile) IDs() []int {
	out := make([]int, 0, len(c.chunkSet))
	for id := range c.chunkSet {
		out = append(out, id)
	}
	sortInts(out)
	return out
}

// Read loads the entire file and replaces the in-memory set via Parse.
// Returns a *FileNotFoundError if the file does not exist.
func (c *ChunkListFile) Read() error {
	if c.path == "" {
		return nil
	}
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &FileNotFoundError{Path: c.path, Err: err}
		}
		return fmt.Errorf("chunklog: read %q: %w", c.path, err)
	}
	return c.Parse(string(raw), '\n')
}

// Parse splits raw on sep and merges every token into the set. Each token
// is either a decimal integer or an inclusive range "a:b" (order-insensitive).
// Empty or whitespace-only tokens are ignored; anything else is a
// *ParseError. Parse is additive: existing entries are preserved.
func (c *ChunkListFile) Parse(raw string, sep rune) error {
	if c.chunkSet == nil {
		c.chunkSet = make(map[int]struct{})
	}
	for _, tok := range strings.FieldsFunc(raw, func(r rune) bool { return r == sep }) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if strings.Contains(tok, ":") {
			parts := strings.Split(tok, ":")
			if len(parts) != 2 {
				return &ParseError{Token: tok, Err: fmt.Errorf("range must have exactly one ':'")}
			}
			a, err := strconv.Atoi(strings.TrimSpace(parts[0]))
			if err != nil {
				return &ParseError{Token: tok, Err: err}
			}
			b, err := strconv.Atoi(strings.TrimSpace(parts[1]))
			if err != nil {
				return &ParseError{Token: tok, Err: err}
			}
			if a > b {
				a, b = b, a
			}
			for v := a; v <= b; v++ {
				c.chunkSet[v] = struct{}{}
			}
			continue
		}
		v, err := strconv.Atoi(tok)
		if err != nil {
			return &ParseError{Token: tok, Err: err}
		}
		c.chunkSet[v] = struct{}{}
	}
	return nil
}

// IntersectWithValid removes every id from the set that is not present in
// validIDs. Used to discard partitioner-invalid chunk ids from user input.
func (c *ChunkListFile) IntersectWithValid(validIDs []int) {
	valid := make(map[int]struct{}, len(validIDs))
	for _, id := range validIDs {
		valid[id] = struct{}{}
	}
	for id := range c.chunkSet {
		if _, ok := valid[id]; !ok {
			delete(c.chunkSet, id)
		}
	}
}

// serialize renders ids as a newline-separated list of decimals.
func serialize(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, "\n")
}

// Write overwrites the backing file with the current set, one decimal per
// line, and marks the file open for append. A no-op if path is empty.
func (c *ChunkListFile) Write() error {
	if c.path == "" {
		return nil
	}
	if err := os.WriteFile(c.path, []byte(serialize(c.IDs())), 0o644); err != nil {
		return fmt.Errorf("chunklog: write %q: %w", c.path, err)
	}
	c.fileWOpen = true
	return nil
}

// Add unions ids into the set. If the file has already been opened for
// writing (Write was called), only the genuinely novel ids are appended
// to the file, preceded by a newline, so a subsequent Read sees them.
func (c *ChunkListFile) Add(ids []int) error {
	if c.chunkSet == nil {
		c.chunkSet = make(map[int]struct{})
	}
	novel := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := c.chunkSet[id]; !ok {
			novel = append(novel, id)
		}
	}
	for _, id := range novel {
		c.chunkSet[id] = struct{}{}
	}
	if !c.fileWOpen || c.path == "" || len(novel) == 0 {
		return nil
	}
	sortInts(novel)
	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("chunklog: append %q: %w", c.path, err)
	}
	defer f.Close()
	if _, err := f.WriteString("\n" + serialize(novel)); err != nil {
		return fmt.Errorf("chunklog: append %q: %w", c.path, err)
	}
	return nil
}

// Clone returns a deep copy of c rooted at a new path.
func (c *ChunkListFile) Clone(newPath string) *ChunkListFile {
	clone := NewChunkListFile(newPath)
	for id := range c.chunkSet {
		clone.chunkSet[id] = struct{}{}
	}
	return clone
}

func sortInts(ids []int) {
	sort.Ints(ids)
}
