package chunklog

import (
	"errors"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
)

func validChunks(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestChunkListFileParseEmpty(t *testing.T) {
	c := NewChunkListFile("")
	if err := c.Parse("", '\n'); err != nil {
		t.Fatalf("Parse empty: %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty set, got %v", c.IDs())
	}
}

func TestChunkListFileParseRangeAndSingletons(t *testing.T) {
	c := NewChunkListFile("")
	if err := c.Parse("3:7,10,10,12", ','); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []int{3, 4, 5, 6, 7, 10, 12}
	got := c.IDs()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestChunkListFileParseReversedRange(t *testing.T) {
	a := NewChunkListFile("")
	if err := a.Parse("7:3", ','); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b := NewChunkListFile("")
	if err := b.Parse("3:7", ','); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !reflect.DeepEqual(a.IDs(), b.IDs()) {
		t.Fatalf("reversed range %v != forward range %v", a.IDs(), b.IDs())
	}
}

func TestChunkListFileParseError(t *testing.T) {
	c := NewChunkListFile("")
	err := c.Parse("3:15\n3w0\n77", '\n')
	if err == nil {
		t.Fatal("expected ParseError, got nil")
	}
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %T: %v", err, err)
	}
	if perr.Token != "3w0" {
		t.Fatalf("expected token 3w0, got %q", perr.Token)
	}
}

func TestChunkListFileParseBadRange(t *testing.T) {
	c := NewChunkListFile("")
	err := c.Parse("1:2:3", ',')
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %T: %v", err, err)
	}
}

func TestChunkListFileRoundTrip(t *testing.T) {
	ids := []int{9, 2, 5, 0, 3}
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)

	dir := t.TempDir()
	path := filepath.Join(dir, "chunks.clg")
	c := NewChunkListFile(path)
	if err := c.Add(ids); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	readBack := NewChunkListFile(path)
	if err := readBack.Read(); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !reflect.DeepEqual(readBack.IDs(), sorted) {
		t.Fatalf("round trip: got %v, want %v", readBack.IDs(), sorted)
	}

	again := NewChunkListFile("")
	if err := again.Parse(serialize(readBack.IDs()), '\n'); err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if !reflect.DeepEqual(again.IDs(), sorted) {
		t.Fatalf("parse idempotent: got %v, want %v", again.IDs(), sorted)
	}
}

func TestChunkListFileReadMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.clg")
	c := NewChunkListFile(path)
	err := c.Read()
	var nferr *FileNotFoundError
	if !errors.As(err, &nferr) {
		t.Fatalf("expected *FileNotFoundError, got %T: %v", err, err)
	}
}

func TestChunkListFileAddAppendsOnlyNovel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunks.clg")
	c := NewChunkListFile(path)
	if err := c.Add([]int{1, 2, 3}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.Add([]int{3, 4}); err != nil {
		t.Fatalf("Add (append): %v", err)
	}

	readBack := NewChunkListFile(path)
	if err := readBack.Read(); err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []int{1, 2, 3, 4}
	if !reflect.DeepEqual(readBack.IDs(), want) {
		t.Fatalf("got %v, want %v", readBack.IDs(), want)
	}
}

func TestChunkListFileIntersectWithValid(t *testing.T) {
	c := NewChunkListFile("")
	if err := c.Add([]int{1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	c.IntersectWithValid([]int{2, 4, 6})
	want := []int{2, 4}
	if !reflect.DeepEqual(c.IDs(), want) {
		t.Fatalf("got %v, want %v", c.IDs(), want)
	}
}

func TestChunkListFileClone(t *testing.T) {
	dir := t.TempDir()
	orig := NewChunkListFile(filepath.Join(dir, "orig.clg"))
	if err := orig.Add([]int{1, 2, 3}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	clonePath := filepath.Join(dir, "clone.clg")
	clone := orig.Clone(clonePath)
	if clone.Path() != clonePath {
		t.Fatalf("clone path = %q, want %q", clone.Path(), clonePath)
	}
	if !reflect.DeepEqual(clone.IDs(), orig.IDs()) {
		t.Fatalf("clone ids %v != orig ids %v", clone.IDs(), orig.IDs())
	}
	if err := clone.Add([]int{4}); err != nil {
		t.Fatalf("Add to clone: %v", err)
	}
	if orig.Contains(4) {
		t.Fatal("mutating clone mutated original")
	}
}
