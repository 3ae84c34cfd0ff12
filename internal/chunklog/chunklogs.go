package chunklog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Paths names the four on-disk logs that make up a ChunkLogs directory.
type Paths struct {
	Target    string
	Completed string
	Assigned  string
	Limbo     string
}

// fileNames returns the conventional {target,completed,assigned,limbo}.clg
// names rooted at dir.
func fileNames(dir string) Paths {
	return Paths{
		Target:    filepath.Join(dir, "target.clg"),
		Completed: filepath.Join(dir, "completed.clg"),
		Assigned:  filepath.Join(dir, "assigned.clg"),
		Limbo:     filepath.Join(dir, "limbo.clg"),
	}
}

// ChunkLogs composes the four chunk-sets (target, completed, assigned,
// limbo) into the effective work set for a run and persists transitions
// as they happen.
type ChunkLogs struct {
	target    *ChunkListFile
	completed *ChunkListFile
	assigned  *ChunkListFile
	limbo     *ChunkListFile

	// ResultSet is target minus completed, assigned, and limbo, computed
	// by Build. It is the effective work for the current run.
	ResultSet map[int]struct{}
}

// New creates a ChunkLogs rooted at the given paths. Any path may be empty
// to mean "in-memory only, no backing file".
func New(p Paths) *ChunkLogs {
	return &ChunkLogs{
		target:    NewChunkListFile(p.Target),
		completed: NewChunkListFile(p.Completed),
		assigned:  NewChunkListFile(p.Assigned),
		limbo:     NewChunkListFile(p.Limbo),
		ResultSet: make(map[int]struct{}),
	}
}

// Build constructs the effective result set.
//
//  1. If raw is non-empty, it is parsed (comma-separated) into a raw set.
//  2. If the target file path is set, it is read; when raw is also present
//     the target is intersected with the raw set. Otherwise, with only a
//     raw set, target becomes the raw set; with neither, target becomes
//     every valid chunk.
//  3. Target is intersected with allValidChunks.
//  4. ResultSet = target \ completed \ assigned \ limbo, reading each of
//     those three files only if its path is set.
func (cl *ChunkLogs) Build(allValidChunks []int, raw string) error {
	var rawSet *ChunkListFile
	if strings.TrimSpace(raw) != "" {
		rawSet = NewChunkListFile("")
		if err := rawSet.Parse(raw, ','); err != nil {
			return err
		}
	}

	switch {
	case cl.target.Path() != "":
		if err := cl.target.Read(); err != nil {
			return err
		}
		if rawSet != nil {
			cl.target.IntersectWithValid(rawSet.IDs())
		}
	case rawSet != nil:
		cl.target = rawSet
	default:
		cl.target = NewChunkListFile(cl.target.Path())
		if err := cl.target.Add(allValidChunks); err != nil {
			return err
		}
	}
	cl.target.IntersectWithValid(allValidChunks)

	result := make(map[int]struct{}, cl.target.Len())
	for id := range cl.target.Set() {
		result[id] = struct{}{}
	}

	for _, item := range []*ChunkListFile{cl.completed, cl.assigned, cl.limbo} {
		if item.Path() == "" {
			continue
		}
		if err := item.Read(); err != nil {
			return err
		}
		for id := range item.Set() {
			delete(result, id)
		}
	}
	cl.ResultSet = result
	return nil
}

// CreateOutput produces a fresh ChunkLogs rooted at dir, copying the
// in-memory sets of cl. The caller must call Write on the result to
// materialize the baseline and open the files for append.
func (cl *ChunkLogs) CreateOutput(dir string) *ChunkLogs {
	p := fileNames(dir)
	out := New(p)
	out.target = cl.target.Clone(p.Target)
	out.completed = cl.completed.Clone(p.Completed)
	out.assigned = cl.assigned.Clone(p.Assigned)
	out.limbo = cl.limbo.Clone(p.Limbo)
	out.ResultSet = make(map[int]struct{}, len(cl.ResultSet))
	for id := range cl.ResultSet {
		out.ResultSet[id] = struct{}{}
	}
	return out
}

// Write materializes all four logs to disk, creating any missing parent
// directory, and opens them for append.
func (cl *ChunkLogs) Write() error {
	for _, item := range []*ChunkListFile{cl.target, cl.completed, cl.assigned, cl.limbo} {
		if item.Path() != "" {
			if err := os.MkdirAll(filepath.Dir(item.Path()), 0o755); err != nil {
				return fmt.Errorf("chunklog: create directory for %q: %w", item.Path(), err)
			}
		}
		if err := item.Write(); err != nil {
			return err
		}
	}
	return nil
}

// AddAssigned records ids as assigned to a worker.
func (cl *ChunkLogs) AddAssigned(ids []int) error { return cl.assigned.Add(ids) }

// AddCompleted records ids as completed. It deliberately does not also
// add to assigned: the server already added the chunk to assigned at
// handout time in ChunkTracking.GetChunksForClient.
func (cl *ChunkLogs) AddCompleted(ids []int) error { return cl.completed.Add(ids) }

// AddLimbo records ids as requiring human review before retry.
func (cl *ChunkLogs) AddLimbo(ids []int) error { return cl.limbo.Add(ids) }

// Counts summarizes the current state of all four logs.
type Counts struct {
	Target, Assigned, Completed, Limbo, Problem int
}

// ProblemSet returns assigned minus completed, union limbo: chunks that
// should be checked by hand before being generated again.
func (cl *ChunkLogs) ProblemSet() []int {
	problem := make(map[int]struct{})
	for id := range cl.assigned.Set() {
		if !cl.completed.Contains(id) {
			problem[id] = struct{}{}
		}
	}
	for id := range cl.limbo.Set() {
		problem[id] = struct{}{}
	}
	out := make([]int, 0, len(problem))
	for id := range problem {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// NotStartedSet returns target minus completed minus the problem set.
func (cl *ChunkLogs) NotStartedSet() []int {
	problem := make(map[int]struct{})
	for _, id := range cl.ProblemSet() {
		problem[id] = struct{}{}
	}
	out := make([]int, 0)
	for id := range cl.target.Set() {
		if cl.completed.Contains(id) {
			continue
		}
		if _, ok := problem[id]; ok {
			continue
		}
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// Report renders a human-readable summary of the four logs' current state.
func (cl *ChunkLogs) Report() string {
	problem := cl.ProblemSet()
	notStarted := cl.NotStartedSet()
	var b strings.Builder
	fmt.Fprintf(&b, "Problem chunk ids:\n%v\n\n", problem)
	fmt.Fprintf(&b, "Not-started chunk ids:\n%v\n\n", notStarted)
	fmt.Fprintf(&b, "Log counts:\n")
	fmt.Fprintf(&b, " Target:    %d\n", cl.target.Len())
	fmt.Fprintf(&b, " Assigned:  %d\n", cl.assigned.Len())
	fmt.Fprintf(&b, " Completed: %d\n", cl.completed.Len())
	fmt.Fprintf(&b, " Limbo:     %d\n", cl.limbo.Len())
	fmt.Fprintf(&b, " Problem:   %d\n", len(problem))
	return b.String()
}

// Counts returns the numeric summary used by Report.
func (cl *ChunkLogs) Counts() Counts {
	problem := cl.ProblemSet()
	return Counts{
		Target:    cl.target.Len(),
		Assigned:  cl.assigned.Len(),
		Completed: cl.completed.Len(),
		Limbo:     cl.limbo.Len(),
		Problem:   len(problem),
	}
}
