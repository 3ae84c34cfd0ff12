// Package report renders a finished run's chunk-log summary and timing
// breakdown for the coordinator's shutdown output.
package report

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"chunkforge/internal/chunklog"
	"chunkforge/internal/timing"
)

// Print writes logs's problem/not-started/count summary followed by
// timing's aggregated duration report to w. Problem chunks (assigned but
// not completed, or in LIMBO) are highlighted in color; escape sequences
// are written to w unless color.NoColor is set, which fatih/color does by
// default when stdout is not a terminal.
func Print(w io.Writer, logs *chunklog.ChunkLogs, t *timing.Dict) {
	counts := logs.Counts()
	fmt.Fprintln(w, "=== chunk generation summary ===")
	fmt.Fprintf(w, "target=%d assigned=%d completed=%d limbo=%d\n",
		counts.Target, counts.Assigned, counts.Completed, counts.Limbo)

	if problem := logs.ProblemSet(); len(problem) > 0 {
		warn := color.New(color.FgYellow, color.Bold)
		warn.Fprintf(w, "problem chunks (assigned but not completed, or in LIMBO; need re-triage): %d\n", len(problem))
		fmt.Fprintln(w, problem)
	}
	if notStarted := logs.NotStartedSet(); len(notStarted) > 0 {
		fmt.Fprintf(w, "not started: %d\n", len(notStarted))
		fmt.Fprintln(w, notStarted)
	}
	if counts.Problem == 0 && len(logs.NotStartedSet()) == 0 {
		ok := color.New(color.FgGreen, color.Bold)
		ok.Fprintln(w, "all chunks finished cleanly")
	}

	fmt.Fprintln(w)
	fmt.Fprint(w, t.Report())
}
