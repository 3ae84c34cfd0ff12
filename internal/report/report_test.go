package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"chunkforge/internal/chunklog"
	"chunkforge/internal/timing"
)

func init() {
	color.NoColor = true
}

func TestPrintCleanRun(t *testing.T) {
	logs := chunklog.New(chunklog.Paths{})
	if err := logs.Build([]int{1, 2, 3}, ""); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := logs.AddAssigned([]int{1, 2, 3}); err != nil {
		t.Fatalf("AddAssigned: %v", err)
	}
	if err := logs.AddCompleted([]int{1, 2, 3}); err != nil {
		t.Fatalf("AddCompleted: %v", err)
	}

	var td timing.Dict
	td.Add("generate", 2*time.Second)
	td.Increment()

	var buf bytes.Buffer
	Print(&buf, logs, &td)
	out := buf.String()
	if !strings.Contains(out, "all chunks finished cleanly") {
		t.Errorf("expected clean-run message, got: %s", out)
	}
	if !strings.Contains(out, "generate") {
		t.Errorf("expected timing report, got: %s", out)
	}
}

func TestPrintReportsProblemChunks(t *testing.T) {
	logs := chunklog.New(chunklog.Paths{})
	if err := logs.Build([]int{1, 2, 3}, ""); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := logs.AddAssigned([]int{1, 2}); err != nil {
		t.Fatalf("AddAssigned: %v", err)
	}
	if err := logs.AddLimbo([]int{1, 2}); err != nil {
		t.Fatalf("AddLimbo: %v", err)
	}

	var td timing.Dict
	var buf bytes.Buffer
	Print(&buf, logs, &td)
	out := buf.String()
	if !strings.Contains(out, "problem chunks") {
		t.Errorf("expected problem-chunks section, got: %s", out)
	}
	if !strings.Contains(out, "not started") {
		t.Errorf("expected not-started section, got: %s", out)
	}
}
