package generator

import (
	"bufio"
	"fmt"
	"strings"
)

// parseArtifactList parses the generator subprocess's stdout: one
// "table:path" pair per non-blank line.
func parseArtifactList(raw string) ([]ArtifactFile, error) {
	var out []ArtifactFile
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		table, path, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("generator: malformed artifact line %q", line)
		}
		out = append(out, ArtifactFile{Table: table, Path: path})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("generator: reading artifact list: %w", err)
	}
	return out, nil
}
