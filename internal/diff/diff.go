// Package diff renders the difference between an original and a modified
// payload as a unified diff with line statistics.
package diff

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
	sgdiff "github.com/sourcegraph/go-diff/diff"
)

// Stats captures line statistics of a unified diff.
type Stats struct {
	Added   int
	Removed int
	Hunks   int
}

// Generate produces a unified diff between old and new content. Identical
// inputs yield an empty diff.
func Generate(oldContent, newContent []byte, name string, contextLines int) (string, Stats, error) {
	if contextLines <= 0 {
		contextLines = 3
	}
	if bytes.Equal(oldContent, newContent) {
		return "", Stats{}, nil
	}
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(ensureNewline(oldContent)),
		B:        difflib.SplitLines(ensureNewline(newContent)),
		FromFile: name + ".original",
		ToFile:   name + ".modified",
		Context:  contextLines,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", Stats{}, fmt.Errorf("failed to diff %s: %w", name, err)
	}
	if text == "" {
		return "", Stats{}, nil
	}
	stats, err := Stat(text)
	if err != nil {
		return "", Stats{}, err
	}
	return text, stats, nil
}

// Stat parses a single-file unified diff and counts its changed lines.
func Stat(text string) (Stats, error) {
	fd, err := sgdiff.ParseFileDiff([]byte(text))
	if err != nil {
		return Stats{}, fmt.Errorf("failed to parse diff: %w", err)
	}
	stats := Stats{Hunks: len(fd.Hunks)}
	for _, hunk := range fd.Hunks {
		for _, line := range bytes.Split(hunk.Body, []byte("\n")) {
			if len(line) == 0 {
				continue
			}
			switch line[0] {
			case '+':
				stats.Added++
			case '-':
				stats.Removed++
			}
		}
	}
	return stats, nil
}

// JSON diffs two JSON documents after indenting them, so that a change to a
// single field shows up as a single changed line.
func JSON(original, modified json.RawMessage) (string, Stats, error) {
	return Generate(indent(original), indent(modified), "payload", 3)
}

func indent(data []byte) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return data
	}
	return buf.Bytes()
}

func ensureNewline(data []byte) string {
	if len(data) == 0 || data[len(data)-1] == '\n' {
		return string(data)
	}
	return string(data) + "\n"
}
