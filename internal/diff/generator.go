// Package diff renders line-level patches between two versions of a config
// document.
package diff

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
)

const noNewlineMarker = "\\ No newline at end of file\n"

// Generator produces unified patches, optionally coloured for terminals.
type Generator struct {
	colorEnabled bool
}

// NewGenerator creates a diff generator.
func NewGenerator(colorEnabled bool) *Generator {
	return &Generator{colorEnabled: colorEnabled}
}

// Result is a rendered patch with line statistics.
type Result struct {
	Patch        string `json:"patch"`
	AddedLines   int    `json:"addedLines"`
	DeletedLines int    `json:"deletedLines"`
}

// Unified diffs oldContent against newContent line by line. Identical
// inputs yield an empty patch.
func (g *Generator) Unified(oldContent, newContent, name string) Result {
	if oldContent == newContent {
		return Result{}
	}

	dmp := diffmatchpatch.New()
	oldChars, newChars, lines := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(oldChars, newChars, false), lines)
	added, deleted := countLines(diffs)

	var out strings.Builder
	out.WriteString(g.colorize("--- a/"+name+"\n", color.FgRed))
	out.WriteString(g.colorize("+++ b/"+name+"\n", color.FgGreen))
	out.WriteString(g.colorize(fmt.Sprintf("@@ -%s +%s @@\n", hunkRange(oldContent), hunkRange(newContent)), color.FgCyan))
	for _, d := range diffs {
		lines := splitLines(d.Text)
		for i, line := range lines {
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				out.WriteString(g.colorize("+"+line+"\n", color.FgGreen))
			case diffmatchpatch.DiffDelete:
				out.WriteString(g.colorize("-"+line+"\n", color.FgRed))
			default:
				out.WriteString(" " + line + "\n")
			}
			if i == len(lines)-1 && !strings.HasSuffix(d.Text, "\n") {
				out.WriteString(noNewlineMarker)
			}
		}
	}
	return Result{Patch: out.String(), AddedLines: added, DeletedLines: deleted}
}

// Summary returns a short human-readable line count.
func (r Result) Summary() string {
	if r.AddedLines == 0 && r.DeletedLines == 0 {
		return "No changes"
	}
	return fmt.Sprintf("+%d -%d lines", r.AddedLines, r.DeletedLines)
}

func countLines(diffs []diffmatchpatch.Diff) (added, deleted int) {
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += len(splitLines(d.Text))
		case diffmatchpatch.DiffDelete:
			deleted += len(splitLines(d.Text))
		}
	}
	return added, deleted
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

// hunkRange renders the start,count pair of a single hunk spanning text.
func hunkRange(text string) string {
	n := len(splitLines(text))
	if n == 0 {
		return "0,0"
	}
	return fmt.Sprintf("1,%d", n)
}

func (g *Generator) colorize(text string, attr color.Attribute) string {
	if !g.colorEnabled {
		return text
	}
	return color.New(attr).Sprint(text)
}
