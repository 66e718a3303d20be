package report

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"dedupe-go/internal/resolve"
)

// Summary counts what a resolution keeps and deletes.
type Summary struct {
	Directories int
	Kept        int
	Deleted     int
	Reclaimed   int64
}

func Summarize(result *resolve.Result) Summary {
	s := Summary{Directories: len(result.Entries), Reclaimed: result.Total}
	for _, e := range result.Entries {
		s.Kept += len(e.Kept)
		s.Deleted += len(e.Deleted)
	}
	return s
}

// Format renders result as plain text, one block per kept directory.
func Format(result *resolve.Result) string {
	if result.Empty() {
		return "No duplicates found."
	}

	var b strings.Builder
	b.WriteString("Duplicates resolved:\n\n")

	for _, e := range result.Entries {
		fmt.Fprintf(&b, "KEEP %s (%d kept, %d to delete, %s reclaimable)\n",
			e.Path, len(e.Kept), len(e.Deleted), humanize.IBytes(uint64(e.Reclaimed)))
		for _, p := range e.Kept {
			fmt.Fprintf(&b, "  = %s\n", p)
		}
		for _, p := range e.Deleted {
			fmt.Fprintf(&b, "  - %s\n", p)
		}
		b.WriteString("\n")
	}

	s := Summarize(result)
	fmt.Fprintf(&b, "Summary: %d directories, %d kept, %d deletions, %s reclaimable\n",
		s.Directories, s.Kept, s.Deleted, humanize.IBytes(uint64(s.Reclaimed)))

	return b.String()
}
