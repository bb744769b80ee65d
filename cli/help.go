package cli

import (
	"io"
	"text/tabwriter"
)

// PrintModesTable writes a tab-aligned listing of every registered mode
// to w, in the teacher's tabwriter-based usage-printing idiom.
func PrintModesTable(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	defer tw.Flush()

	for _, m := range All() {
		tw.Write([]byte(string(m.Name) + "\t" + m.Summary + "\n"))
	}
}
