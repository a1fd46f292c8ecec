package report

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/sunbk201/uricheck/internal/common"
	"github.com/sunbk201/uricheck/internal/statistics"
)

const (
	ExitOK      = 0
	ExitFailure = 1
	ExitErrors  = 2
)

// Sort orders responses by document, line, column, then URI.
func Sort(responses []common.Response) {
	sort.SliceStable(responses, func(i, j int) bool {
		a, b := responses[i].Request, responses[j].Request
		if a.Source.Document != b.Source.Document {
			return a.Source.Document < b.Source.Document
		}
		if a.Source.Line != b.Source.Line {
			return a.Source.Line < b.Source.Line
		}
		if a.Source.Column != b.Source.Column {
			return a.Source.Column < b.Source.Column
		}
		return a.URI.String() < b.URI.String()
	})
}

// Compact writes one "[code] uri | summary" line per response, grouped by
// document. Without verbose only errors are listed. A summary block follows.
func Compact(w io.Writer, responses []common.Response, sum statistics.Summary, verbose bool) error {
	Sort(responses)

	bw := bufio.NewWriter(w)
	document := ""
	started := false
	for _, r := range responses {
		if !verbose && !r.Status.IsError() {
			continue
		}
		if doc := r.Request.Source.Document; !started || doc != document {
			if started {
				fmt.Fprintln(bw)
			}
			if doc == "" {
				doc = "-"
			}
			fmt.Fprintf(bw, "[%s]:\n", doc)
			document, started = r.Request.Source.Document, true
		}
		fmt.Fprintf(bw, "%s %s | %s\n", bracket(r), r.Request.URI.String(), r.Status.Summary())
	}
	if started {
		fmt.Fprintln(bw)
	}
	writeSummary(bw, sum)
	return bw.Flush()
}

func bracket(r common.Response) string {
	return "[" + r.Status.CodeString() + "]"
}

func writeSummary(w io.Writer, s statistics.Summary) {
	fmt.Fprintf(w, "🔍 %d Total (in %s) ✅ %d OK 🚫 %d Errors",
		s.Total, s.Duration.Round(1e6), s.Successful, s.Errors)
	if s.Excluded > 0 {
		fmt.Fprintf(w, " 👻 %d Excluded", s.Excluded)
	}
	if s.Unsupported > 0 {
		fmt.Fprintf(w, " ⛔ %d Unsupported", s.Unsupported)
	}
	if s.Unknown > 0 {
		fmt.Fprintf(w, " ❓ %d Unknown", s.Unknown)
	}
	if s.Cached > 0 {
		fmt.Fprintf(w, " 💾 %d Cached", s.Cached)
	}
	fmt.Fprintln(w)
}

// ExitCode is ExitErrors when any response is an error, ExitOK otherwise.
func ExitCode(s statistics.Summary) int {
	if s.Errors > 0 {
		return ExitErrors
	}
	return ExitOK
}
