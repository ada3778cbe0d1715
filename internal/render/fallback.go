package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/meridianfin/advisor-agent/pkg/models"
)

// Fallback renders the deterministic facts_only_compact template:
// one line per critical/warn insight, a table of key facts, the disclaimer,
// a notice that rich synthesis was unavailable, and the trace id. It never
// calls the LLM and never fails.
func Fallback(pack models.EvidencePack, disclaimer, traceID string) string {
	var b strings.Builder

	fmt.Fprintln(&b, "We couldn't generate the full advisory response, so here is what the data shows.")

	criticalAndWarn := filterSeverity(pack.Insights, models.SeverityCritical, models.SeverityWarn)
	if len(criticalAndWarn) > 0 {
		fmt.Fprintln(&b, "\nNotable findings")
		for _, ins := range criticalAndWarn {
			fmt.Fprintf(&b, "- [%s] %s\n", strings.ToUpper(string(ins.Severity)), ins.DescriptionTemplate)
		}
	}

	if len(pack.Facts) > 0 {
		fmt.Fprintln(&b, "\nKey facts")
		for _, id := range sortedFactIDs(pack) {
			f := pack.Facts[id]
			fmt.Fprintf(&b, "- %s: %s\n", id, FormatFact(f, "en-US"))
		}
	} else {
		fmt.Fprintln(&b, "\nNo tool data was available for this request.")
	}

	fmt.Fprintln(&b, "\nDisclaimer")
	fmt.Fprintln(&b, disclaimer)

	fmt.Fprintln(&b, "\nThe richer advisory synthesis was unavailable for this request.")
	fmt.Fprintf(&b, "Trace: %s\n", traceID)

	return strings.TrimRight(b.String(), "\n")
}

func filterSeverity(insights []models.Insight, levels ...models.Severity) []models.Insight {
	want := make(map[models.Severity]bool, len(levels))
	for _, l := range levels {
		want[l] = true
	}
	var out []models.Insight
	for _, ins := range insights {
		if want[ins.Severity] {
			out = append(out, ins)
		}
	}
	return out
}

func sortedFactIDs(pack models.EvidencePack) []string {
	ids := make([]string, 0, len(pack.Facts))
	for id := range pack.Facts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
