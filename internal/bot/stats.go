package bot

import (
	"fmt"
	"strings"

	"github.com/ent0n29/voxcollect/internal/ledger"
)

// FormatStats renders the dataset totals, a per-language table and the
// contribution of userID.
func FormatStats(stats ledger.Stats, userID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Total sentences labeled:</b> %d\n", stats.Total.Sentences)
	fmt.Fprintf(&b, "<b>Total duration labeled:</b> %s (HH:MM)\n\n", hhmm(stats.Total.DurationSeconds))

	b.WriteString("<b>Language-wise statistics:</b>\n<pre>\n")
	b.WriteString("Language         | Sentence | Duration\n")
	b.WriteString("-----------------+----------+---------\n")
	for _, lt := range stats.Languages {
		fmt.Fprintf(&b, "%-16s | %8d | %s\n", lt.Language.DisplayName(), lt.Sentences, hhmm(lt.DurationSeconds))
	}
	b.WriteString("</pre>\n\n")

	user := stats.User(userID)
	b.WriteString("<b>Your contribution:</b>\n")
	fmt.Fprintf(&b, "<b>Sentences:</b> %d\n", user.Sentences)
	fmt.Fprintf(&b, "<b>Duration:</b> %s (HH:MM:SS)\n", hhmmss(user.DurationSeconds))
	return b.String()
}

func hhmm(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/3600, (total%3600)/60)
}

func hhmmss(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
