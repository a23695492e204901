package migration

import (
	"fmt"
	"strings"
	"time"
)

// Report renders a migration result as plain text for operators.
func Report(r *Result) string {
	if r == nil {
		return "no migration has run\n"
	}

	var b strings.Builder
	b.WriteString("License migration report\n")
	b.WriteString("========================\n")
	fmt.Fprintf(&b, "Started:  %s\n", r.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Finished: %s\n", r.FinishedAt.UTC().Format(time.RFC3339))

	outcome := "SUCCESS"
	if !r.Success {
		outcome = "FAILED"
	}
	fmt.Fprintf(&b, "Outcome:  %s (%s)\n", outcome, r.State)
	fmt.Fprintf(&b, "Migrated: %d\n", r.MigratedCount)
	fmt.Fprintf(&b, "Errors:   %d\n", len(r.Errors))

	if r.Backup != nil {
		fmt.Fprintf(&b, "Backup:   %s (%d records)\n", r.Backup.Path, r.Backup.Count)
	}

	if len(r.Errors) > 0 {
		b.WriteString("\nErrors\n------\n")
		for i, e := range r.Errors {
			fmt.Fprintf(&b, "%d. %s\n", i+1, e)
		}
	}

	if len(r.Log) > 0 {
		b.WriteString("\nLog\n---\n")
		for _, line := range r.Log {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}

	return b.String()
}
