package presentation

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
)

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer) *Formatter {
	return &Formatter{
		writer: writer,
	}
}

// FormatJSON writes v as indented JSON.
func (f *Formatter) FormatJSON(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// FormatStatus writes a human readable status block.
func (f *Formatter) FormatStatus(s StatusDTO, usage *UsageDTO) error {
	var b strings.Builder
	fmt.Fprintf(&b, "State:     %s\n", s.State)
	if s.SessionID != "" {
		fmt.Fprintf(&b, "Session:   %s\n", s.SessionID)
		fmt.Fprintf(&b, "Blocking:  %s\n", strings.Join(s.BlockedAppIDs, ", "))
		switch {
		case s.RemainingSeconds != nil:
			fmt.Fprintf(&b, "Remaining: %s\n", (time.Duration(*s.RemainingSeconds) * time.Second).String())
		case s.PlannedDurationMinutes == 0:
			b.WriteString("Remaining: until stopped\n")
		}
		if line := attemptsLine(s.Attempts); line != "" {
			fmt.Fprintf(&b, "Attempts:  %s\n", line)
		}
	}
	if usage != nil {
		fmt.Fprintf(&b, "Free tier: %d of %d used, %d left\n", usage.Completed, usage.Limit, usage.Remaining)
	}
	_, err := io.WriteString(f.writer, b.String())
	return err
}

// FormatHistory writes one row per session.
func (f *Formatter) FormatHistory(sessions []SessionDTO) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(f.writer, "No sessions yet.")
		return err
	}

	tw := tabwriter.NewWriter(f.writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSTARTED\tPLANNED\tAPPS\tATTEMPTS")
	for _, s := range sessions {
		planned := "indefinite"
		if s.PlannedDurationMinutes > 0 {
			planned = fmt.Sprintf("%dm", s.PlannedDurationMinutes)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n",
			shortID(s.ID), s.Status, s.StartTime.Local().Format("2006-01-02 15:04"),
			planned, len(s.BlockedAppIDs), s.TotalAttempts)
	}
	return tw.Flush()
}

func attemptsLine(attempts map[string]int) string {
	apps := make([]string, 0, len(attempts))
	for app := range attempts {
		apps = append(apps, app)
	}
	sort.Strings(apps)
	parts := make([]string, 0, len(apps))
	for _, app := range apps {
		parts = append(parts, fmt.Sprintf("%s=%d", app, attempts[app]))
	}
	return strings.Join(parts, " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
