// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package healing

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sipeed/picoswarm/pkg/metrics"
)

// Format selects an export encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// ParseFormat accepts json, yaml/yml and markdown/md.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown export format %q", name)
}

// TimelineEntry is one row of an exported timeline.
type TimelineEntry struct {
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
	AgentID     string    `json:"agent_id" yaml:"agent_id"`
	FailureType string    `json:"failure_type" yaml:"failure_type"`
	Strategy    string    `json:"strategy" yaml:"strategy"`
	Success     bool      `json:"success" yaml:"success"`
	DurationMS  int64     `json:"duration_ms" yaml:"duration_ms"`
	Actions     []string  `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// Timeline orders events by time.
func Timeline(events []metrics.HealingEvent) []TimelineEntry {
	sorted := sortedByTime(events)
	out := make([]TimelineEntry, 0, len(sorted))
	for _, e := range sorted {
		out = append(out, TimelineEntry{
			Timestamp:   e.Timestamp,
			AgentID:     e.AgentID,
			FailureType: e.FailureType,
			Strategy:    e.Strategy,
			Success:     e.Success,
			DurationMS:  e.DurationMS,
			Actions:     e.Actions,
		})
	}
	return out
}

// ExportTimeline writes the event timeline to w.
func ExportTimeline(w io.Writer, events []metrics.HealingEvent, format Format) error {
	tl := Timeline(events)
	switch format {
	case FormatJSON:
		return writeJSON(w, tl)
	case FormatYAML:
		return writeYAML(w, tl)
	case FormatMarkdown:
		var b strings.Builder
		b.WriteString("# Healing Timeline\n\n")
		b.WriteString("| Time | Agent | Failure | Strategy | Result | Duration |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, e := range tl {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %dms |\n",
				e.Timestamp.Format(time.RFC3339), e.AgentID, e.FailureType, e.Strategy, outcome(e.Success), e.DurationMS)
		}
		_, err := io.WriteString(w, b.String())
		return err
	}
	return fmt.Errorf("unknown export format %q", format)
}

// ExportReport writes rep to w.
func ExportReport(w io.Writer, rep *Report, format Format) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, rep)
	case FormatYAML:
		return writeYAML(w, rep)
	case FormatMarkdown:
		_, err := io.WriteString(w, rep.markdown())
		return err
	}
	return fmt.Errorf("unknown export format %q", format)
}

func (rep *Report) markdown() string {
	var b strings.Builder
	b.WriteString("# Healing Analytics\n\n")
	if rep.TotalEvents == 0 {
		b.WriteString("No healing events recorded.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Period: %s to %s\n\n", rep.PeriodStart.Format(time.RFC3339), rep.PeriodEnd.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Events: %d\n", rep.TotalEvents)
	fmt.Fprintf(&b, "- Overall success rate: %.1f%%\n", rep.OverallSuccessRate*100)
	fmt.Fprintf(&b, "- MTTR: %s\n", rep.MTTR)

	b.WriteString("\n## Strategies\n\n")
	b.WriteString("| Strategy | Attempts | Success rate | Trend | Avg duration |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, s := range rep.Strategies {
		fmt.Fprintf(&b, "| %s | %d | %.1f%% | %s | %.0fms |\n", s.Name, s.Attempts, s.SuccessRate*100, s.Trend, s.AvgDurationMS)
	}

	if len(rep.MTTRByFailure) > 0 {
		b.WriteString("\n## Recovery time by failure type\n\n")
		for _, ft := range sortedKeys(rep.MTTRByFailure) {
			fmt.Fprintf(&b, "- %s: %s\n", ft, rep.MTTRByFailure[ft])
		}
	}

	b.WriteString("\n## Patterns\n\n")
	for _, c := range rep.Patterns.TopFailureTypes {
		fmt.Fprintf(&b, "- failure %s: %d\n", c.Name, c.Count)
	}
	for _, c := range rep.Patterns.RecurringAgents {
		fmt.Fprintf(&b, "- recurring agent %s: %d\n", c.Name, c.Count)
	}
	for _, c := range rep.Patterns.TimingClusters {
		fmt.Fprintf(&b, "- burst of %d events %s to %s\n", c.Events, c.Start.Format(time.RFC3339), c.End.Format(time.RFC3339))
	}

	b.WriteString("\n## Recommendations\n\n")
	if len(rep.Recommendations) == 0 {
		b.WriteString("None\n")
	}
	for i, r := range rep.Recommendations {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, r.Priority, r.Message)
	}
	return b.String()
}

func outcome(success bool) string {
	if success {
		return "recovered"
	}
	return "failed"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
