package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/watzon/cadence/internal/dates"
	"github.com/watzon/cadence/internal/series"
)

const (
	actionCreate     = "create"
	actionComplete   = "complete"
	actionSkip       = "skip"
	actionDelete     = "delete"
	actionPurge      = "purge"
	actionPause      = "pause"
	actionResume     = "resume"
	actionEnd        = "end"
	actionUpdateRule = "update_rule"
)

// renderResult describes a lifecycle result for the assistant.
func renderResult(action string, res *series.Result) string {
	var sb strings.Builder

	sb.WriteString(headline(action, res))
	sb.WriteString("\n")

	switch res.Outcome {
	case series.OutcomeSeriesCreated:
		if res.Next != nil {
			fmt.Fprintf(&sb, "First occurrence due %s (id %s).\n", dates.FormatDate(res.Next.DueDate), res.Next.ID)
		}
		if res.Template != nil {
			fmt.Fprintf(&sb, "Series id: %s\n", res.Template.SeriesID)
		}
	case series.OutcomeNextCreated:
		if res.Next != nil {
			fmt.Fprintf(&sb, "Next occurrence due %s (id %s).\n", dates.FormatDate(res.Next.DueDate), res.Next.ID)
		}
	case series.OutcomeAlreadyOpen:
		if res.Next != nil {
			fmt.Fprintf(&sb, "An occurrence is already open, due %s (id %s).\n", dates.FormatDate(res.Next.DueDate), res.Next.ID)
		}
	case series.OutcomeSeriesEnded:
		if action == actionEnd {
			sb.WriteString("No further occurrences will be created.\n")
		} else {
			sb.WriteString("That was the last occurrence; the series has ended.\n")
		}
	case series.OutcomeSeriesInactive:
		fmt.Fprintf(&sb, "The series is %s, so no new occurrence was created.\n", res.Status)
	case series.OutcomeRuleInvalid:
		sb.WriteString("The series rule could not be read, so no new occurrence was created.\n")
	default:
		if action == actionPause && res.Next != nil {
			fmt.Fprintf(&sb, "The open occurrence due %s stays on the list.\n", dates.FormatDate(res.Next.DueDate))
		}
		if action == actionUpdateRule && res.Next != nil {
			fmt.Fprintf(&sb, "Open occurrence still due %s.\n", dates.FormatDate(res.Next.DueDate))
		}
	}

	for _, w := range res.Warnings {
		fmt.Fprintf(&sb, "Warning: %s\n", w)
	}

	return strings.TrimRight(sb.String(), "\n")
}

func headline(action string, res *series.Result) string {
	name := ""
	switch {
	case res.Task != nil:
		name = res.Task.Name
	case res.Template != nil:
		name = res.Template.Name
	}

	switch action {
	case actionCreate:
		summary := ""
		if res.Template != nil {
			summary = res.Template.Summary
		}
		return fmt.Sprintf("Created recurring task %q (%s).", name, summary)
	case actionComplete:
		return fmt.Sprintf("Completed %q%s.", name, dueSuffix(res.Task))
	case actionSkip:
		return fmt.Sprintf("Skipped %q%s.", name, dueSuffix(res.Task))
	case actionDelete:
		return fmt.Sprintf("Moved %q to the trash.", name)
	case actionPurge:
		return fmt.Sprintf("Permanently deleted %q.", name)
	case actionPause:
		return fmt.Sprintf("Paused series %q.", name)
	case actionResume:
		return fmt.Sprintf("Resumed series %q.", name)
	case actionEnd:
		return fmt.Sprintf("Ended series %q.", name)
	case actionUpdateRule:
		summary := ""
		if res.Template != nil {
			summary = res.Template.Summary
		}
		return fmt.Sprintf("Updated the rule of %q: %s.", name, summary)
	default:
		return fmt.Sprintf("%s %q.", action, name)
	}
}

func dueSuffix(t *series.Task) string {
	if t == nil || t.DueDate == nil {
		return ""
	}
	return " (due " + dates.FormatDate(t.DueDate) + ")"
}

func renderView(v *series.View) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Series %q (%s)\n", v.Template.Name, v.Status)
	fmt.Fprintf(&sb, "Rule: %s\n", v.Summary)
	fmt.Fprintf(&sb, "Series id: %s\n", v.Template.SeriesID)

	if v.Open != nil {
		fmt.Fprintf(&sb, "Open occurrence: due %s (id %s)\n", dates.FormatDate(v.Open.DueDate), v.Open.ID)
	} else {
		sb.WriteString("Open occurrence: none\n")
	}

	if len(v.Upcoming) > 0 {
		upcoming := make([]string, len(v.Upcoming))
		for i := range v.Upcoming {
			upcoming[i] = dates.FormatDate(&v.Upcoming[i])
		}
		fmt.Fprintf(&sb, "Upcoming: %s\n", strings.Join(upcoming, "; "))
	}

	completed, skipped, deleted := 0, 0, 0
	for _, o := range v.Occurrences {
		switch {
		case o.Completed:
			completed++
		case o.Skipped:
			skipped++
		case o.Deleted:
			deleted++
		}
	}
	fmt.Fprintf(&sb, "Occurrences: %d (%d completed, %d skipped, %d deleted)\n",
		len(v.Occurrences), completed, skipped, deleted)

	for _, w := range v.Warnings {
		fmt.Fprintf(&sb, "Warning: %s\n", w)
	}

	return strings.TrimRight(sb.String(), "\n")
}

func renderPreview(p *PreviewResult) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s\n", p.Summary)
	for i := range p.Dates {
		fmt.Fprintf(&sb, "%d. %s, %s\n", i+1, p.Dates[i].Weekday().String()[:3], dates.FormatDate(&p.Dates[i]))
	}
	if p.Ends {
		sb.WriteString("The series ends after these dates.\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}

// payload renders v as indented JSON for the second content block.
func payload(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}
