package series

import (
	"time"

	"github.com/watzon/cadence/internal/recurrence"
)

// Outcome describes what a lifecycle action did to its series.
type Outcome string

const (
	OutcomeNone           Outcome = "none"
	OutcomeSeriesCreated  Outcome = "series_created"
	OutcomeNextCreated    Outcome = "next_created"
	OutcomeSeriesEnded    Outcome = "series_ended"
	OutcomeAlreadyOpen    Outcome = "already_open"
	OutcomeSeriesInactive Outcome = "series_inactive"
	OutcomeRuleInvalid    Outcome = "rule_invalid"
)

// Result is returned by every lifecycle operation. Task is the task acted on, Template
// the series template when there is one, and Next the occurrence that is open after the
// action.
type Result struct {
	Task     *Task    `json:"task,omitempty"`
	Template *Task    `json:"template,omitempty"`
	Next     *Task    `json:"next,omitempty"`
	Status   Status   `json:"status,omitempty"`
	Outcome  Outcome  `json:"outcome"`
	Warnings []string `json:"warnings,omitempty"`
}

// View is a read-only snapshot of a series.
type View struct {
	Template    *Task            `json:"template"`
	Rule        *recurrence.Rule `json:"rule,omitempty"`
	Status      Status           `json:"status"`
	Summary     string           `json:"summary"`
	Open        *Task            `json:"open,omitempty"`
	Occurrences []*Task          `json:"occurrences"`
	Upcoming    []time.Time      `json:"upcoming,omitempty"`
	Warnings    []string         `json:"warnings,omitempty"`
}

// ReconcileReport summarizes a reconciliation sweep.
type ReconcileReport struct {
	Checked  int `json:"checked"`
	Repaired int `json:"repaired"`
	Ended    int `json:"ended"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}
