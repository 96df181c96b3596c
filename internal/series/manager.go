// Package series manages the lifecycle of recurring tasks: creating a series, reacting
// to completion, skip and deletion of its occurrences, and pausing, resuming or ending
// it. A series is one hidden template task carrying the recurrence rule plus the
// occurrences generated from it, of which at most one is open at a time.
package series

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"

	"github.com/watzon/cadence/internal/database"
	"github.com/watzon/cadence/internal/dates"
	"github.com/watzon/cadence/internal/metrics"
	"github.com/watzon/cadence/internal/recurrence"
	"github.com/watzon/cadence/internal/store"
)

// MaxUrgency is the highest accepted urgency level.
const MaxUrgency = 3

// Manager runs lifecycle operations against a store. Operations on the same series are
// serialized within the process; the store's unique index on open occurrences guards
// against other writers.
type Manager struct {
	repo     *repository
	clock    dates.Clock
	loc      *time.Location
	locks    *keyedMutex
	policy   *bluemonday.Policy
	newID    func() string
	upcoming int
}

type Option func(*Manager)

// WithClock sets the source of "now". The clock's readings are converted to the
// manager's location.
func WithClock(c dates.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithLocation sets the timezone used for due dates and "today".
func WithLocation(loc *time.Location) Option {
	return func(m *Manager) {
		if loc != nil {
			m.loc = loc
		}
	}
}

// WithIDGenerator replaces the UUID generator, mainly for tests.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		m.newID = fn
	}
}

// WithUpcoming sets how many future dates Get previews. Zero disables the preview.
func WithUpcoming(n int) Option {
	return func(m *Manager) {
		m.upcoming = n
	}
}

func NewManager(s store.Store, opts ...Option) *Manager {
	m := &Manager{
		loc:      time.Local,
		locks:    newKeyedMutex(),
		policy:   bluemonday.StrictPolicy(),
		newID:    uuid.NewString,
		upcoming: 3,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.clock == nil {
		m.clock = dates.NewSystemClock(m.loc)
	}
	m.repo = &repository{store: s, loc: m.loc}
	return m
}

// Location returns the timezone the manager schedules in.
func (m *Manager) Location() *time.Location {
	return m.loc
}

// Now returns the current time in the manager's location.
func (m *Manager) Now() time.Time {
	return m.now()
}

func (m *Manager) now() time.Time {
	return m.clock.Now().In(m.loc)
}

// CreateSeriesInput describes a new recurring task. DueDate accepts anything
// dates.ParseDate understands.
type CreateSeriesInput struct {
	Name    string
	Notes   string
	Urgency int
	Tags    []string
	DueDate string
	Rule    recurrence.Rule
}

// CreateSeries stores a template and the first occurrence, both due on the parsed due
// date. The first occurrence counts toward the rule's occurrence limit.
func (m *Manager) CreateSeries(ctx context.Context, in CreateSeriesInput) (*Result, error) {
	now := m.now()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("name", "is required")
	}
	if strings.TrimSpace(in.DueDate) == "" {
		return nil, invalid("dueDate", "is required")
	}
	due, ok := dates.ParseDate(in.DueDate, now)
	if !ok {
		return nil, invalid("dueDate", "unrecognized date %q", in.DueDate)
	}
	if in.Urgency < 0 || in.Urgency > MaxUrgency {
		return nil, invalid("urgency", "must be between 0 and %d", MaxUrgency)
	}

	rule, err := prepareRule(in.Rule)
	if err != nil {
		return nil, err
	}
	if end, ok := rule.End.(recurrence.OnDate); ok && dates.DayAfter(due, end.Date) {
		return nil, invalid("rule", "end date %s is before the first due date", end.Date.Format(time.DateOnly))
	}
	rule.OccurrencesGenerated = 1

	encoded, err := recurrence.Encode(rule)
	if err != nil {
		return nil, fmt.Errorf("encoding rule: %w", err)
	}
	summary := recurrence.Summary(rule)
	tags := cleanTags(in.Tags)

	seriesID := m.newID()
	// The template starts flagged for repair until its first occurrence exists.
	template := &Task{
		ID:          m.newID(),
		Name:        name,
		Notes:       m.cleanNotes(in.Notes),
		Urgency:     in.Urgency,
		Tags:        tags,
		DueDate:     &due,
		SeriesID:    seriesID,
		IsTemplate:  true,
		Rule:        encoded,
		Status:      StatusActive,
		Summary:     summary,
		NeedsRepair: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	template, err = m.repo.insert(ctx, template)
	if err != nil {
		return nil, fmt.Errorf("creating template: %w", err)
	}

	first, err := m.repo.insert(ctx, m.occurrenceOf(template, due, 1, now))
	if err != nil {
		return nil, fmt.Errorf("creating first occurrence: %w", err)
	}
	if err := m.repo.markRepair(ctx, seriesID, false); err != nil {
		return nil, err
	}
	template.NeedsRepair = false

	log.Info().
		Str("series_id", seriesID).
		Str("summary", summary).
		Time("due", due).
		Msg("Series created")
	metrics.RecordLifecycle("create", string(OutcomeSeriesCreated))
	metrics.RecordOccurrenceCreated()

	return &Result{
		Task:     first,
		Template: template,
		Next:     first,
		Status:   StatusActive,
		Outcome:  OutcomeSeriesCreated,
	}, nil
}

// Complete marks a task completed. For an occurrence of an active series the next
// occurrence is generated, anchored on the due date or on the completion day depending
// on the rule.
func (m *Manager) Complete(ctx context.Context, taskID string) (*Result, error) {
	task, unlock, err := m.lockTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if task.IsTemplate {
		return nil, ErrNotRecurring
	}
	if task.closed() {
		return nil, ErrAlreadyClosed
	}

	if task.InSeries() {
		if err := m.repo.markRepair(ctx, task.SeriesID, true); err != nil {
			return nil, err
		}
	}

	now := m.now()
	completed, err := m.repo.update(ctx, task.ID, store.Record{
		"completed":    true,
		"completed_at": now,
		"updated_at":   now,
	}, store.Eq("completed", false), store.Eq("skipped", false), store.Eq("deleted", false))
	if err != nil {
		return nil, err
	}
	if completed == nil {
		return nil, ErrAlreadyClosed
	}
	completed.Tags = task.Tags

	res := &Result{Task: completed, Outcome: OutcomeNone}
	if !task.InSeries() {
		metrics.RecordLifecycle("complete", string(res.Outcome))
		return res, nil
	}

	trig := trigger{action: "complete", due: dueOrNow(task, now), completedAt: dates.Noon(now)}
	if err := m.advance(ctx, task.SeriesID, trig, res); err != nil {
		return res, err
	}
	return res, nil
}

// Skip marks an occurrence skipped and generates the next one anchored on its due date,
// whatever anchor the rule uses.
func (m *Manager) Skip(ctx context.Context, taskID string) (*Result, error) {
	task, unlock, err := m.lockTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if task.IsTemplate || !task.InSeries() {
		return nil, ErrNotRecurring
	}
	if task.closed() {
		return nil, ErrAlreadyClosed
	}

	if err := m.repo.markRepair(ctx, task.SeriesID, true); err != nil {
		return nil, err
	}

	now := m.now()
	skipped, err := m.repo.update(ctx, task.ID, store.Record{
		"skipped":    true,
		"updated_at": now,
	}, store.Eq("completed", false), store.Eq("skipped", false), store.Eq("deleted", false))
	if err != nil {
		return nil, err
	}
	if skipped == nil {
		return nil, ErrAlreadyClosed
	}
	skipped.Tags = task.Tags

	res := &Result{Task: skipped, Outcome: OutcomeNone}
	trig := trigger{action: "skip", due: dueOrNow(task, now), scheduledOnly: true}
	if err := m.advance(ctx, task.SeriesID, trig, res); err != nil {
		return res, err
	}
	return res, nil
}

// Delete trashes a task, or removes it and its tags when permanent is set. Trashing
// the open occurrence of an active series generates the next one; permanent deletion
// has no recurrence side effects.
func (m *Manager) Delete(ctx context.Context, taskID string, permanent bool) (*Result, error) {
	task, unlock, err := m.lockTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if task.IsTemplate {
		return nil, ErrNotRecurring
	}

	if permanent {
		if err := m.repo.remove(ctx, task.ID); err != nil {
			return nil, err
		}
		log.Info().Str("task_id", task.ID).Str("series_id", task.SeriesID).Msg("Task permanently deleted")
		metrics.RecordLifecycle("purge", string(OutcomeNone))
		return &Result{Task: task, Outcome: OutcomeNone}, nil
	}

	if task.Deleted {
		return nil, ErrAlreadyClosed
	}

	if task.InSeries() && task.IsOpen() {
		if err := m.repo.markRepair(ctx, task.SeriesID, true); err != nil {
			return nil, err
		}
	}

	now := m.now()
	deleted, err := m.repo.update(ctx, task.ID, store.Record{
		"deleted":    true,
		"deleted_at": now,
		"updated_at": now,
	}, store.Eq("deleted", false))
	if err != nil {
		return nil, err
	}
	if deleted == nil {
		return nil, ErrAlreadyClosed
	}
	deleted.Tags = task.Tags

	res := &Result{Task: deleted, Outcome: OutcomeNone}
	if !task.InSeries() || !task.IsOpen() {
		metrics.RecordLifecycle("delete", string(res.Outcome))
		return res, nil
	}

	trig := trigger{action: "delete", due: dueOrNow(task, now), scheduledOnly: true}
	if err := m.advance(ctx, task.SeriesID, trig, res); err != nil {
		return res, err
	}
	return res, nil
}

// Pause stops an active series from generating occurrences. id may name the template
// or any occurrence.
func (m *Manager) Pause(ctx context.Context, id string) (*Result, error) {
	template, unlock, err := m.lockSeries(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if template.Status != StatusActive {
		return nil, fmt.Errorf("%w: cannot pause a %s series", ErrInvalidTransition, template.Status)
	}

	updated, err := m.setStatus(ctx, template, StatusPaused)
	if err != nil {
		return nil, err
	}

	open, err := m.repo.openOccurrence(ctx, template.SeriesID)
	if err != nil {
		return nil, err
	}

	log.Info().Str("series_id", template.SeriesID).Msg("Series paused")
	metrics.RecordLifecycle("pause", string(OutcomeNone))

	return &Result{Template: updated, Next: open, Status: StatusPaused, Outcome: OutcomeNone}, nil
}

// Resume reactivates a paused series. When it has no open occurrence the next one is
// generated, anchored on today.
func (m *Manager) Resume(ctx context.Context, id string) (*Result, error) {
	template, unlock, err := m.lockSeries(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if template.Status != StatusPaused {
		return nil, fmt.Errorf("%w: cannot resume a %s series", ErrInvalidTransition, template.Status)
	}

	open, err := m.repo.openOccurrence(ctx, template.SeriesID)
	if err != nil {
		return nil, err
	}

	updated, err := m.repo.update(ctx, template.ID, store.Record{
		"recurrence_status": string(StatusActive),
		"needs_repair":      open == nil,
		"updated_at":        m.now(),
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrNotInSeries
	}
	updated.Tags = template.Tags
	log.Info().Str("series_id", template.SeriesID).Msg("Series resumed")

	res := &Result{Template: updated, Status: StatusActive, Outcome: OutcomeNone}
	if open != nil {
		res.Next = open
		res.Outcome = OutcomeAlreadyOpen
		metrics.RecordLifecycle("resume", string(res.Outcome))
		return res, nil
	}

	trig := trigger{action: "resume", due: dates.Noon(m.now())}
	if err := m.advance(ctx, template.SeriesID, trig, res); err != nil {
		return res, err
	}
	return res, nil
}

// End stops a series permanently. Its open occurrence, if any, stays actionable but no
// further occurrences are generated.
func (m *Manager) End(ctx context.Context, id string) (*Result, error) {
	template, unlock, err := m.lockSeries(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if template.Status == StatusEnded {
		return nil, fmt.Errorf("%w: series has already ended", ErrInvalidTransition)
	}

	updated, err := m.setStatus(ctx, template, StatusEnded)
	if err != nil {
		return nil, err
	}

	log.Info().Str("series_id", template.SeriesID).Msg("Series ended")
	metrics.RecordLifecycle("end", string(OutcomeSeriesEnded))
	metrics.RecordSeriesEnded("manual")

	return &Result{Template: updated, Status: StatusEnded, Outcome: OutcomeSeriesEnded}, nil
}

// UpdateRule replaces the rule of a series that has not ended. The occurrence counter
// carries over, and the summary shown on the template and the open occurrence is
// refreshed.
func (m *Manager) UpdateRule(ctx context.Context, id string, rule recurrence.Rule) (*Result, error) {
	template, unlock, err := m.lockSeries(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if template.Status == StatusEnded {
		return nil, fmt.Errorf("%w: cannot change the rule of an ended series", ErrInvalidTransition)
	}

	rule, err = prepareRule(rule)
	if err != nil {
		return nil, err
	}

	res := &Result{Status: template.Status, Outcome: OutcomeNone}

	if current, err := recurrence.Decode(template.Rule); err == nil {
		rule.OccurrencesGenerated = current.OccurrencesGenerated
	} else {
		latest, err := m.repo.latestOccurrence(ctx, template.SeriesID)
		if err != nil {
			return nil, err
		}
		if latest != nil {
			rule.OccurrencesGenerated = latest.OccurrenceIndex
		}
		res.Warnings = append(res.Warnings, "replaced a malformed rule; occurrence count rebuilt from history")
	}

	encoded, err := recurrence.Encode(rule)
	if err != nil {
		return nil, fmt.Errorf("encoding rule: %w", err)
	}
	summary := recurrence.Summary(rule)
	now := m.now()

	updated, err := m.repo.update(ctx, template.ID, store.Record{
		"recurrence_rule":    encoded,
		"recurrence_summary": summary,
		"updated_at":         now,
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrNotInSeries
	}
	updated.Tags = template.Tags
	res.Template = updated

	open, err := m.repo.openOccurrence(ctx, template.SeriesID)
	if err != nil {
		return res, err
	}
	if open != nil {
		if open, err = m.repo.update(ctx, open.ID, store.Record{
			"recurrence_summary": summary,
			"updated_at":         now,
		}); err != nil {
			return res, err
		}
		res.Next = open
	}

	log.Info().Str("series_id", template.SeriesID).Str("summary", summary).Msg("Series rule updated")
	metrics.RecordLifecycle("update_rule", string(res.Outcome))

	return res, nil
}

// Get returns a snapshot of the series containing id.
func (m *Manager) Get(ctx context.Context, id string) (*View, error) {
	template, err := m.resolveTemplate(ctx, id)
	if err != nil {
		return nil, err
	}

	occurrences, err := m.repo.occurrences(ctx, template.SeriesID, 0)
	if err != nil {
		return nil, err
	}

	view := &View{
		Template:    template,
		Status:      template.Status,
		Summary:     template.Summary,
		Occurrences: occurrences,
	}

	for _, o := range occurrences {
		if o.IsOpen() {
			view.Open = o
			break
		}
	}

	rule, err := recurrence.Decode(template.Rule)
	if err != nil {
		view.Warnings = append(view.Warnings, fmt.Sprintf("%v: %v", ErrMalformedRule, err))
		return view, nil
	}
	view.Rule = &rule

	if template.Status == StatusActive && m.upcoming > 0 {
		anchor := dates.Noon(m.now())
		if view.Open != nil && view.Open.DueDate != nil {
			anchor = *view.Open.DueDate
		}
		view.Upcoming = recurrence.Preview(rule, anchor, dates.Noon(m.now()), m.upcoming)
	}

	return view, nil
}

// trigger carries what the advance step needs from the action that caused it.
type trigger struct {
	action string

	// due is the scheduled anchor: the due date of the occurrence acted on, or today
	// for resume.
	due time.Time

	// completedAt is the completion anchor; zero for anything but completion.
	completedAt time.Time

	// scheduledOnly anchors on due even for completion-anchored rules. The rule keeps
	// its own anchor mode, so catch-up still only applies to scheduled rules.
	scheduledOnly bool

	// generated, when positive, replaces the rule's occurrence counter before the next
	// date is computed.
	generated int
}

func (t trigger) resolve(rule recurrence.Rule) (recurrence.Rule, time.Time) {
	if t.scheduledOnly {
		return rule, t.due
	}
	if rule.Anchor == recurrence.AnchorCompletion && !t.completedAt.IsZero() {
		return rule, t.completedAt
	}
	return rule, t.due
}

// advance is the shared next-occurrence step. Series-level conditions that prevent a
// new occurrence are reported through res.Outcome; only store failures are errors.
// The caller must hold the series lock and, before closing an occurrence, must have
// flagged the series with markRepair. The flag is cleared once the step completes, so
// a series left flagged is one whose step was interrupted.
func (m *Manager) advance(ctx context.Context, seriesID string, trig trigger, res *Result) (err error) {
	var template *Task
	defer func() {
		metrics.RecordLifecycle(trig.action, string(res.Outcome))
	}()
	defer func() {
		// A malformed rule stays flagged so the sweep retries after the rule is fixed.
		if err != nil || template == nil || !template.NeedsRepair || res.Outcome == OutcomeRuleInvalid {
			return
		}
		if clearErr := m.repo.markRepair(ctx, seriesID, false); clearErr != nil {
			log.Warn().Err(clearErr).Str("series_id", seriesID).Msg("Failed to clear repair flag")
		}
	}()

	template, err = m.repo.template(ctx, seriesID)
	if err != nil {
		if errors.Is(err, ErrNotInSeries) {
			res.Outcome = OutcomeNone
			res.Warnings = append(res.Warnings, fmt.Sprintf("series %s has no template", seriesID))
			log.Warn().Str("series_id", seriesID).Msg("Occurrence references a missing template")
			return nil
		}
		return err
	}
	res.Template = template
	res.Status = template.Status

	if template.Status != StatusActive {
		res.Outcome = OutcomeSeriesInactive
		return nil
	}

	stored, err := recurrence.Decode(template.Rule)
	if err != nil {
		log.Warn().
			Err(err).
			Str("series_id", seriesID).
			Str("template_id", template.ID).
			Msg("Skipping occurrence generation for malformed rule")
		metrics.RecordMalformedRule()
		res.Outcome = OutcomeRuleInvalid
		res.Warnings = append(res.Warnings, fmt.Sprintf("%v on series %s: %v", ErrMalformedRule, seriesID, err))
		return nil
	}
	if trig.generated > 0 {
		stored.OccurrencesGenerated = trig.generated
	}

	now := m.now()
	rule, anchor := trig.resolve(stored)
	next, ok := recurrence.NextOccurrence(rule, anchor, dates.Noon(now))
	if !ok {
		ended, err := m.setStatus(ctx, template, StatusEnded)
		if err != nil {
			return err
		}
		res.Template = ended
		res.Status = StatusEnded
		res.Outcome = OutcomeSeriesEnded
		log.Info().Str("series_id", seriesID).Msg("Series exhausted")
		metrics.RecordSeriesEnded("exhausted")
		return nil
	}

	open, err := m.repo.openOccurrence(ctx, seriesID)
	if err != nil {
		return err
	}
	if open != nil {
		res.Next = open
		res.Outcome = OutcomeAlreadyOpen
		return nil
	}

	previous := stored.OccurrencesGenerated
	stored.OccurrencesGenerated++
	if err := m.saveRule(ctx, template, stored, now); err != nil {
		return err
	}

	occurrence, err := m.repo.insert(ctx, m.occurrenceOf(template, dates.Noon(next), stored.OccurrencesGenerated, now))
	if err != nil {
		if !database.IsUniqueError(err) {
			return fmt.Errorf("creating next occurrence: %w", err)
		}

		// Another writer opened an occurrence between the check and the insert.
		stored.OccurrencesGenerated = previous
		if err := m.saveRule(ctx, template, stored, now); err != nil {
			log.Warn().Err(err).Str("series_id", seriesID).Msg("Failed to restore occurrence counter")
		}
		if res.Next, err = m.repo.openOccurrence(ctx, seriesID); err != nil {
			return err
		}
		res.Outcome = OutcomeAlreadyOpen
		return nil
	}

	res.Next = occurrence
	res.Outcome = OutcomeNextCreated
	metrics.RecordOccurrenceCreated()

	log.Info().
		Str("series_id", seriesID).
		Str("trigger", trig.action).
		Int("occurrence", occurrence.OccurrenceIndex).
		Time("due", next).
		Msg("Next occurrence created")

	return nil
}

func (m *Manager) saveRule(ctx context.Context, template *Task, rule recurrence.Rule, now time.Time) error {
	encoded, err := recurrence.Encode(rule)
	if err != nil {
		return fmt.Errorf("encoding rule: %w", err)
	}
	if _, err := m.repo.update(ctx, template.ID, store.Record{
		"recurrence_rule": encoded,
		"updated_at":      now,
	}); err != nil {
		return err
	}
	template.Rule = encoded
	return nil
}

func (m *Manager) setStatus(ctx context.Context, template *Task, status Status) (*Task, error) {
	updated, err := m.repo.update(ctx, template.ID, store.Record{
		"recurrence_status": string(status),
		"updated_at":        m.now(),
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrNotInSeries
	}
	updated.Tags = template.Tags
	return updated, nil
}

// occurrenceOf builds an occurrence of template due on due. Display fields and tags are
// copied so the occurrence stands alone.
func (m *Manager) occurrenceOf(template *Task, due time.Time, index int, now time.Time) *Task {
	return &Task{
		ID:              m.newID(),
		Name:            template.Name,
		Notes:           template.Notes,
		Urgency:         template.Urgency,
		Tags:            template.Tags,
		DueDate:         &due,
		SeriesID:        template.SeriesID,
		ParentID:        template.ID,
		Summary:         template.Summary,
		OccurrenceIndex: index,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// lockTask loads a task and takes its series lock, then reloads it so the caller sees
// the state as of holding the lock. Tasks outside a series are not locked.
func (m *Manager) lockTask(ctx context.Context, taskID string) (*Task, func(), error) {
	task, err := m.repo.task(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if !task.InSeries() {
		return task, func() {}, nil
	}

	unlock := m.locks.Lock(task.SeriesID)
	task, err = m.repo.task(ctx, taskID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return task, unlock, nil
}

// lockSeries resolves id to its series template and takes the series lock.
func (m *Manager) lockSeries(ctx context.Context, id string) (*Task, func(), error) {
	template, err := m.resolveTemplate(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	unlock := m.locks.Lock(template.SeriesID)
	template, err = m.repo.template(ctx, template.SeriesID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return template, unlock, nil
}

// resolveTemplate accepts a template id or the id of any task in a series.
func (m *Manager) resolveTemplate(ctx context.Context, id string) (*Task, error) {
	task, err := m.repo.task(ctx, id)
	if errors.Is(err, ErrTaskNotFound) {
		return nil, ErrNotInSeries
	}
	if err != nil {
		return nil, err
	}
	if !task.InSeries() {
		return nil, ErrNotInSeries
	}
	if task.IsTemplate {
		return task, nil
	}
	return m.repo.template(ctx, task.SeriesID)
}

// prepareRule validates a caller-supplied rule and returns it normalized. An unset
// interval means 1.
func prepareRule(rule recurrence.Rule) (recurrence.Rule, error) {
	if rule.Interval == 0 {
		rule.Interval = 1
	}
	if err := rule.Validate(); err != nil {
		return recurrence.Rule{}, invalid("rule", "%v", err)
	}
	return rule.Normalize(), nil
}

// cleanNotes strips markup so notes are stored as plain text.
func (m *Manager) cleanNotes(notes string) string {
	return strings.TrimSpace(html.UnescapeString(m.policy.Sanitize(notes)))
}

func cleanTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

func dueOrNow(t *Task, now time.Time) time.Time {
	if t.DueDate != nil {
		return *t.DueDate
	}
	return dates.Noon(now)
}
