package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"

	"github.com/watzon/cadence/internal/dates"
	"github.com/watzon/cadence/internal/metrics"
	"github.com/watzon/cadence/internal/recurrence"
	"github.com/watzon/cadence/internal/series"
)

const (
	defaultPreviewCount = 5
	maxPreviewCount     = 50
)

var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrInvalidArguments = errors.New("invalid arguments")
)

type handlerFunc func(ctx context.Context, args json.RawMessage) (*CallToolResult, error)

type tool struct {
	def    Tool
	handle handlerFunc
}

// Toolset exposes series lifecycle operations as tools.
type Toolset struct {
	manager *series.Manager
	tools   []tool
	byName  map[string]tool
}

// NewToolset builds the tools whose names match at least one of patterns. An empty
// pattern list enables every tool.
func NewToolset(m *series.Manager, patterns []string) (*Toolset, error) {
	matchers := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling tool pattern %q: %w", p, err)
		}
		matchers = append(matchers, g)
	}

	ts := &Toolset{manager: m, byName: make(map[string]tool)}
	for _, t := range ts.all() {
		if !enabled(t.def.Name, matchers) {
			continue
		}
		ts.tools = append(ts.tools, t)
		ts.byName[t.def.Name] = t
	}
	return ts, nil
}

func enabled(name string, matchers []glob.Glob) bool {
	if len(matchers) == 0 {
		return true
	}
	for _, g := range matchers {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// List returns the enabled tool definitions in a stable order.
func (ts *Toolset) List() []Tool {
	out := make([]Tool, len(ts.tools))
	for i, t := range ts.tools {
		out[i] = t.def
	}
	return out
}

// Call runs a tool. Failures of the tool itself come back as an isError result; the
// returned error is reserved for unknown tools.
func (ts *Toolset) Call(ctx context.Context, name string, args json.RawMessage) (*CallToolResult, error) {
	t, ok := ts.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	metrics.IncrementInFlight()
	defer metrics.DecrementInFlight()
	start := time.Now()

	result, err := t.handle(ctx, args)
	if err != nil {
		logToolError(name, err)
		result = errorResult(err)
	}

	metrics.RecordToolCall(name, result.IsError, time.Since(start))
	return result, nil
}

func logToolError(name string, err error) {
	if isUserError(err) {
		log.Debug().Err(err).Str("tool", name).Msg("Tool rejected request")
		return
	}
	log.Error().Err(err).Str("tool", name).Msg("Tool failed")
}

func isUserError(err error) bool {
	if series.IsValidationError(err) {
		return true
	}
	for _, target := range []error{
		ErrInvalidArguments,
		series.ErrTaskNotFound,
		series.ErrNotRecurring,
		series.ErrNotInSeries,
		series.ErrInvalidTransition,
		series.ErrAlreadyClosed,
		recurrence.ErrInvalidRule,
		recurrence.ErrMissingFrequency,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func decodeArgs(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		// rule decoding errors already say what is wrong with the rule
		if errors.Is(err, recurrence.ErrInvalidRule) || errors.Is(err, recurrence.ErrMissingFrequency) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidArguments, field)
	}
	return nil
}

type createArgs struct {
	Name    string           `json:"name"`
	Notes   string           `json:"notes"`
	Urgency int              `json:"urgency"`
	Tags    []string         `json:"tags"`
	DueDate string           `json:"dueDate"`
	Rule    *recurrence.Rule `json:"rule"`
}

type taskArgs struct {
	TaskID    string `json:"taskId"`
	Permanent bool   `json:"permanent"`
}

type seriesArgs struct {
	ID string `json:"id"`
}

type updateRuleArgs struct {
	ID   string           `json:"id"`
	Rule *recurrence.Rule `json:"rule"`
}

type previewArgs struct {
	Rule  *recurrence.Rule `json:"rule"`
	From  string           `json:"from"`
	Count int              `json:"count"`
}

func (ts *Toolset) createRecurringTask(ctx context.Context, raw json.RawMessage) (*CallToolResult, error) {
	var args createArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Rule == nil {
		return nil, fmt.Errorf("%w: rule is required", ErrInvalidArguments)
	}

	res, err := ts.manager.CreateSeries(ctx, series.CreateSeriesInput{
		Name:    args.Name,
		Notes:   args.Notes,
		Urgency: args.Urgency,
		Tags:    args.Tags,
		DueDate: args.DueDate,
		Rule:    *args.Rule,
	})
	if err != nil {
		return nil, err
	}
	return textResult(renderResult(actionCreate, res), payload(res)), nil
}

func (ts *Toolset) taskAction(action string, fn func(context.Context, taskArgs) (*series.Result, error)) handlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (*CallToolResult, error) {
		var args taskArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		if err := required("taskId", args.TaskID); err != nil {
			return nil, err
		}
		action := action
		if action == actionDelete && args.Permanent {
			action = actionPurge
		}
		res, err := fn(ctx, args)
		if err != nil {
			return nil, partialError(action, res, err)
		}
		return textResult(renderResult(action, res), payload(res)), nil
	}
}

func (ts *Toolset) seriesAction(action string, fn func(context.Context, string) (*series.Result, error)) handlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (*CallToolResult, error) {
		var args seriesArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		if err := required("id", args.ID); err != nil {
			return nil, err
		}
		res, err := fn(ctx, args.ID)
		if err != nil {
			return nil, partialError(action, res, err)
		}
		return textResult(renderResult(action, res), payload(res)), nil
	}
}

func (ts *Toolset) updateRecurrence(ctx context.Context, raw json.RawMessage) (*CallToolResult, error) {
	var args updateRuleArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := required("id", args.ID); err != nil {
		return nil, err
	}
	if args.Rule == nil {
		return nil, fmt.Errorf("%w: rule is required", ErrInvalidArguments)
	}

	res, err := ts.manager.UpdateRule(ctx, args.ID, *args.Rule)
	if err != nil {
		return nil, partialError(actionUpdateRule, res, err)
	}
	return textResult(renderResult(actionUpdateRule, res), payload(res)), nil
}

func (ts *Toolset) getSeries(ctx context.Context, raw json.RawMessage) (*CallToolResult, error) {
	var args seriesArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := required("id", args.ID); err != nil {
		return nil, err
	}

	view, err := ts.manager.Get(ctx, args.ID)
	if err != nil {
		return nil, err
	}
	return textResult(renderView(view), payload(view)), nil
}

// PreviewResult lists the dates a rule would produce for a series whose first
// occurrence falls on From.
type PreviewResult struct {
	Summary string      `json:"summary"`
	From    time.Time   `json:"from"`
	Dates   []time.Time `json:"dates"`
	Ends    bool        `json:"ends"`
}

func (ts *Toolset) previewRecurrence(_ context.Context, raw json.RawMessage) (*CallToolResult, error) {
	var args previewArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Rule == nil {
		return nil, fmt.Errorf("%w: rule is required", ErrInvalidArguments)
	}

	count := args.Count
	if count <= 0 {
		count = defaultPreviewCount
	}
	if count > maxPreviewCount {
		count = maxPreviewCount
	}

	from := args.From
	if strings.TrimSpace(from) == "" {
		from = "today"
	}
	first, ok := dates.ParseDate(from, ts.manager.Now())
	if !ok {
		return nil, fmt.Errorf("%w: unrecognized date %q", ErrInvalidArguments, from)
	}

	rule := args.Rule.Normalize()
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if end, ok := rule.End.(recurrence.OnDate); ok && dates.DayAfter(first, end.Date) {
		return nil, fmt.Errorf("%w: end date is before %s", ErrInvalidArguments, dates.FormatDate(&first))
	}

	list := recurrence.Dates(rule, first, count)

	result := &PreviewResult{
		Summary: recurrence.Summary(rule),
		From:    first,
		Dates:   list,
		Ends:    len(list) < count,
	}
	return textResult(renderPreview(result), payload(result)), nil
}

// partialError keeps the part of an action that was applied visible when a later step
// failed.
func partialError(action string, res *series.Result, err error) error {
	if res == nil || res.Task == nil {
		return err
	}
	return fmt.Errorf("%w (%s was applied to %q; the next occurrence is created on the next reconciliation)",
		err, action, res.Task.Name)
}

func (ts *Toolset) all() []tool {
	m := ts.manager
	return []tool{
		{
			def: Tool{
				Name:        "create_recurring_task",
				Description: "Create a repeating task. The first occurrence is due on dueDate; later ones follow the rule.",
				InputSchema: objectSchema(map[string]any{
					"name":    stringProp("Task name"),
					"notes":   stringProp("Plain-text notes; markup is stripped"),
					"urgency": map[string]any{"type": "integer", "minimum": 0, "maximum": series.MaxUrgency, "description": "0 (none) to 3 (high)"},
					"tags":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"dueDate": stringProp("First due date: today, tomorrow, yesterday or YYYY-MM-DD"),
					"rule":    ruleSchema(),
				}, "name", "dueDate", "rule"),
			},
			handle: ts.createRecurringTask,
		},
		{
			def: Tool{
				Name:        "complete_task",
				Description: "Mark a task completed. Completing an occurrence of a recurring series creates the next occurrence.",
				InputSchema: objectSchema(map[string]any{"taskId": stringProp("Task ID")}, "taskId"),
			},
			handle: ts.taskAction(actionComplete, func(ctx context.Context, a taskArgs) (*series.Result, error) {
				return m.Complete(ctx, a.TaskID)
			}),
		},
		{
			def: Tool{
				Name:        "skip_occurrence",
				Description: "Skip one occurrence of a recurring series and create the next one from its due date.",
				InputSchema: objectSchema(map[string]any{"taskId": stringProp("Occurrence task ID")}, "taskId"),
			},
			handle: ts.taskAction(actionSkip, func(ctx context.Context, a taskArgs) (*series.Result, error) {
				return m.Skip(ctx, a.TaskID)
			}),
		},
		{
			def: Tool{
				Name:        "delete_task",
				Description: "Move a task to the trash, or remove it for good with permanent. Trashing the open occurrence of a series creates the next one.",
				InputSchema: objectSchema(map[string]any{
					"taskId":    stringProp("Task ID"),
					"permanent": map[string]any{"type": "boolean", "description": "Remove the task instead of trashing it"},
				}, "taskId"),
			},
			handle: ts.taskAction(actionDelete, func(ctx context.Context, a taskArgs) (*series.Result, error) {
				return m.Delete(ctx, a.TaskID, a.Permanent)
			}),
		},
		{
			def: Tool{
				Name:        "pause_series",
				Description: "Pause a recurring series. No new occurrences are created until it is resumed.",
				InputSchema: objectSchema(map[string]any{"id": seriesIDProp()}, "id"),
			},
			handle: ts.seriesAction(actionPause, m.Pause),
		},
		{
			def: Tool{
				Name:        "resume_series",
				Description: "Resume a paused series, creating its next occurrence if none is open.",
				InputSchema: objectSchema(map[string]any{"id": seriesIDProp()}, "id"),
			},
			handle: ts.seriesAction(actionResume, m.Resume),
		},
		{
			def: Tool{
				Name:        "end_series",
				Description: "End a recurring series permanently. An open occurrence stays on the list.",
				InputSchema: objectSchema(map[string]any{"id": seriesIDProp()}, "id"),
			},
			handle: ts.seriesAction(actionEnd, m.End),
		},
		{
			def: Tool{
				Name:        "get_series",
				Description: "Show a recurring series: its rule, status, open occurrence, history and upcoming dates.",
				InputSchema: objectSchema(map[string]any{"id": seriesIDProp()}, "id"),
			},
			handle: ts.getSeries,
		},
		{
			def: Tool{
				Name:        "update_recurrence",
				Description: "Replace the recurrence rule of a series that has not ended.",
				InputSchema: objectSchema(map[string]any{"id": seriesIDProp(), "rule": ruleSchema()}, "id", "rule"),
			},
			handle: ts.updateRecurrence,
		},
		{
			def: Tool{
				Name:        "preview_recurrence",
				Description: "List the dates a rule would produce, starting from a first due date. Nothing is stored.",
				InputSchema: objectSchema(map[string]any{
					"rule":  ruleSchema(),
					"from":  stringProp("First due date (default today)"),
					"count": map[string]any{"type": "integer", "minimum": 1, "maximum": maxPreviewCount, "description": "Number of dates including the first (default 5)"},
				}, "rule"),
			},
			handle: ts.previewRecurrence,
		},
	}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func seriesIDProp() map[string]any {
	return stringProp("Series ID, template ID, or the ID of any occurrence")
}

func ruleSchema() map[string]any {
	return map[string]any{
		"type":        "object",
		"description": "Recurrence rule",
		"properties": map[string]any{
			"frequency": map[string]any{"type": "string", "enum": []string{"daily", "weekly", "monthly", "yearly"}},
			"interval":  map[string]any{"type": "integer", "minimum": 1, "description": "Repeat every N periods (default 1)"},
			"weekdays": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "integer", "minimum": 1, "maximum": 7},
				"description": "Weekly only: 1=Sunday through 7=Saturday",
			},
			"monthlyMode":    map[string]any{"type": "string", "enum": []string{"dayOfMonth", "ordinalWeekday"}, "description": "Monthly only; yearly rules use dayOfMonth"},
			"dayOfMonth":     map[string]any{"type": "integer", "minimum": 1, "maximum": 31, "description": "Clamped to the month's length"},
			"ordinalWeek":    map[string]any{"type": "integer", "description": "1-5, or -1 for the last"},
			"ordinalWeekday": map[string]any{"type": "integer", "minimum": 1, "maximum": 7},
			"monthOfYear":    map[string]any{"type": "integer", "minimum": 1, "maximum": 12, "description": "Yearly only"},
			"anchor": map[string]any{
				"type":        "string",
				"enum":        []string{"scheduledDueDate", "completionDate"},
				"description": "Count the next date from the due date (default) or from the completion day",
			},
			"endCondition": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type":  map[string]any{"type": "string", "enum": []string{"never", "afterOccurrences", "onDate"}},
					"count": map[string]any{"type": "integer", "minimum": 1},
					"date":  map[string]any{"type": "string", "description": "YYYY-MM-DD, inclusive"},
				},
			},
		},
		"required": []string{"frequency"},
	}
}
