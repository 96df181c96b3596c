package series

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/watzon/cadence/internal/dates"
	"github.com/watzon/cadence/internal/metrics"
)

// Reconcile gives an open occurrence to every active series flagged as needing repair.
// Lifecycle operations flag a series before closing its open occurrence and clear the
// flag once the next one exists, so a flagged series is one where a store write failed
// in between. Series emptied on purpose, by permanently deleting the open occurrence,
// are never flagged and are left alone.
//
// The next date is anchored on the latest occurrence, and the occurrence counter is
// rebuilt from that occurrence's index so a counter saved before the failed insert is
// not counted twice.
func (m *Manager) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	templates, err := m.repo.flaggedTemplates(ctx)
	if err != nil {
		metrics.RecordReconcile(0, err)
		return nil, err
	}

	report := &ReconcileReport{}
	for _, t := range templates {
		if err := ctx.Err(); err != nil {
			metrics.RecordReconcile(report.Repaired, err)
			return report, err
		}

		report.Checked++
		outcome, err := m.reconcileSeries(ctx, t.SeriesID)
		if err != nil {
			report.Failed++
			log.Error().Err(err).Str("series_id", t.SeriesID).Msg("Failed to reconcile series")
			continue
		}

		switch outcome {
		case OutcomeNextCreated:
			report.Repaired++
		case OutcomeSeriesEnded:
			report.Ended++
		case OutcomeRuleInvalid:
			report.Skipped++
		}
	}

	if report.Repaired > 0 || report.Ended > 0 || report.Failed > 0 {
		log.Info().
			Int("checked", report.Checked).
			Int("repaired", report.Repaired).
			Int("ended", report.Ended).
			Int("failed", report.Failed).
			Msg("Reconciliation finished")
	}
	metrics.RecordReconcile(report.Repaired, nil)

	return report, nil
}

func (m *Manager) reconcileSeries(ctx context.Context, seriesID string) (Outcome, error) {
	unlock := m.locks.Lock(seriesID)
	defer unlock()

	open, err := m.repo.openOccurrence(ctx, seriesID)
	if err != nil {
		return "", err
	}
	if open != nil {
		return OutcomeAlreadyOpen, m.repo.markRepair(ctx, seriesID, false)
	}

	latest, err := m.repo.latestOccurrence(ctx, seriesID)
	if err != nil {
		return "", err
	}

	now := m.now()
	trig := trigger{action: "reconcile", due: dates.Noon(now)}
	if latest != nil {
		trig.due = dueOrNow(latest, now)
		trig.generated = latest.OccurrenceIndex
		if latest.Completed && latest.CompletedAt != nil {
			trig.completedAt = dates.Noon(*latest.CompletedAt)
		}
	} else {
		template, err := m.repo.template(ctx, seriesID)
		if err != nil && !errors.Is(err, ErrNotInSeries) {
			return "", err
		}
		if template != nil && template.DueDate != nil {
			trig.due = *template.DueDate
		}
	}

	res := &Result{}
	if err := m.advance(ctx, seriesID, trig, res); err != nil {
		return "", err
	}
	return res.Outcome, nil
}
