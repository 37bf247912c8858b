package monitor

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/glosshq/glossgen/internal/domain"
)

func progressReport(snap *domain.ProgressSnapshot, now time.Time) *domain.StatusReport {
	body := fmt.Sprintf("%s of %s terms processed (%.1f%%), %s failed",
		humanize.Comma(int64(snap.ProcessedTerms)),
		humanize.Comma(int64(snap.TotalTerms)),
		snap.Percent,
		humanize.Comma(int64(snap.FailedTerms)))
	if snap.RatePerMinute > 0 {
		body += fmt.Sprintf(", %.1f terms/min", snap.RatePerMinute)
	}
	if snap.ETA > 0 {
		body += fmt.Sprintf(", about %s remaining", snap.ETA.Round(time.Second))
	}
	return &domain.StatusReport{
		OperationID: snap.OperationID,
		Kind:        domain.ReportProgress,
		Title:       fmt.Sprintf("operation %s progress", shortID(snap.OperationID)),
		Body:        body,
		GeneratedAt: now,
	}
}

func milestoneReport(snap *domain.ProgressSnapshot, milestone int, now time.Time) *domain.StatusReport {
	return &domain.StatusReport{
		OperationID: snap.OperationID,
		Kind:        domain.ReportMilestone,
		Title:       fmt.Sprintf("operation %s reached %d%%", shortID(snap.OperationID), milestone),
		Body: fmt.Sprintf("%s of %s terms done, $%s spent so far",
			humanize.Comma(int64(snap.ProcessedTerms)),
			humanize.Comma(int64(snap.TotalTerms)),
			humanize.CommafWithDigits(snap.ActualCost, 2)),
		GeneratedAt: now,
	}
}

func completionReport(op *domain.BatchOperation, now time.Time) *domain.StatusReport {
	kind := domain.ReportCompletion
	if op.Status == domain.StatusFailed {
		kind = domain.ReportError
	}

	body := fmt.Sprintf("%s processed, %s failed, %s skipped, $%s spent",
		humanize.Comma(int64(op.Progress.ProcessedTerms)),
		humanize.Comma(int64(op.Progress.FailedTerms)),
		humanize.Comma(int64(op.Progress.SkippedTerms)),
		humanize.CommafWithDigits(op.Costs.Actual, 2))
	if op.Result != nil {
		body += fmt.Sprintf(" in %s (%s)", op.Result.Duration.Round(time.Second), op.Result.Message)
	}
	return &domain.StatusReport{
		OperationID: op.ID,
		Kind:        kind,
		Title:       fmt.Sprintf("operation %s %s", shortID(op.ID), op.Status),
		Body:        body,
		GeneratedAt: now,
	}
}

func errorRateMessage(snap *domain.ProgressSnapshot) string {
	return fmt.Sprintf("error rate %.1f%% (%s of %s attempted terms failed)",
		snap.ErrorRate*100,
		humanize.Comma(int64(snap.FailedTerms)),
		humanize.Comma(int64(snap.ProcessedTerms+snap.FailedTerms)))
}

func slowRateMessage(snap *domain.ProgressSnapshot, threshold float64) string {
	return fmt.Sprintf("processing at %.1f terms/min, below the %.0f/min floor",
		snap.RatePerMinute, threshold)
}

func overrunMessage(op *domain.BatchOperation, factor float64) string {
	return fmt.Sprintf("actual cost $%s exceeds %.0f%% of the $%s estimate",
		humanize.CommafWithDigits(op.Costs.Actual, 2),
		factor*100,
		humanize.CommafWithDigits(op.Costs.Estimated, 2))
}

func staleMessage(op *domain.BatchOperation, now time.Time) string {
	return fmt.Sprintf("no activity for %s", now.Sub(op.Timing.LastActivity).Round(time.Second))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
