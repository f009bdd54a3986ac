package reporting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
	repo "github.com/mamadbah2/wagonmaint/internal/repository/sheets"
)

const (
	dateLayout    = "2006-01-02"
	failedListCap = 500
)

// AuditSource reads the notification audit trail.
type AuditSource interface {
	Stats(ctx context.Context) (models.NotificationStats, error)
	List(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationRecord, error)
}

// ReportStore persists generated reports.
type ReportStore interface {
	SaveDeliveryReport(ctx context.Context, report models.DeliveryReport) error
}

// Service builds the daily delivery report and exports it.
type Service struct {
	source AuditSource
	store  ReportStore
	sheet  repo.Repository
	loc    *time.Location
	logger *zap.Logger
}

// NewService wires a new reporting service instance. store and sheet are
// optional.
func NewService(source AuditSource, store ReportStore, sheet repo.Repository, loc *time.Location, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{source: source, store: store, sheet: sheet, loc: loc, logger: logger}
}

// BuildDailyReport snapshots the stats and lists records that failed on the
// day of now.
func (s *Service) BuildDailyReport(ctx context.Context, now time.Time) (models.DeliveryReport, error) {
	stats, err := s.source.Stats(ctx)
	if err != nil {
		return models.DeliveryReport{}, fmt.Errorf("load notification stats: %w", err)
	}

	now = now.In(s.loc)
	y, m, d := now.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, s.loc)

	report := models.DeliveryReport{
		Date:              day,
		Total:             stats.Total,
		SentToday:         stats.SentToday,
		ByStatusAndTarget: stats.ByStatusAndTarget,
		FailedRecords:     []models.FailedDelivery{},
		CreatedAt:         now,
	}
	for _, bucket := range stats.ByStatusAndTarget {
		switch bucket.Status {
		case models.NotificationPending:
			report.Pending += bucket.Count
		case models.NotificationSent:
			report.Sent += bucket.Count
		case models.NotificationFailed:
			report.Failed += bucket.Count
		}
	}

	failed, err := s.source.List(ctx, models.NotificationFilter{Status: models.NotificationFailed, Limit: failedListCap})
	if err != nil {
		return models.DeliveryReport{}, fmt.Errorf("list failed notifications: %w", err)
	}
	for _, rec := range failed {
		if rec.UpdatedAt.Before(day) {
			continue
		}
		report.FailedRecords = append(report.FailedRecords, models.FailedDelivery{
			NotificationID: rec.ID,
			EventType:      rec.EventType,
			EventID:        rec.EventID,
			Target:         rec.Target,
			HTTPStatusCode: rec.HTTPStatusCode,
			ErrorMessage:   rec.ErrorMessage,
			RetryCount:     rec.RetryCount,
			UpdatedAt:      rec.UpdatedAt,
		})
	}

	return report, nil
}

// ExportDailyReport builds the report of now and sends it to every
// configured sink. A day already present in the sheet is not appended again.
func (s *Service) ExportDailyReport(ctx context.Context, now time.Time) (models.DeliveryReport, error) {
	report, err := s.BuildDailyReport(ctx, now)
	if err != nil {
		return models.DeliveryReport{}, err
	}

	if s.store != nil {
		if err := s.store.SaveDeliveryReport(ctx, report); err != nil {
			return report, fmt.Errorf("save delivery report: %w", err)
		}
	}

	if s.sheet != nil {
		if err := s.exportToSheet(ctx, report); err != nil {
			return report, err
		}
	}

	s.logger.Info("delivery report exported", zap.String("summary", Summary(report)))
	return report, nil
}

func (s *Service) exportToSheet(ctx context.Context, report models.DeliveryReport) error {
	date := report.Date.Format(dateLayout)

	exported, err := s.sheet.ExportedDates(ctx)
	if err != nil {
		return fmt.Errorf("load exported dates: %w", err)
	}
	if _, ok := exported[date]; ok {
		s.logger.Info("delivery report already exported", zap.String("date", date))
		return nil
	}

	summary := []interface{}{date, report.Total, report.Pending, report.Sent, report.Failed, report.SentToday}
	if err := s.sheet.AppendSummary(ctx, summary); err != nil {
		return fmt.Errorf("export summary: %w", err)
	}

	failed := make([][]interface{}, 0, len(report.FailedRecords))
	for _, f := range report.FailedRecords {
		failed = append(failed, []interface{}{
			date,
			f.NotificationID,
			string(f.EventType),
			f.EventID,
			string(f.Target),
			f.HTTPStatusCode,
			f.RetryCount,
			f.ErrorMessage,
		})
	}
	if err := s.sheet.AppendFailures(ctx, failed); err != nil {
		return fmt.Errorf("export failed deliveries: %w", err)
	}
	return nil
}

// Summary renders a one-line operator summary of a report.
func Summary(report models.DeliveryReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Notifications %s: %d total, %d pending, %d sent (%d today), %d failed",
		report.Date.Format(dateLayout), report.Total, report.Pending, report.Sent, report.SentToday, report.Failed)
	if n := len(report.FailedRecords); n > 0 {
		fmt.Fprintf(&b, "; %d failed today", n)
	}
	return b.String()
}
