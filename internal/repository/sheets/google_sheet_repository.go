package sheets

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/mamadbah2/wagonmaint/internal/config"
)

// Tabs of the delivery audit workbook.
const (
	SummaryTab = "Summary"
	FailedTab  = "Failed"
)

var headers = map[string][]interface{}{
	SummaryTab: {"date", "total", "pending", "sent", "failed", "sent_today"},
	FailedTab:  {"date", "notification_id", "event_type", "event_id", "target_erp", "http_status_code", "retry_count", "error_message"},
}

// Repository is the delivery audit workbook: one summary row per day and one
// row per failed notification.
type Repository interface {
	ExportedDates(ctx context.Context) (map[string]struct{}, error)
	AppendSummary(ctx context.Context, row []interface{}) error
	AppendFailures(ctx context.Context, rows [][]interface{}) error
}

// GoogleSheetRepository implements Repository on the Google Sheets API.
// Missing tabs are created with their header row on first use.
type GoogleSheetRepository struct {
	service       *sheetsapi.Service
	spreadsheetID string
	logger        *zap.Logger

	mu    sync.Mutex
	ready bool
}

// NewGoogleSheetRepository builds a repository from a service account file.
func NewGoogleSheetRepository(ctx context.Context, cfg config.SheetsConfig, logger *zap.Logger) (*GoogleSheetRepository, error) {
	service, err := sheetsapi.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsPath), option.WithScopes(sheetsapi.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sheets client: %w", err)
	}
	return NewGoogleSheetRepositoryWithService(service, cfg.SpreadsheetID, logger), nil
}

// NewGoogleSheetRepositoryWithService wraps an existing Sheets service.
func NewGoogleSheetRepositoryWithService(service *sheetsapi.Service, spreadsheetID string, logger *zap.Logger) *GoogleSheetRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoogleSheetRepository{service: service, spreadsheetID: spreadsheetID, logger: logger}
}

// ExportedDates returns the dates already present in the summary tab.
func (r *GoogleSheetRepository) ExportedDates(ctx context.Context) (map[string]struct{}, error) {
	if err := r.ensureLayout(ctx); err != nil {
		return nil, err
	}

	resp, err := r.service.Spreadsheets.Values.Get(r.spreadsheetID, SummaryTab+"!A2:A").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read exported dates: %w", err)
	}

	dates := make(map[string]struct{}, len(resp.Values))
	for _, row := range resp.Values {
		if len(row) > 0 {
			dates[fmt.Sprint(row[0])] = struct{}{}
		}
	}
	return dates, nil
}

// AppendSummary appends one daily summary row.
func (r *GoogleSheetRepository) AppendSummary(ctx context.Context, row []interface{}) error {
	return r.append(ctx, SummaryTab, [][]interface{}{row})
}

// AppendFailures appends failed delivery rows.
func (r *GoogleSheetRepository) AppendFailures(ctx context.Context, rows [][]interface{}) error {
	return r.append(ctx, FailedTab, rows)
}

func (r *GoogleSheetRepository) append(ctx context.Context, tab string, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	if err := r.ensureLayout(ctx); err != nil {
		return err
	}

	call := r.service.Spreadsheets.Values.Append(r.spreadsheetID, tabRange(tab), &sheetsapi.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx)
	if _, err := call.Do(); err != nil {
		return fmt.Errorf("append rows into %s: %w", tab, err)
	}

	r.logger.Debug("rows appended to sheet", zap.String("tab", tab), zap.Int("rows", len(rows)))
	return nil
}

// ensureLayout adds the audit tabs that do not exist yet, each with its
// header row. A failed attempt is retried on the next call.
func (r *GoogleSheetRepository) ensureLayout(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready {
		return nil
	}

	spreadsheet, err := r.service.Spreadsheets.Get(r.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("load spreadsheet %s: %w", r.spreadsheetID, err)
	}
	existing := make([]string, 0, len(spreadsheet.Sheets))
	for _, sh := range spreadsheet.Sheets {
		if sh.Properties != nil {
			existing = append(existing, sh.Properties.Title)
		}
	}

	missing := missingTabs(existing)
	if len(missing) > 0 {
		requests := make([]*sheetsapi.Request, 0, len(missing))
		for _, tab := range missing {
			requests = append(requests, &sheetsapi.Request{
				AddSheet: &sheetsapi.AddSheetRequest{Properties: &sheetsapi.SheetProperties{Title: tab}},
			})
		}
		if _, err := r.service.Spreadsheets.BatchUpdate(r.spreadsheetID, &sheetsapi.BatchUpdateSpreadsheetRequest{Requests: requests}).Context(ctx).Do(); err != nil {
			return fmt.Errorf("add audit tabs: %w", err)
		}

		for _, tab := range missing {
			header := &sheetsapi.ValueRange{Values: [][]interface{}{headers[tab]}}
			if _, err := r.service.Spreadsheets.Values.Update(r.spreadsheetID, tab+"!A1", header).ValueInputOption("RAW").Context(ctx).Do(); err != nil {
				return fmt.Errorf("write %s header: %w", tab, err)
			}
		}
		r.logger.Info("audit tabs created", zap.Strings("tabs", missing))
	}

	r.ready = true
	return nil
}

func missingTabs(existing []string) []string {
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[t] = true
	}
	var out []string
	for _, tab := range []string{SummaryTab, FailedTab} {
		if !have[tab] {
			out = append(out, tab)
		}
	}
	return out
}

func tabRange(tab string) string {
	return fmt.Sprintf("%s!A:%c", tab, 'A'+len(headers[tab])-1)
}
