// Package sheets mirrors synced breakeven snapshots to a Google Sheet so
// fleet owners can audit driver performance without backend access.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"breakeven/internal/core"
)

// Config locates the target spreadsheet and the service account that may
// write to it. Exactly one of CredentialsJSON or CredentialsFile must be
// set.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

// New creates a Sheets exporter using service account credentials.
func New(ctx context.Context, cfg Config) (*Exporter, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	sheetName := strings.TrimSpace(cfg.SheetName)
	if sheetName == "" {
		sheetName = "Snapshots"
	}

	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Exporter{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     sheetName,
	}, nil
}

func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	var credentialsJSON []byte

	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		credentialsJSON = []byte(cfg.CredentialsJSON)
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = data
	default:
		return nil, errors.New("missing service account credentials")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// Append writes one snapshot as a row. Rows are append-only; the backend
// history table stays the deduplicated source of truth, the sheet is an
// audit trail.
func (e *Exporter) Append(ctx context.Context, snap core.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if e.svc == nil {
		return errors.New("sheets service not initialized")
	}

	expenses, _ := snap.Expenses.Float64()
	revenue, _ := snap.RevenueDriver.Float64()
	profit, _ := snap.Profit.Float64()

	rng := fmt.Sprintf("%s!A:J", e.sheetName)
	vr := &gsheet.ValueRange{Values: [][]any{{
		snap.DriverID,
		string(snap.PeriodType),
		snap.PeriodStart.Format(time.RFC3339),
		snap.PeriodEnd.Format(time.RFC3339),
		expenses,
		revenue,
		profit,
		snap.RidesNeeded,
		snap.RidesDone,
		snap.SnapshotAt.Format(time.RFC3339),
	}}}

	_, err := e.svc.Spreadsheets.Values.Append(e.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append to sheet %s: %w", e.sheetName, err)
	}
	return nil
}
