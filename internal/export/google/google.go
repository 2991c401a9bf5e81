// Package google mirrors transactions into a Google Sheets
// spreadsheet using service account credentials.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"tally/internal/core"
	"tally/internal/export"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

// Ensure interface conformance
var _ export.RowAppender = (*Client)(nil)

// Config for the Sheets client. Exactly one of CredentialsJSON or
// CredentialsFile must be set; when both are empty application default
// credentials are used.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	sheetName := strings.TrimSpace(cfg.SheetName)
	if sheetName == "" {
		sheetName = "Transactions"
	}

	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     sheetName,
	}, nil
}

func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	var credentialsJSON []byte
	switch {
	case cfg.CredentialsJSON != "":
		credentialsJSON = []byte(cfg.CredentialsJSON)
	case cfg.CredentialsFile != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		credentialsJSON = data
	default:
		// Fall back to application default credentials.
		return gsheet.NewService(ctx, goption.WithScopes(gsheet.SpreadsheetsScope))
	}

	return gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
}

// AppendTransaction appends one row per transaction:
// id, date, type, amount, category, description, group id.
func (c *Client) AppendTransaction(ctx context.Context, t core.Transaction) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	row := []any{
		t.ID,
		t.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		string(t.Type),
		t.Amount.StringFixed(2),
		t.Category,
		t.Description,
		t.GroupID,
	}

	rng := fmt.Sprintf("%s!A:G", c.sheetName)
	vr := &gsheet.ValueRange{Values: [][]any{row}}

	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", c.sheetName, err)
	}

	ref := rng
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	return ref, nil
}
