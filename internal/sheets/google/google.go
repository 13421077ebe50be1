// Package google writes the transaction journal to a Google spreadsheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gsheet "google.golang.org/api/sheets/v4"

	"envelopes/internal/core"
	ports "envelopes/internal/sheets"
)

const defaultJournalSheet = "Journal"

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// Base name without year; each transaction goes to "<year> <base>".
	journalBase string
}

var _ ports.Journal = (*Client)(nil)

type Config struct {
	SpreadsheetID string
	SheetName     string
}

// New creates a Sheets client authenticated with credentials taken from
// the environment (see tokenSource).
func New(ctx context.Context, cfg Config) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = defaultJournalSheet
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, journalBase: base}, nil
}

// AppendTransaction writes the transaction as one row of the journal sheet
// for the transaction's year.
func (c *Client) AppendTransaction(ctx context.Context, t core.Transaction) (string, error) {
	if t.ID == 0 || t.Source == nil {
		return "", fmt.Errorf("journal row needs a committed transaction")
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	sheet := yearPrefixedName(c.journalBase, t.Date.Year())
	rng := fmt.Sprintf("%s!A:H", sheet)
	vr := &gsheet.ValueRange{Values: [][]any{journalRow(t)}}

	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheet, err)
	}

	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		return resp.Updates.UpdatedRange, nil
	}
	return rng, nil
}

// ListTransactionIDs reads the id column of the journal sheet for year.
func (c *Client) ListTransactionIDs(ctx context.Context, year int) ([]int64, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}

	sheet := yearPrefixedName(c.journalBase, year)
	rng := fmt.Sprintf("%s!A2:A", sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return parseTransactionIDs(resp.Values), nil
}
