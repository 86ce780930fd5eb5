package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"tally/internal/core"
	ports "tally/internal/sheets"

	"golang.org/x/oauth2"
	gauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// defaultCacheTTL bounds how long an externally edited sheet can go
// unnoticed before the next append re-reads the row count.
const defaultCacheTTL = time.Minute

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// Base tab name without year (e.g. "Transactions"); rows land on the
	// year-prefixed tab for their timestamp.
	sheetBase string

	// Row-count cache so consecutive appends skip the dimension read.
	mu                 sync.Mutex
	cachedSheet        string
	cachedRowCount     int
	cacheExpiresAt     time.Time
	cacheValidDuration time.Duration
}

// Ensure interface conformance
var _ ports.RowWriter = (*Client)(nil)

// jsonUnmarshal is indirected for tests.
var jsonUnmarshal = json.Unmarshal

// NewFromEnv creates a Sheets client using environment variables.
// Required: GOOGLE_SPREADSHEET_ID
// Auth: GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE plus
// GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE (see cmd/oauth-init).
// Optional: GOOGLE_SHEET_NAME, the base tab name (default "Transactions").
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	sheetBase := strings.TrimSpace(os.Getenv("GOOGLE_SHEET_NAME"))
	if sheetBase == "" {
		sheetBase = "Transactions"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:                svc,
		spreadsheetID:      spreadsheetID,
		sheetBase:          sheetBase,
		cacheValidDuration: defaultCacheTTL,
	}, nil
}

// newSheetsService initializes a Sheets service from the OAuth client and
// token produced by cmd/oauth-init. Inline JSON takes precedence over files.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	clientJSON := strings.TrimSpace(os.Getenv("GOOGLE_OAUTH_CLIENT_JSON"))
	clientFile := strings.TrimSpace(os.Getenv("GOOGLE_OAUTH_CLIENT_FILE"))

	var clientBytes []byte
	var err error
	switch {
	case clientJSON != "":
		clientBytes = []byte(clientJSON)
	case clientFile != "":
		clientBytes, err = os.ReadFile(clientFile)
		if err != nil {
			return nil, fmt.Errorf("read oauth client file: %w", err)
		}
	default:
		return nil, errors.New("missing oauth client (set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE)")
	}

	cfg, err := gauth.ConfigFromJSON(clientBytes, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}

	tokenJSON := strings.TrimSpace(os.Getenv("GOOGLE_OAUTH_TOKEN_JSON"))
	tokenFile := strings.TrimSpace(os.Getenv("GOOGLE_OAUTH_TOKEN_FILE"))

	var tokenBytes []byte
	switch {
	case tokenJSON != "":
		tokenBytes = []byte(tokenJSON)
	case tokenFile != "":
		tokenBytes, err = os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("read oauth token file: %w", err)
		}
	default:
		return nil, errors.New("missing oauth token (set GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE)")
	}

	var token oauth2.Token
	if err := jsonUnmarshal(tokenBytes, &token); err != nil {
		return nil, fmt.Errorf("oauth token: %w", err)
	}

	service, err := gsheet.NewService(ctx, goption.WithHTTPClient(cfg.Client(ctx, &token)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets service ready")
	return service, nil
}

// Append mirrors one ledger entry onto the year tab for its timestamp.
func (c *Client) Append(ctx context.Context, tx core.Transaction) (string, error) {
	if err := tx.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	sheet := yearPrefixedName(c.sheetBase, tx.Timestamp.UTC().Year())

	row, err := c.nextRow(ctx, sheet)
	if err != nil {
		return "", err
	}

	dataRange := fmt.Sprintf("%s!A%d:H%d", sheet, row, row)
	vr := &gsheet.ValueRange{Values: [][]any{mirrorRow(tx)}}

	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, dataRange, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		c.InvalidateRowCache()
		return "", fmt.Errorf("failed to update %s: %w", dataRange, err)
	}

	c.bumpRowCount(sheet)
	return dataRange, nil
}

// mirrorRow flattens a ledger entry into the A:H column layout:
// id, date, description, amount, category, payment method, notes, reversal id.
func mirrorRow(tx core.Transaction) []any {
	reversal := ""
	if tx.ReversalOf > 0 {
		reversal = strconv.FormatInt(tx.ReversalOf, 10)
	}
	return []any{
		tx.ID,
		tx.Timestamp.UTC().Format("2006-01-02"),
		tx.Description,
		float64(tx.Amount.Cents) / 100.0,
		string(tx.Category),
		string(tx.PaymentMethod),
		tx.Notes,
		reversal,
	}
}

// nextRow returns the 1-based row index the next append should write to,
// re-reading the sheet dimensions only when the cache has expired or the
// target tab changed.
func (c *Client) nextRow(ctx context.Context, sheet string) (int, error) {
	c.mu.Lock()
	if sheet == c.cachedSheet && time.Now().Before(c.cacheExpiresAt) {
		n := c.cachedRowCount + 1
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()

	rng := fmt.Sprintf("%s!A:A", sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to get sheet dimensions for %s: %w", sheet, err)
	}
	count := len(resp.Values)

	c.mu.Lock()
	c.cachedSheet = sheet
	c.cachedRowCount = count
	c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)
	c.mu.Unlock()

	return count + 1, nil
}

func (c *Client) bumpRowCount(sheet string) {
	c.mu.Lock()
	if sheet == c.cachedSheet {
		c.cachedRowCount++
	}
	c.mu.Unlock()
}

// InvalidateRowCache forces the next append to re-read sheet dimensions; a
// failed update leaves the true row count unknown.
func (c *Client) InvalidateRowCache() {
	c.mu.Lock()
	c.cacheExpiresAt = time.Time{}
	c.mu.Unlock()
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
