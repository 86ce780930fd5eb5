package google

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"tally/internal/core"

	"golang.org/x/oauth2"
)

func TestNewFromEnv_MissingSpreadsheetID(t *testing.T) {
	// Clear environment
	oldID := os.Getenv("GOOGLE_SPREADSHEET_ID")
	defer os.Setenv("GOOGLE_SPREADSHEET_ID", oldID)
	os.Unsetenv("GOOGLE_SPREADSHEET_ID")

	_, err := NewFromEnv(context.Background())
	if err == nil {
		t.Fatal("expected error for missing GOOGLE_SPREADSHEET_ID")
	}
	if err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewFromEnv_InvalidClientJSON(t *testing.T) {
	// Verify we fail gracefully with invalid JSON rather than exercising the
	// full OAuth flow, which would require real credentials.
	oldID := os.Getenv("GOOGLE_SPREADSHEET_ID")
	oldClient := os.Getenv("GOOGLE_OAUTH_CLIENT_JSON")
	oldToken := os.Getenv("GOOGLE_OAUTH_TOKEN_JSON")
	defer func() {
		os.Setenv("GOOGLE_SPREADSHEET_ID", oldID)
		os.Setenv("GOOGLE_OAUTH_CLIENT_JSON", oldClient)
		os.Setenv("GOOGLE_OAUTH_TOKEN_JSON", oldToken)
	}()

	os.Setenv("GOOGLE_SPREADSHEET_ID", "test-id")
	os.Setenv("GOOGLE_OAUTH_CLIENT_JSON", `invalid-json`)
	os.Setenv("GOOGLE_OAUTH_TOKEN_JSON", `{"access_token":"test"}`)

	_, err := NewFromEnv(context.Background())
	if err == nil {
		t.Fatal("expected error with invalid JSON")
	}
	if !strings.Contains(err.Error(), "oauth config") {
		t.Errorf("expected oauth config error, got: %v", err)
	}
}

func TestNewSheetsService_MissingOAuthClient(t *testing.T) {
	// Clear all oauth env vars
	oldVars := map[string]string{
		"GOOGLE_OAUTH_CLIENT_JSON": os.Getenv("GOOGLE_OAUTH_CLIENT_JSON"),
		"GOOGLE_OAUTH_CLIENT_FILE": os.Getenv("GOOGLE_OAUTH_CLIENT_FILE"),
		"GOOGLE_OAUTH_TOKEN_JSON":  os.Getenv("GOOGLE_OAUTH_TOKEN_JSON"),
		"GOOGLE_OAUTH_TOKEN_FILE":  os.Getenv("GOOGLE_OAUTH_TOKEN_FILE"),
	}
	defer func() {
		for k, v := range oldVars {
			os.Setenv(k, v)
		}
	}()

	for k := range oldVars {
		os.Unsetenv(k)
	}

	_, err := newSheetsService(context.Background())
	if err == nil {
		t.Fatal("expected error for missing oauth client")
	}
	expectedMsg := "missing oauth client (set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE)"
	if err.Error() != expectedMsg {
		t.Errorf("expected %q, got %q", expectedMsg, err.Error())
	}
}

func TestNewSheetsService_MissingOAuthToken(t *testing.T) {
	oldVars := map[string]string{
		"GOOGLE_OAUTH_CLIENT_JSON": os.Getenv("GOOGLE_OAUTH_CLIENT_JSON"),
		"GOOGLE_OAUTH_TOKEN_JSON":  os.Getenv("GOOGLE_OAUTH_TOKEN_JSON"),
		"GOOGLE_OAUTH_TOKEN_FILE":  os.Getenv("GOOGLE_OAUTH_TOKEN_FILE"),
	}
	defer func() {
		for k, v := range oldVars {
			os.Setenv(k, v)
		}
	}()

	// Set client but not token
	os.Setenv("GOOGLE_OAUTH_CLIENT_JSON", `{"installed":{"client_id":"test","client_secret":"test","redirect_uris":["http://localhost"],"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token"}}`)
	os.Unsetenv("GOOGLE_OAUTH_TOKEN_JSON")
	os.Unsetenv("GOOGLE_OAUTH_TOKEN_FILE")

	_, err := newSheetsService(context.Background())
	if err == nil {
		t.Fatal("expected error for missing oauth token")
	}
	expectedMsg := "missing oauth token (set GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE)"
	if err.Error() != expectedMsg {
		t.Errorf("expected %q, got %q", expectedMsg, err.Error())
	}
}

func TestOAuthCredentialParsing(t *testing.T) {
	oldVars := map[string]string{
		"GOOGLE_OAUTH_CLIENT_JSON": os.Getenv("GOOGLE_OAUTH_CLIENT_JSON"),
		"GOOGLE_OAUTH_CLIENT_FILE": os.Getenv("GOOGLE_OAUTH_CLIENT_FILE"),
		"GOOGLE_OAUTH_TOKEN_JSON":  os.Getenv("GOOGLE_OAUTH_TOKEN_JSON"),
		"GOOGLE_OAUTH_TOKEN_FILE":  os.Getenv("GOOGLE_OAUTH_TOKEN_FILE"),
	}
	defer func() {
		for k, v := range oldVars {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	// Valid client JSON but invalid token JSON
	os.Setenv("GOOGLE_OAUTH_CLIENT_JSON", `{"installed":{"client_id":"test","client_secret":"test","redirect_uris":["http://localhost"],"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token"}}`)
	os.Setenv("GOOGLE_OAUTH_TOKEN_JSON", `invalid-json`)
	os.Unsetenv("GOOGLE_OAUTH_CLIENT_FILE")
	os.Unsetenv("GOOGLE_OAUTH_TOKEN_FILE")

	_, err := newSheetsService(context.Background())
	if err == nil {
		t.Fatal("expected error with invalid token JSON")
	}
	if !strings.Contains(err.Error(), "oauth token") {
		t.Errorf("expected token parsing error, got: %v", err)
	}

	// Invalid client JSON
	os.Setenv("GOOGLE_OAUTH_CLIENT_JSON", `invalid-json`)
	os.Setenv("GOOGLE_OAUTH_TOKEN_JSON", `{"access_token":"test","token_type":"Bearer"}`)

	_, err = newSheetsService(context.Background())
	if err == nil {
		t.Fatal("expected error with invalid client JSON")
	}
	if !strings.Contains(err.Error(), "oauth config") {
		t.Errorf("expected client parsing error, got: %v", err)
	}
}

func TestJsonUnmarshalIndirection(t *testing.T) {
	data := []byte(`{"access_token":"test","token_type":"Bearer"}`)
	var token oauth2.Token

	err := jsonUnmarshal(data, &token)
	if err != nil {
		t.Fatalf("jsonUnmarshal failed: %v", err)
	}

	if token.AccessToken != "test" {
		t.Errorf("expected access token 'test', got %s", token.AccessToken)
	}

	invalidData := []byte(`{invalid json}`)
	err = jsonUnmarshal(invalidData, &token)
	if err == nil {
		t.Fatal("expected error with invalid JSON")
	}
}

func TestAppendRejectsBeforeCallingService(t *testing.T) {
	c := &Client{spreadsheetID: "test", sheetBase: "Transactions"} // svc is nil

	ts := time.Date(2026, time.March, 14, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		tx     core.Transaction
		wantIs error
		want   string
	}{
		{
			name: "valid entry stops at uninitialized service",
			tx: core.Transaction{
				Timestamp:     ts,
				Amount:        core.Money{Cents: 1850},
				Category:      core.CategoryFood,
				Description:   "lunch",
				PaymentMethod: core.PaymentCard,
			},
			want: "sheets service not initialized",
		},
		{
			name: "zero amount",
			tx: core.Transaction{
				Timestamp:     ts,
				Category:      core.CategoryFood,
				Description:   "lunch",
				PaymentMethod: core.PaymentCard,
			},
			wantIs: core.ErrInvalidAmount,
		},
		{
			name: "negative amount without reversal reference",
			tx: core.Transaction{
				Timestamp:     ts,
				Amount:        core.Money{Cents: -500},
				Category:      core.CategoryFood,
				Description:   "refund",
				PaymentMethod: core.PaymentCard,
			},
			wantIs: core.ErrInvalidAmount,
		},
		{
			name: "blank description",
			tx: core.Transaction{
				Timestamp:     ts,
				Amount:        core.Money{Cents: 1850},
				Category:      core.CategoryFood,
				Description:   "   ",
				PaymentMethod: core.PaymentCard,
			},
			wantIs: core.ErrEmptyDescription,
		},
		{
			name: "unknown category",
			tx: core.Transaction{
				Timestamp:     ts,
				Amount:        core.Money{Cents: 1850},
				Category:      core.Category("Gadgets"),
				Description:   "lunch",
				PaymentMethod: core.PaymentCard,
			},
			wantIs: core.ErrInvalidCategory,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Append(context.Background(), tt.tx)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("expected %v, got %v", tt.wantIs, err)
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %q", tt.want, err.Error())
			}
		})
	}
}

func TestMirrorRow(t *testing.T) {
	tx := core.Transaction{
		ID:            42,
		Timestamp:     time.Date(2026, time.March, 14, 23, 30, 0, 0, time.UTC),
		Amount:        core.Money{Cents: 1234},
		Category:      core.CategoryFood,
		Description:   "lunch at cafe",
		PaymentMethod: core.PaymentCard,
		Notes:         "team outing",
	}

	row := mirrorRow(tx)
	if len(row) != 8 {
		t.Fatalf("expected 8 columns, got %d", len(row))
	}
	if row[0] != int64(42) {
		t.Errorf("id column: got %v", row[0])
	}
	if row[1] != "2026-03-14" {
		t.Errorf("date column: got %v", row[1])
	}
	if row[2] != "lunch at cafe" {
		t.Errorf("description column: got %v", row[2])
	}
	if row[3] != 12.34 {
		t.Errorf("amount column: got %v", row[3])
	}
	if row[4] != "Food & Dining" {
		t.Errorf("category column: got %v", row[4])
	}
	if row[5] != "card" {
		t.Errorf("payment column: got %v", row[5])
	}
	if row[7] != "" {
		t.Errorf("reversal column should be blank for a spend, got %v", row[7])
	}

	reversal := core.Transaction{
		ID:            43,
		Timestamp:     tx.Timestamp,
		Amount:        core.Money{Cents: -1234},
		Category:      core.CategoryFood,
		Description:   "lunch at cafe",
		PaymentMethod: core.PaymentCard,
		ReversalOf:    42,
	}
	row = mirrorRow(reversal)
	if row[3] != -12.34 {
		t.Errorf("reversal amount column: got %v", row[3])
	}
	if row[7] != "42" {
		t.Errorf("reversal column: got %v", row[7])
	}
}

// Test year prefixed name function
func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		baseName string
		year     int
		expected string
	}{
		{"Transactions", 2026, "2026 Transactions"},
		{"Ledger", 2024, "2024 Ledger"},
		{"", 2023, ""}, // Empty base returns empty
		{"Test Sheet", 2022, "2022 Test Sheet"},
		{"2025 Already Prefixed", 2024, "2025 Already Prefixed"}, // Already has year prefix
	}

	for _, tt := range tests {
		got := yearPrefixedName(tt.baseName, tt.year)
		if got != tt.expected {
			t.Errorf("yearPrefixedName(%q, %d) = %q, want %q",
				tt.baseName, tt.year, got, tt.expected)
		}
	}
}
