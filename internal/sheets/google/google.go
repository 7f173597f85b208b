package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"finanzas/internal/config"
	"finanzas/internal/export"
	"finanzas/internal/sheets"
)

const defaultTabCacheDuration = 5 * time.Minute

var errNoService = errors.New("sheets service not initialized")

// Options selects the spreadsheet and the OAuth credentials. Inline JSON
// wins over files.
type Options struct {
	SpreadsheetID string
	ClientJSON    string
	ClientFile    string
	TokenJSON     string
	TokenFile     string
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SpreadsheetID: strings.TrimSpace(cfg.GoogleSpreadsheetID),
		ClientJSON:    cfg.GoogleOAuthClientJSON,
		ClientFile:    cfg.GoogleOAuthClientFile,
		TokenJSON:     cfg.GoogleOAuthTokenJSON,
		TokenFile:     cfg.GoogleOAuthTokenFile,
	}
}

// Client publishes report tables to tabs of one spreadsheet.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string

	// tab title -> sheet id, refreshed after cacheValidDuration
	mu                 sync.Mutex
	tabs               map[string]int64
	cacheExpiresAt     time.Time
	cacheValidDuration time.Duration
}

var _ sheets.Publisher = (*Client)(nil)

// New creates a Sheets client authorized with a stored OAuth token. The
// token is produced once with `finanzasctl sheets auth`.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.SpreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{
		svc:                svc,
		spreadsheetID:      opts.SpreadsheetID,
		cacheValidDuration: defaultTabCacheDuration,
	}, nil
}

// OAuthConfig parses the OAuth client credentials for the Sheets scope.
func OAuthConfig(opts Options) (*oauth2.Config, error) {
	var b []byte
	var err error
	switch {
	case strings.TrimSpace(opts.ClientJSON) != "":
		b = []byte(opts.ClientJSON)
	case strings.TrimSpace(opts.ClientFile) != "":
		b, err = os.ReadFile(opts.ClientFile)
		if err != nil {
			return nil, fmt.Errorf("read oauth client file: %w", err)
		}
	default:
		return nil, errors.New("missing oauth client (set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE)")
	}
	cfg, err := goauth.ConfigFromJSON(b, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	return cfg, nil
}

func loadToken(opts Options) (*oauth2.Token, error) {
	var b []byte
	var err error
	switch {
	case strings.TrimSpace(opts.TokenJSON) != "":
		b = []byte(opts.TokenJSON)
	case strings.TrimSpace(opts.TokenFile) != "":
		b, err = os.ReadFile(opts.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("read oauth token file: %w", err)
		}
	default:
		return nil, errors.New("missing oauth token (set GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE)")
	}
	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, fmt.Errorf("oauth token: %w", err)
	}
	return &tok, nil
}

// SaveToken writes tok to path with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

func newSheetsService(ctx context.Context, opts Options) (*gsheet.Service, error) {
	cfg, err := OAuthConfig(opts)
	if err != nil {
		return nil, err
	}
	tok, err := loadToken(opts)
	if err != nil {
		return nil, err
	}

	// token refreshes go through the pooled client too
	ctx = context.WithValue(ctx, oauth2.HTTPClient, newHTTPClientWithPooling())
	httpClient := oauth2.NewClient(ctx, cfg.TokenSource(ctx, tok))

	svc, err := gsheet.NewService(ctx, goption.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created")
	return svc, nil
}

// newHTTPClientWithPooling creates an HTTP client for the Sheets API with
// connection pooling, timeouts and keep-alive.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext: dialer.DialContext,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		ForceAttemptHTTP2: true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// Publish clears tab and writes t from A1, creating the tab when missing.
// The header row is set in bold.
func (c *Client) Publish(ctx context.Context, tab string, t export.Table) (string, error) {
	if c.svc == nil {
		return "", errNoService
	}
	if tab == "" {
		return "", errors.New("publish: empty tab name")
	}

	sheetID, err := c.ensureTab(ctx, tab)
	if err != nil {
		return "", err
	}

	values := sheets.Values(t)
	quoted := sheets.QuoteTab(tab)

	_, err = c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, quoted+"!A:Z", &gsheet.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("clear tab %s: %w", tab, err)
	}

	rng := sheets.A1Range(tab, len(values), sheets.Width(values))
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("write tab %s: %w", tab, err)
	}

	if err := c.formatHeader(ctx, sheetID, sheets.Width(values)); err != nil {
		// content is already written
		slog.WarnContext(ctx, "Failed to format report header", "tab", tab, "error", err)
	}

	slog.InfoContext(ctx, "Published report to Google Sheets",
		"spreadsheet_id", c.spreadsheetID,
		"range", rng,
		"rows", len(t.Rows))
	return rng, nil
}

// headerRow is the 0-based row index of the column headers written by
// sheets.Values.
const headerRow = 2

func (c *Client) formatHeader(ctx context.Context, sheetID int64, cols int) error {
	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			RepeatCell: &gsheet.RepeatCellRequest{
				Range: &gsheet.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    headerRow,
					EndRowIndex:      headerRow + 1,
					StartColumnIndex: 0,
					EndColumnIndex:   int64(cols),
				},
				Cell: &gsheet.CellData{
					UserEnteredFormat: &gsheet.CellFormat{
						TextFormat: &gsheet.TextFormat{Bold: true},
					},
				},
				Fields: "userEnteredFormat.textFormat.bold",
			},
		}},
	}
	_, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do()
	return err
}

// ensureTab returns the sheet id of tab, adding the tab when it does not exist.
func (c *Client) ensureTab(ctx context.Context, tab string) (int64, error) {
	if id, ok := c.cachedTab(tab); ok {
		return id, nil
	}
	if err := c.refreshTabs(ctx); err != nil {
		return 0, err
	}
	if id, ok := c.cachedTab(tab); ok {
		return id, nil
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{
				Properties: &gsheet.SheetProperties{Title: tab},
			},
		}},
	}
	resp, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("add tab %s: %w", tab, err)
	}
	var id int64
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil {
		id = resp.Replies[0].AddSheet.Properties.SheetId
	}
	c.rememberTab(tab, id)
	slog.InfoContext(ctx, "Created spreadsheet tab", "tab", tab, "sheet_id", id)
	return id, nil
}

func (c *Client) refreshTabs(ctx context.Context) error {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet %s: %w", c.spreadsheetID, err)
	}
	tabs := make(map[string]int64, len(ss.Sheets))
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			tabs[s.Properties.Title] = s.Properties.SheetId
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tabs = tabs
	c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)
	return nil
}

func (c *Client) cachedTab(tab string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tabs == nil || !time.Now().Before(c.cacheExpiresAt) {
		return 0, false
	}
	id, ok := c.tabs[tab]
	return id, ok
}

func (c *Client) rememberTab(tab string, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tabs == nil {
		c.tabs = make(map[string]int64)
	}
	c.tabs[tab] = id
}

// InvalidateTabCache forces the next Publish to re-read the tab list.
func (c *Client) InvalidateTabCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheExpiresAt = time.Time{}
}
