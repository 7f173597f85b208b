package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"finanzas/internal/config"
	"finanzas/internal/export"
)

const testClientJSON = `{"installed":{"client_id":"test","client_secret":"test","redirect_uris":["http://localhost"],"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token"}}`

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Options{ClientJSON: testClientJSON})
	if err == nil {
		t.Fatal("expected error for missing spreadsheet id")
	}
	if err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNew_InvalidClientJSON(t *testing.T) {
	_, err := New(context.Background(), Options{
		SpreadsheetID: "test-id",
		ClientJSON:    "invalid-json",
		TokenJSON:     `{"access_token":"test"}`,
	})
	if err == nil {
		t.Fatal("expected error with invalid JSON")
	}
	if !strings.Contains(err.Error(), "oauth config") {
		t.Errorf("expected oauth config error, got: %v", err)
	}
}

func TestNewSheetsService_MissingOAuthClient(t *testing.T) {
	_, err := newSheetsService(context.Background(), Options{})
	if err == nil {
		t.Fatal("expected error for missing oauth client")
	}
	expectedMsg := "missing oauth client (set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE)"
	if err.Error() != expectedMsg {
		t.Errorf("expected %q, got %q", expectedMsg, err.Error())
	}
}

func TestNewSheetsService_MissingOAuthToken(t *testing.T) {
	_, err := newSheetsService(context.Background(), Options{ClientJSON: testClientJSON})
	if err == nil {
		t.Fatal("expected error for missing oauth token")
	}
	expectedMsg := "missing oauth token (set GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE)"
	if err.Error() != expectedMsg {
		t.Errorf("expected %q, got %q", expectedMsg, err.Error())
	}
}

func TestNewSheetsService_InvalidToken(t *testing.T) {
	_, err := newSheetsService(context.Background(), Options{ClientJSON: testClientJSON, TokenJSON: "{broken"})
	if err == nil || !strings.Contains(err.Error(), "oauth token") {
		t.Fatalf("expected oauth token error, got: %v", err)
	}
}

func TestNewSheetsService_FromFiles(t *testing.T) {
	dir := t.TempDir()
	clientFile := filepath.Join(dir, "client.json")
	tokenFile := filepath.Join(dir, "token.json")
	if err := os.WriteFile(clientFile, []byte(testClientJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := SaveToken(tokenFile, &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer"}); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	info, err := os.Stat(tokenFile)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("token file mode = %v, want 0600", info.Mode().Perm())
	}

	svc, err := newSheetsService(context.Background(), Options{ClientFile: clientFile, TokenFile: tokenFile})
	if err != nil {
		t.Fatalf("newSheetsService: %v", err)
	}
	if svc == nil {
		t.Fatal("expected a service")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(&config.Config{
		GoogleSpreadsheetID:   " sheet-1 ",
		GoogleOAuthClientFile: "client.json",
		GoogleOAuthTokenJSON:  "{}",
	})
	if opts.SpreadsheetID != "sheet-1" || opts.ClientFile != "client.json" || opts.TokenJSON != "{}" {
		t.Errorf("unexpected options: %+v", opts)
	}
}

func TestPublish_NilService(t *testing.T) {
	c := &Client{spreadsheetID: "test"}
	if _, err := c.Publish(context.Background(), "Tab", export.Table{}); err != errNoService {
		t.Fatalf("expected errNoService, got %v", err)
	}
}

// fakeSheets records the calls the client makes against the Sheets REST API.
type fakeSheets struct {
	mu      sync.Mutex
	tabs    map[string]int64
	gets    int
	added   []string
	cleared []string
	updates map[string][][]any
	formats int
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/spreadsheets/sheet-1"):
		f.gets++
		var list []map[string]any
		for title, id := range f.tabs {
			list = append(list, map[string]any{"properties": map[string]any{"title": title, "sheetId": id}})
		}
		json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-1", "sheets": list})

	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		var req gsheet.BatchUpdateSpreadsheetRequest
		json.Unmarshal(body, &req)
		var replies []map[string]any
		for _, rq := range req.Requests {
			switch {
			case rq.AddSheet != nil:
				id := int64(100 + len(f.tabs))
				f.tabs[rq.AddSheet.Properties.Title] = id
				f.added = append(f.added, rq.AddSheet.Properties.Title)
				replies = append(replies, map[string]any{"addSheet": map[string]any{"properties": map[string]any{"title": rq.AddSheet.Properties.Title, "sheetId": id}}})
			case rq.RepeatCell != nil:
				f.formats++
				replies = append(replies, map[string]any{})
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-1", "replies": replies})

	case r.Method == http.MethodPost && strings.HasSuffix(path, ":clear"):
		rng := strings.TrimSuffix(path[strings.Index(path, "/values/")+len("/values/"):], ":clear")
		f.cleared = append(f.cleared, rng)
		json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-1", "clearedRange": rng})

	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		var vr struct {
			Values [][]any `json:"values"`
		}
		json.Unmarshal(body, &vr)
		rng := path[strings.Index(path, "/values/")+len("/values/"):]
		f.updates[rng] = vr.Values
		json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-1", "updatedRange": rng})

	default:
		http.Error(w, `{"error":{"code":404,"message":"unexpected call"}}`, http.StatusNotFound)
	}
}

func newFakeClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("sheets service: %v", err)
	}
	return &Client{svc: svc, spreadsheetID: "sheet-1", cacheValidDuration: time.Minute}
}

func reportTable() export.Table {
	return export.Table{
		Title: "Monthly Report 2024-03 (EUR)",
		Rows: []export.Row{
			{{Key: "section", Value: "summary"}, {Key: "label", Value: "Total Expenses"}, {Key: "amount", Value: "120.00"}},
			{{Key: "section", Value: "category"}, {Key: "label", Value: "Food"}, {Key: "amount", Value: "20.00"}},
		},
	}
}

func TestPublish_CreatesTabAndWritesValues(t *testing.T) {
	fake := &fakeSheets{tabs: map[string]int64{"Sheet1": 0}, updates: map[string][][]any{}}
	c := newFakeClient(t, fake)

	rng, err := c.Publish(context.Background(), "Reports 2024-03", reportTable())
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if rng != "'Reports 2024-03'!A1:C5" {
		t.Errorf("range = %q", rng)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.added) != 1 || fake.added[0] != "Reports 2024-03" {
		t.Errorf("added tabs = %v", fake.added)
	}
	if len(fake.cleared) != 1 {
		t.Errorf("cleared = %v", fake.cleared)
	}
	values, ok := fake.updates[rng]
	if !ok {
		t.Fatalf("no update for %q, got %v", rng, fake.updates)
	}
	if len(values) != 5 || values[2][0] != "section" || values[4][1] != "Food" {
		t.Errorf("unexpected values: %v", values)
	}
	if fake.formats != 1 {
		t.Errorf("header formats = %d, want 1", fake.formats)
	}
}

func TestPublish_ReusesCachedTabs(t *testing.T) {
	fake := &fakeSheets{tabs: map[string]int64{"Reports 2024-03": 7}, updates: map[string][][]any{}}
	c := newFakeClient(t, fake)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Publish(ctx, "Reports 2024-03", reportTable()); err != nil {
			t.Fatalf("Publish #%d: %v", i, err)
		}
	}

	fake.mu.Lock()
	gets, added := fake.gets, len(fake.added)
	fake.mu.Unlock()
	if gets != 1 {
		t.Errorf("spreadsheet reads = %d, want 1", gets)
	}
	if added != 0 {
		t.Errorf("existing tab should not be re-added")
	}

	c.InvalidateTabCache()
	if _, err := c.Publish(ctx, "Reports 2024-03", reportTable()); err != nil {
		t.Fatalf("Publish after invalidate: %v", err)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.gets != 2 {
		t.Errorf("spreadsheet reads after invalidate = %d, want 2", fake.gets)
	}
}

func TestTabCacheExpiration(t *testing.T) {
	c := &Client{cacheValidDuration: 50 * time.Millisecond}

	if _, ok := c.cachedTab("Any"); ok {
		t.Fatal("cache should start empty")
	}

	c.mu.Lock()
	c.tabs = map[string]int64{"Reports": 3}
	c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)
	c.mu.Unlock()

	if id, ok := c.cachedTab("Reports"); !ok || id != 3 {
		t.Fatalf("cachedTab = %d, %v", id, ok)
	}

	time.Sleep(80 * time.Millisecond)
	if _, ok := c.cachedTab("Reports"); ok {
		t.Error("cache should be expired after TTL")
	}
}
