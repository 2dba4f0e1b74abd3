package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/sparkcreatives/spark-portal/internal/cache"
	"github.com/sparkcreatives/spark-portal/internal/config"
	"github.com/sparkcreatives/spark-portal/internal/storage"
	"github.com/sparkcreatives/spark-portal/internal/storage/local"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// fixtures
// ---------------------------------------------------------------------------

// testConfig returns a configuration equivalent to the built-in defaults with
// local storage rooted in a temporary directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.BaseURL = "http://localhost:8080"
	cfg.Server.Env = "test"
	cfg.Portal = config.PortalConfig{
		APIBaseURL:     "http://localhost:8080",
		BrandName:      "SparkCreatives",
		DefaultOrg:     "spark",
		RequestTimeout: 5 * time.Second,
		RenderWait:     2 * time.Second,
	}
	cfg.DataRoom.ReviewerURLTTL = 2 * time.Hour
	cfg.DataRoom.DefaultURLTTL = 15 * time.Minute
	cfg.DataRoom.Catalog = []config.CatalogEntry{
		{Key: "{org}/governance/IRS_Letter.pdf", Name: "IRS Determination Letter"},
		{Key: "{org}/financials/Budget_Summary_FY2025.pdf", Name: "Budget Summary FY2025"},
	}
	cfg.Receipts.PathPrefix = "receipts"
	cfg.Receipts.CacheTTL = 720 * time.Hour
	cfg.Receipts.StatementPrefix = "statements"
	cfg.Receipts.StatementCacheTTL = 90 * 24 * time.Hour
	cfg.Reconciliation.PathPrefix = "reconciliation"
	cfg.Storage.DefaultBackend = "local"
	cfg.Storage.Local.BasePath = t.TempDir()
	cfg.Storage.Local.SigningKey = "router-test-key"
	cfg.Webhooks.Square.IdempotencyTTL = 24 * time.Hour
	cfg.Webhooks.Square.LockTTL = 30 * time.Second
	cfg.Webhooks.Square.RateLimitPerMinute = 100
	cfg.Webhooks.Square.TimestampTolerance = 5 * time.Minute
	cfg.Security.CORS.AllowedOrigins = []string{"*"}
	return cfg
}

func newLocalStore(t *testing.T, cfg *config.Config) *local.LocalStorage {
	t.Helper()
	s, err := local.New(&cfg.Storage.Local, cfg.Server.BaseURL)
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	return s
}

func newTestCache(t *testing.T) (*cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return cache.NewWithClient(rdb, "spark"), mr
}

func newTestRouter(t *testing.T, cfg *config.Config, store storage.Storage, c *cache.Cache) *gin.Engine {
	t.Helper()
	r, bg, err := NewRouter(cfg, store, c)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	t.Cleanup(bg.Shutdown)
	return r
}

func upload(t *testing.T, s storage.Storage, key, content string) {
	t.Helper()
	if _, err := s.Upload(context.Background(), key, strings.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("Upload(%q): %v", key, err)
	}
}

func serve(r http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, target, body))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return body
}

// failingStorage fails every call, standing in for an unreachable bucket.
type failingStorage struct{ err error }

func (f *failingStorage) Name() string { return "failing" }
func (f *failingStorage) Upload(context.Context, string, io.Reader, int64) (*storage.UploadResult, error) {
	return nil, f.err
}
func (f *failingStorage) Download(context.Context, string) (io.ReadCloser, error) { return nil, f.err }
func (f *failingStorage) SignedURL(context.Context, string, time.Duration) (string, error) {
	return "", f.err
}
func (f *failingStorage) Exists(context.Context, string) (bool, error) { return false, f.err }

// ---------------------------------------------------------------------------
// /health, /ready, /version
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	cfg := testConfig(t)
	store := newLocalStore(t, cfg)

	tests := []struct {
		name      string
		cache     bool
		wantCache string
	}{
		{"cache disabled", false, "disabled"},
		{"cache enabled", true, "enabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c *cache.Cache
			if tt.cache {
				c, _ = newTestCache(t)
			}
			w := serve(newTestRouter(t, cfg, store, c), http.MethodGet, "/health", nil)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			body := decode(t, w)
			if body["status"] != "ok" {
				t.Errorf("status = %v, want ok", body["status"])
			}
			checks, _ := body["checks"].(map[string]interface{})
			if checks["env"] != "test" || checks["storage"] != "local" || checks["cache"] != tt.wantCache {
				t.Errorf("checks = %v", checks)
			}
		})
	}
}

func TestHealth_DoesNotTouchStorage(t *testing.T) {
	cfg := testConfig(t)
	w := serve(newTestRouter(t, cfg, &failingStorage{err: errors.New("down")}, nil), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestReady(t *testing.T) {
	cfg := testConfig(t)
	c, _ := newTestCache(t)

	w := serve(newTestRouter(t, cfg, newLocalStore(t, cfg), c), http.MethodGet, "/ready", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["ready"] != true {
		t.Errorf("ready = %v, want true", body["ready"])
	}
	checks, _ := body["checks"].(map[string]interface{})
	if checks["storage"] != "healthy" || checks["cache"] != "healthy" {
		t.Errorf("checks = %v", checks)
	}
}

func TestReady_StorageDown(t *testing.T) {
	cfg := testConfig(t)
	w := serve(newTestRouter(t, cfg, &failingStorage{err: errors.New("bucket unreachable")}, nil), http.MethodGet, "/ready", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if body := decode(t, w); body["error"] != "storage backend not ready" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestReady_CacheDown(t *testing.T) {
	cfg := testConfig(t)
	c, mr := newTestCache(t)
	mr.Close()

	w := serve(newTestRouter(t, cfg, newLocalStore(t, cfg), c), http.MethodGet, "/ready", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	body := decode(t, w)
	checks, _ := body["checks"].(map[string]interface{})
	if checks["storage"] != "healthy" || checks["cache"] != "unhealthy" {
		t.Errorf("checks = %v", checks)
	}
}

func TestVersion(t *testing.T) {
	cfg := testConfig(t)
	w := serve(newTestRouter(t, cfg, newLocalStore(t, cfg), nil), http.MethodGet, "/version", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decode(t, w)
	if body["version"] != Version {
		t.Errorf("version = %v, want %s", body["version"], Version)
	}
	if body["api_version"] != "v1" {
		t.Errorf("api_version = %v, want v1", body["api_version"])
	}
}

// ---------------------------------------------------------------------------
// data room and files
// ---------------------------------------------------------------------------

func TestDocumentsThenSignedFile(t *testing.T) {
	cfg := testConfig(t)
	store := newLocalStore(t, cfg)
	upload(t, store, "acme/governance/IRS_Letter.pdf", "%PDF irs")
	r := newTestRouter(t, cfg, store, nil)

	w := serve(r, http.MethodGet, "/api/v1/data-room/documents?org=acme&reviewer=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var listing struct {
		Org       string `json:"org"`
		Documents []struct {
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"documents"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listing); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// The budget summary was never uploaded and is left out.
	if listing.Org != "acme" || len(listing.Documents) != 1 {
		t.Fatalf("listing = %+v", listing)
	}
	if listing.Documents[0].Name != "IRS Determination Letter" {
		t.Errorf("name = %q", listing.Documents[0].Name)
	}

	u, err := url.Parse(listing.Documents[0].URL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	w = serve(r, http.MethodGet, u.RequestURI(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("file status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "%PDF irs" {
		t.Errorf("file body = %q", w.Body.String())
	}

	w = serve(r, http.MethodGet, u.Path+"?expires=1&signature=00", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("tampered link status = %d, want 403", w.Code)
	}
}

func TestFilesRouteOnlyForVerifyingBackends(t *testing.T) {
	cfg := testConfig(t)
	r := newTestRouter(t, cfg, &failingStorage{err: errors.New("x")}, nil)
	w := serve(r, http.MethodGet, "/api/v1/files/spark/a.pdf?expires=1&signature=00", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ---------------------------------------------------------------------------
// receipts
// ---------------------------------------------------------------------------

func TestReceipt_CachedAfterFirstRead(t *testing.T) {
	cfg := testConfig(t)
	store := newLocalStore(t, cfg)
	upload(t, store, "receipts/D-100.pdf", "%PDF receipt")
	c, mr := newTestCache(t)
	r := newTestRouter(t, cfg, store, c)

	w := serve(r, http.MethodGet, "/api/v1/donations/D-100/receipt.pdf", nil)
	if w.Code != http.StatusOK || w.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("first read: status = %d, X-Cache = %q", w.Code, w.Header().Get("X-Cache"))
	}
	if !mr.Exists("spark:receipt:D-100") {
		t.Error("receipt was not cached")
	}

	w = serve(r, http.MethodGet, "/api/v1/donations/D-100/receipt.pdf", nil)
	if w.Code != http.StatusOK || w.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("second read: status = %d, X-Cache = %q", w.Code, w.Header().Get("X-Cache"))
	}
	if w.Body.String() != "%PDF receipt" {
		t.Errorf("body = %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestStatement_CachedAfterFirstRead(t *testing.T) {
	cfg := testConfig(t)
	store := newLocalStore(t, cfg)
	upload(t, store, "statements/2025/donor-7.pdf", "%PDF statement")
	c, mr := newTestCache(t)
	r := newTestRouter(t, cfg, store, c)

	w := serve(r, http.MethodGet, "/api/v1/donors/donor-7/statement/2025", nil)
	if w.Code != http.StatusOK || w.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("first read: status = %d, X-Cache = %q", w.Code, w.Header().Get("X-Cache"))
	}
	if !mr.Exists("spark:statement:donor-7:2025") {
		t.Error("statement was not cached")
	}
	if ttl := mr.TTL("spark:statement:donor-7:2025"); ttl != 90*24*time.Hour {
		t.Errorf("statement ttl = %v, want 2160h", ttl)
	}

	w = serve(r, http.MethodGet, "/api/v1/donors/donor-7/statement/2025", nil)
	if w.Code != http.StatusOK || w.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("second read: status = %d, X-Cache = %q", w.Code, w.Header().Get("X-Cache"))
	}

	if w := serve(r, http.MethodGet, "/api/v1/donors/donor-7/statement/2024", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing statement: status = %d, want 404", w.Code)
	}
}

func TestReconciliation_RunThenLatest(t *testing.T) {
	cfg := testConfig(t)
	store := newLocalStore(t, cfg)
	r := newTestRouter(t, cfg, store, nil)

	w := serve(r, http.MethodGet, "/api/v1/reconciliation/latest", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"no report"`) {
		t.Fatalf("latest before run: status = %d, body = %s", w.Code, w.Body.String())
	}

	upload(t, store, "reconciliation/donations.csv", "amount,designation\n120.00,Shipping Fund\n30.00,\n")
	upload(t, store, "reconciliation/internal_donations.csv", "amount,designation\n120.00,Shipping Fund\n")

	w = serve(r, http.MethodPost, "/api/v1/reconciliation/run", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("run: status = %d, body = %s", w.Code, w.Body.String())
	}
	var report struct {
		Square struct {
			Total         string            `json:"total"`
			ByDesignation map[string]string `json:"by_designation"`
		} `json:"square"`
		VarianceTotal string `json:"variance_total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Square.Total != "150.00" || report.VarianceTotal != "30.00" {
		t.Errorf("report = %+v", report)
	}
	if report.Square.ByDesignation["General Fund"] != "30.00" {
		t.Errorf("blank designation not rolled into General Fund: %v", report.Square.ByDesignation)
	}

	w = serve(r, http.MethodGet, "/api/v1/reconciliation/latest", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"variance_total":"30.00"`) {
		t.Errorf("latest after run: status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestReceipt_NoCache(t *testing.T) {
	cfg := testConfig(t)
	store := newLocalStore(t, cfg)
	upload(t, store, "receipts/D-7.pdf", "%PDF")
	r := newTestRouter(t, cfg, store, nil)

	for i := 0; i < 2; i++ {
		w := serve(r, http.MethodGet, "/api/v1/donations/D-7/receipt.pdf", nil)
		if w.Code != http.StatusOK || w.Header().Get("X-Cache") != "MISS" {
			t.Fatalf("read %d: status = %d, X-Cache = %q", i, w.Code, w.Header().Get("X-Cache"))
		}
	}

	if w := serve(r, http.MethodGet, "/api/v1/donations/missing/receipt.pdf", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing receipt status = %d, want 404", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Square webhook
// ---------------------------------------------------------------------------

func TestSquareWebhook_DeduplicatesThroughCache(t *testing.T) {
	cfg := testConfig(t)
	c, _ := newTestCache(t)
	r := newTestRouter(t, cfg, newLocalStore(t, cfg), c)

	payload := `{"event_id":"evt-1","type":"payment.updated"}`
	w := serve(r, http.MethodPost, "/api/v1/webhooks/square", strings.NewReader(payload))
	if w.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d: %s", w.Code, w.Body.String())
	}
	if body := decode(t, w); body["status"] != "processed" || body["event_id"] != "evt-1" {
		t.Errorf("first delivery body = %v", body)
	}

	w = serve(r, http.MethodPost, "/api/v1/webhooks/square", strings.NewReader(payload))
	if w.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d", w.Code)
	}
	if body := decode(t, w); body["status"] != "duplicate" || body["cached"] != true {
		t.Errorf("redelivery body = %v", body)
	}
}

func TestSquareWebhook_RateLimited(t *testing.T) {
	cfg := testConfig(t)
	cfg.Webhooks.Square.RateLimitPerMinute = 1
	r := newTestRouter(t, cfg, newLocalStore(t, cfg), nil)

	w := serve(r, http.MethodPost, "/api/v1/webhooks/square", strings.NewReader(`{"event_id":"a"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", w.Code)
	}
	w = serve(r, http.MethodPost, "/api/v1/webhooks/square", strings.NewReader(`{"event_id":"b"}`))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

// ---------------------------------------------------------------------------
// headers and fallbacks
// ---------------------------------------------------------------------------

func TestSecurityHeaderProfiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Portal.APIBaseURL = "https://api.spark.example"
	r := newTestRouter(t, cfg, newLocalStore(t, cfg), nil)

	page := serve(r, http.MethodGet, "/dashboard/spark", nil)
	if page.Code != http.StatusOK {
		t.Fatalf("page status = %d", page.Code)
	}
	csp := page.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "frame-src 'self' https://api.spark.example") {
		t.Errorf("page CSP = %q", csp)
	}
	if got := page.Header().Get("X-Request-ID"); got == "" {
		t.Error("page response missing X-Request-ID")
	}

	api := serve(r, http.MethodGet, "/version", nil)
	if csp := api.Header().Get("Content-Security-Policy"); !strings.HasPrefix(csp, "default-src 'none'") {
		t.Errorf("api CSP = %q", csp)
	}
}

func TestNoRoute(t *testing.T) {
	cfg := testConfig(t)
	r := newTestRouter(t, cfg, newLocalStore(t, cfg), nil)

	w := serve(r, http.MethodGet, "/api/v1/unknown", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("api status = %d, want 404", w.Code)
	}
	if body := decode(t, w); body["error"] != "not found" {
		t.Errorf("api body = %v", body)
	}

	w = serve(r, http.MethodGet, "/unknown", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("page status = %d, want 404", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Page not found") {
		t.Error("page 404 did not render the layout")
	}
}

func TestHomeRedirect(t *testing.T) {
	cfg := testConfig(t)
	w := serve(newTestRouter(t, cfg, newLocalStore(t, cfg), nil), http.MethodGet, "/", nil)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/dashboard/spark" {
		t.Errorf("status = %d, Location = %q", w.Code, w.Header().Get("Location"))
	}
}

func TestGeneralRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.RateLimiting.Enabled = true
	cfg.Security.RateLimiting.RequestsPerMinute = 1
	cfg.Security.RateLimiting.Burst = 1
	r := newTestRouter(t, cfg, newLocalStore(t, cfg), nil)

	if w := serve(r, http.MethodGet, "/dashboard/spark", nil); w.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", w.Code)
	}
	if w := serve(r, http.MethodGet, "/dashboard/spark", nil); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", w.Code)
	}
	// Health checks are never limited.
	if w := serve(r, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}
}

// ---------------------------------------------------------------------------
// end to end: data-room page fetching from its own API
// ---------------------------------------------------------------------------

func TestDataRoomPage_FetchesOwnAPI(t *testing.T) {
	srv := httptest.NewUnstartedServer(nil)
	base := "http://" + srv.Listener.Addr().String()

	cfg := testConfig(t)
	cfg.Server.BaseURL = base
	cfg.Portal.APIBaseURL = base
	store := newLocalStore(t, cfg)
	upload(t, store, "spark/governance/IRS_Letter.pdf", "irs")
	upload(t, store, "spark/financials/Budget_Summary_FY2025.pdf", "budget")

	srv.Config.Handler = newTestRouter(t, cfg, store, nil)
	srv.Start()
	defer srv.Close()

	resp, err := http.Get(base + "/reviewer/spark/data-room")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	page := string(raw)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(page, "Spark — Data Room") {
		t.Error("missing heading")
	}
	if !strings.Contains(page, `data-state="success"`) {
		t.Fatalf("panel did not settle successfully:\n%s", page)
	}
	irs := strings.Index(page, "IRS Determination Letter")
	budget := strings.Index(page, "Budget Summary FY2025")
	if irs < 0 || budget < 0 || irs > budget {
		t.Errorf("documents missing or out of order (irs=%d budget=%d)", irs, budget)
	}
	if !strings.Contains(page, base+"/api/v1/files/spark/governance/IRS_Letter.pdf?") {
		t.Error("signed link does not point at the files route")
	}
}
