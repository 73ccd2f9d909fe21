package routes

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/eventpass-backend/api/controllers"
	"github.com/angelmondragon/eventpass-backend/internal/fees"
	"github.com/angelmondragon/eventpass-backend/internal/gateway"
	"github.com/angelmondragon/eventpass-backend/internal/reconcile"
	pkgAuth "github.com/angelmondragon/eventpass-backend/pkg/auth"
	"github.com/angelmondragon/eventpass-backend/pkg/config"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type stubStore struct {
	allow bool
}

func (stubStore) Get(context.Context, string) (string, error) { return "", nil }

func (stubStore) SetNX(context.Context, string, any, time.Duration) (bool, error) { return true, nil }

func (stubStore) IdempotencyKey(scope, id string) string { return scope + ":" + id }

func (stubStore) Set(context.Context, string, any, time.Duration) error { return nil }

func (stubStore) Del(context.Context, ...string) error { return nil }

func (s stubStore) FixedWindowAllow(context.Context, string, int64, time.Duration) (bool, int64, error) {
	return s.allow, 1, nil
}

type stubFeeService struct {
	fees.Service
}

func (stubFeeService) Current(context.Context) fees.Config {
	return fees.Config{Version: 3, Percentage: decimal.NewFromInt(10)}
}

type stubGateway struct {
	gateway.Adapter
}

func (stubGateway) Name() string { return "payu" }

func (stubGateway) ParseCallback(_ context.Context, form url.Values) (*gateway.Callback, error) {
	if form.Get("txnid") == "" {
		return nil, errors.New("missing txnid")
	}
	return &gateway.Callback{Provider: "payu", ExternalOrderID: form.Get("txnid"), Outcome: enums.CallbackOutcomeSuccess}, nil
}

type stubReconciler struct {
	reconcile.Service
	applied  []string
	rejected int
}

func (s *stubReconciler) ApplyCallback(_ context.Context, cb gateway.Callback, _ enums.CallbackSource) (*reconcile.Result, error) {
	s.applied = append(s.applied, cb.ExternalOrderID)
	return &reconcile.Result{Result: enums.CallbackResultApplied}, nil
}

func (s *stubReconciler) RecordRejected(context.Context, string, enums.CallbackSource, map[string]string, error) error {
	s.rejected++
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "eventpass", ExpirationMinutes: 60},
		API: config.APIConfig{
			CORSOrigins:       []string{"http://localhost:3000"},
			OrderCreateLimit:  1,
			OrderCreateWindow: time.Minute,
		},
	}
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("debug"), Output: io.Discard})
}

func newTestRouter(cfg *config.Config, store RequestStore, reconciler *stubReconciler) http.Handler {
	if reconciler == nil {
		reconciler = &stubReconciler{}
	}
	return NewRouter(cfg, testLogger(), store, Services{
		Fees:       stubFeeService{},
		Reconciler: reconciler,
		Gateway:    stubGateway{},
		Tokens:     mustVerifier(cfg),
	}, map[string]controllers.Pinger{"db": stubPinger{}}, nil)
}

func mustVerifier(cfg *config.Config) *pkgAuth.Verifier {
	v, err := pkgAuth.NewVerifier(cfg.JWT)
	if err != nil {
		panic(err)
	}
	return v
}

func buildToken(t *testing.T, cfg *config.Config, staff bool) string {
	t.Helper()
	token, err := pkgAuth.Issue(cfg.JWT, time.Now(), pkgAuth.Actor{UserID: uuid.New(), Staff: staff})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestHealthLive(t *testing.T) {
	router := newTestRouter(testConfig(), stubStore{allow: true}, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if got := resp.Header().Get("X-EventPass-Env"); got != "test" {
		t.Fatalf("expected env header test got %q", got)
	}
}

func TestHealthReadyReportsFailingDependency(t *testing.T) {
	cfg := testConfig()
	router := NewRouter(cfg, testLogger(), stubStore{}, Services{}, map[string]controllers.Pinger{
		"db":    stubPinger{},
		"redis": stubPinger{err: errors.New("connection refused")},
	}, nil)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "redis") {
		t.Fatalf("expected failing dependency in body, got %s", resp.Body.String())
	}
}

func TestAPIRejectsMissingJWT(t *testing.T) {
	router := newTestRouter(testConfig(), stubStore{allow: true}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/orders/"+uuid.NewString(), nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAdminRoutesRequireStaff(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, stubStore{allow: true}, nil)

	payer := httptest.NewRequest(http.MethodGet, "/api/v1/admin/fee-config", nil)
	payer.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, false))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, payer)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for payer got %d", resp.Code)
	}

	staff := httptest.NewRequest(http.MethodGet, "/api/v1/admin/fee-config", nil)
	staff.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, true))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, staff)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for staff got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"version":3`) {
		t.Fatalf("expected current fee config, got %s", resp.Body.String())
	}
}

func TestFeeConfigUpdateRequiresIdempotencyKey(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, stubStore{allow: true}, nil)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/fee-config", strings.NewReader(`{"percentage":"12.5"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, true))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without Idempotency-Key got %d", resp.Code)
	}
}

func TestOrderCreateIsRateLimited(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, stubStore{allow: false}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/orders", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, false))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", resp.Code)
	}
}

func TestPayUWebhookIsPublicAndAlwaysAcknowledged(t *testing.T) {
	reconciler := &stubReconciler{}
	router := newTestRouter(testConfig(), stubStore{allow: true}, reconciler)

	for _, tc := range []struct {
		path string
		form url.Values
	}{
		{"/api/v1/webhooks/payu/success", url.Values{"txnid": {"EP-123"}, "status": {"success"}}},
		{"/api/v1/webhooks/payu/failure", url.Values{"status": {"failure"}}},
	} {
		req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(tc.form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", tc.path, resp.Code)
		}
		if !strings.Contains(resp.Body.String(), `"status":"received"`) {
			t.Fatalf("%s: unexpected body %s", tc.path, resp.Body.String())
		}
	}

	if len(reconciler.applied) != 1 || reconciler.applied[0] != "EP-123" {
		t.Fatalf("expected one applied callback, got %v", reconciler.applied)
	}
	if reconciler.rejected != 1 {
		t.Fatalf("expected one rejected callback, got %d", reconciler.rejected)
	}
}
