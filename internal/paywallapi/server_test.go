package paywallapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/paywall/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/paywall/internal/ledgerrpc"
	"github.com/MarkoPoloResearchLab/paywall/internal/monetization"
	"github.com/MarkoPoloResearchLab/paywall/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/paywall/pkg/ledger"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const bufconnSize = 1 << 20

func newTestConfig() Config {
	return Config{
		ListenAddr:        ":0",
		LedgerAddress:     "bufnet",
		LedgerInsecure:    true,
		LedgerTimeout:     2 * time.Second,
		AllowedOrigins:    []string{"http://localhost:8000"},
		SessionSigningKey: "secret-key",
		SessionIssuer:     "tauth",
		SessionCookieName: "app_session",
		TAuthBaseURL:      "http://localhost:8080",
	}
}

func startPaywallServer(test *testing.T) (*httptest.Server, Config) {
	test.Helper()
	cfg := newTestConfig()
	handler := &httpHandler{
		logger:       zap.NewNop(),
		ledgerClient: startLedgerClient(test),
		cfg:          cfg,
	}
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		test.Fatalf("validator init failed: %v", err)
	}
	server := httptest.NewServer(setupRouter(cfg, handler, validator))
	test.Cleanup(server.Close)
	return server, cfg
}

func startLedgerClient(test *testing.T) *ledgerrpc.Client {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(test.TempDir(), "paywall.db")), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	test.Cleanup(func() { _ = sqlDB.Close() })
	store := gormstore.New(db)
	if err := store.Migrate(context.Background()); err != nil {
		test.Fatalf("migrate failed: %v", err)
	}
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.March, 3, 12, 0, 0, 0, time.UTC))
	service, err := monetization.NewService(store, store, nil, monetization.WithClock(clock))
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}

	listener := bufconn.Listen(bufconnSize)
	grpcServer := grpc.NewServer()
	ledgerrpc.RegisterLedgerServer(grpcServer, grpcserver.NewLedgerServer(service))
	go func() {
		if serveErr := grpcServer.Serve(listener); serveErr != nil {
			test.Logf("gRPC server error: %v", serveErr)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient("passthrough:///bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		test.Fatalf("gRPC client init failed: %v", err)
	}
	conn.Connect()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := waitForClientReady(waitCtx, conn); err != nil {
		test.Fatalf("gRPC client failed to connect: %v", err)
	}
	test.Cleanup(func() {
		grpcServer.Stop()
		_ = conn.Close()
	})
	return ledgerrpc.NewClient(conn)
}

func buildSessionCookie(test *testing.T, cfg Config, userID string) *http.Cookie {
	test.Helper()
	claims := &sessionvalidator.Claims{
		UserID:          userID,
		UserEmail:       "viewer@example.com",
		UserDisplayName: "Viewer",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.SessionIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.SessionSigningKey))
	if err != nil {
		test.Fatalf("token signing failed: %v", err)
	}
	return &http.Cookie{Name: cfg.SessionCookieName, Value: signed}
}

func execRequest(test *testing.T, server *httptest.Server, method string, path string, cookie *http.Cookie, payload any) (int, []byte) {
	test.Helper()
	body := bytes.NewReader(nil)
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			test.Fatalf("marshal failed: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	request, err := http.NewRequest(method, server.URL+path, body)
	if err != nil {
		test.Fatalf("request init failed: %v", err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		request.AddCookie(cookie)
	}
	response, err := server.Client().Do(request)
	if err != nil {
		test.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	raw, err := io.ReadAll(response.Body)
	if err != nil {
		test.Fatalf("read body failed: %v", err)
	}
	return response.StatusCode, raw
}

func mustDecode(test *testing.T, raw []byte, target any) {
	test.Helper()
	if err := json.Unmarshal(raw, target); err != nil {
		test.Fatalf("failed to decode %s: %v", raw, err)
	}
}

func payOnce(test *testing.T) *ledger.VideoPaid {
	test.Helper()
	videoPaid := ledger.NewVideoPaid()
	videoPaid.StartSpan(1)
	if err := videoPaid.Deposit(2, ledger.NewQuantity(1, -2), ledger.AssetXRP, nil); err != nil {
		test.Fatalf("deposit failed: %v", err)
	}
	return videoPaid
}

func TestPaywallAPIViewerFlow(test *testing.T) {
	server, cfg := startPaywallServer(test)
	cookie := buildSessionCookie(test, cfg, "viewer-1")

	video := monetization.Video{ID: "video-1", ChannelID: "channel-7", DurationSeconds: 120}
	if code, body := execRequest(test, server, http.MethodPost, "/api/videos", cookie, video); code != http.StatusCreated {
		test.Fatalf("register video: %d %s", code, body)
	}
	settings := monetization.Settings{PaymentPointer: "$wallet.example/creator", Currency: "xrp"}
	if code, body := execRequest(test, server, http.MethodPut, "/api/videos/video-1/settings", cookie, settings); code != http.StatusNoContent {
		test.Fatalf("update settings: %d %s", code, body)
	}
	code, body := execRequest(test, server, http.MethodGet, "/api/videos/video-1/settings", cookie, nil)
	if code != http.StatusOK {
		test.Fatalf("get settings: %d %s", code, body)
	}
	var loaded monetization.Settings
	mustDecode(test, body, &loaded)
	if loaded.PaymentPointer != settings.PaymentPointer || loaded.Currency != "xrp" {
		test.Fatalf("unexpected settings %+v", loaded)
	}

	commit := monetization.ViewCommit{Changes: payOnce(test).SerializeChanges(3), Subscribed: true}
	code, body = execRequest(test, server, http.MethodPost, "/api/stats/view/video-1", cookie, commit)
	if code != http.StatusOK {
		test.Fatalf("commit view: %d %s", code, body)
	}
	var state ledger.SerializedState
	mustDecode(test, body, &state)
	if len(state.CurrentState.Spans) != 1 || state.OptOut {
		test.Fatalf("unexpected state %+v", state)
	}

	update := monetization.HistogramUpdate{Histogram: payOnce(test).SerializeChanges(3).Histogram}
	code, body = execRequest(test, server, http.MethodPost, "/stats/histogram_update/video-1", nil, update)
	if code != http.StatusOK {
		test.Fatalf("histogram update: %d %s", code, body)
	}
	var committed struct {
		Committed []ledger.SerializedHistogramChange `json:"committed"`
	}
	mustDecode(test, body, &committed)
	if len(committed.Committed) != len(update.Histogram) {
		test.Fatalf("expected committed bins to be echoed, got %s", body)
	}

	code, body = execRequest(test, server, http.MethodGet, "/stats/histogram/video-1", nil, nil)
	if code != http.StatusOK {
		test.Fatalf("get histogram: %d %s", code, body)
	}
	var histogram ledger.Histogram
	mustDecode(test, body, &histogram)
	day := histogram.History["19785"]
	if day.Subscribed <= 0 || day.Unknown <= 0 {
		test.Fatalf("expected subscribed and anonymous contributions, got %+v", histogram.History)
	}

	code, body = execRequest(test, server, http.MethodPost, "/api/stats/user/channels", cookie, nil)
	if code != http.StatusOK {
		test.Fatalf("user channels: %d %s", code, body)
	}
	var stats ledger.UserStats
	mustDecode(test, body, &stats)
	if stats.Channels["channel-7"] <= 0 {
		test.Fatalf("expected channel contribution, got %+v", stats)
	}

	code, body = execRequest(test, server, http.MethodPost, "/api/stats/opt_out", cookie, map[string]any{"optOut": true})
	if code != http.StatusOK {
		test.Fatalf("opt out: %d %s", code, body)
	}
	var optOut struct {
		OptOut bool `json:"optOut"`
	}
	mustDecode(test, body, &optOut)
	if !optOut.OptOut {
		test.Fatalf("expected viewer to be opted out")
	}

	code, body = execRequest(test, server, http.MethodPost, "/monetization_status_bulk", nil, map[string]any{"videos": []string{"video-1", "absent"}})
	if code != http.StatusOK {
		test.Fatalf("status bulk: %d %s", code, body)
	}
	var statuses map[string]monetization.Status
	mustDecode(test, body, &statuses)
	if statuses["video-1"].Monetization != monetization.StatusMonetized || statuses["absent"].Monetization != monetization.StatusUnknown {
		test.Fatalf("unexpected statuses %s", body)
	}
}

func TestPaywallAPIErrors(test *testing.T) {
	server, cfg := startPaywallServer(test)
	cookie := buildSessionCookie(test, cfg, "viewer-1")

	testCases := []struct {
		name         string
		method       string
		path         string
		cookie       *http.Cookie
		payload      any
		expectedCode int
		expectedErr  string
	}{
		{name: "unknown video", method: http.MethodGet, path: "/stats/histogram/absent", expectedCode: http.StatusNotFound, expectedErr: "video_not_found"},
		{name: "invalid video id", method: http.MethodGet, path: "/stats/histogram/bad_id", expectedCode: http.StatusBadRequest, expectedErr: "invalid_video_id"},
		{name: "missing body", method: http.MethodPost, path: "/api/stats/view/video-1", cookie: cookie, expectedCode: http.StatusBadRequest, expectedErr: "invalid_payload"},
		{
			name:         "invalid duration",
			method:       http.MethodPost,
			path:         "/api/videos",
			cookie:       cookie,
			payload:      monetization.Video{ID: "video-2", DurationSeconds: -1},
			expectedCode: http.StatusBadRequest,
		},
	}

	for _, testCase := range testCases {
		test.Run(testCase.name, func(test *testing.T) {
			code, body := execRequest(test, server, testCase.method, testCase.path, testCase.cookie, testCase.payload)
			if code != testCase.expectedCode {
				test.Fatalf("expected %d, got %d %s", testCase.expectedCode, code, body)
			}
			if testCase.expectedErr == "" {
				return
			}
			var envelope struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			mustDecode(test, body, &envelope)
			if envelope.Error.Code != testCase.expectedErr {
				test.Fatalf("expected error %q, got %s", testCase.expectedErr, body)
			}
		})
	}
}

func TestConfigValidateAppliesDefaults(test *testing.T) {
	test.Parallel()
	cfg := Config{SessionSigningKey: "secret"}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != defaultListenAddr || cfg.LedgerTimeout != defaultLedgerTimeout || cfg.SessionCookieName != defaultSessionCookie {
		test.Fatalf("unexpected defaults %+v", cfg)
	}
	if err := (&Config{}).Validate(); err == nil {
		test.Fatalf("expected missing signing key to fail")
	}
	origins := ParseAllowedOrigins(" http://a.example , ,http://b.example")
	if len(origins) != 2 || origins[0] != "http://a.example" || origins[1] != "http://b.example" {
		test.Fatalf("unexpected origins %v", origins)
	}
}
