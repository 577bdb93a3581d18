package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/clinic-booking-assistant/internal/clinic"
	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	httpmiddleware "github.com/wolfman30/clinic-booking-assistant/internal/http/middleware"
	"github.com/wolfman30/clinic-booking-assistant/internal/webchat"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

const testSecret = "router-secret"

type echoProcessor struct{}

func (echoProcessor) ProcessTurn(_ context.Context, req conversation.TurnRequest, _ int) conversation.TurnResult {
	return conversation.TurnResult{Success: true, Reply: "eco: " + req.Message, ToolTrace: []string{}}
}

func newTestRouter(t *testing.T, limiter *httpmiddleware.RateLimiter) (http.Handler, *conversation.MemoryTurnStore) {
	t.Helper()
	logger := logging.Default()
	store := conversation.NewMemoryTurnStore()
	cfg := &Config{
		Logger:              logger,
		ConversationHandler: conversation.NewHandler(echoProcessor{}, store, logger),
		WebChatHandler:      webchat.NewHandler(echoProcessor{}, store, logger),
		ClinicHandler:       clinic.NewHandler(clinic.NewStaticSource(clinic.DefaultConfig("default")), "default", logger),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
		RateLimiter:     limiter,
		AdminAuthSecret: testSecret,
	}
	return New(cfg), store
}

func operatorToken(t *testing.T) string {
	t.Helper()
	claims := httpmiddleware.OperatorClaims{
		Role: httpmiddleware.RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestRouterHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "# metrics") {
		t.Fatalf("unexpected metrics response %d %q", rr.Code, rr.Body.String())
	}
}

func TestRouterChatMessage(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/chat/messages", strings.NewReader(`{"session_id":"s1","message":"oi"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp conversation.MessageResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Reply != "eco: oi" || resp.SessionID != "s1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestRouterChatRateLimited(t *testing.T) {
	limiter := httpmiddleware.NewRateLimiter(0.001, 1)
	defer limiter.Stop()
	router, _ := newTestRouter(t, limiter)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/chat/messages", strings.NewReader(`{"session_id":"s1","message":"oi"}`))
		req.RemoteAddr = "10.1.1.1:4000"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected 200 then 429, got %v", codes)
	}

	// Health checks are outside the chat limiter.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.1.1.1:4000"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("health must not be rate limited, got %d", rr.Code)
	}
}

func TestRouterAdminTranscriptRequiresToken(t *testing.T) {
	router, store := newTestRouter(t, nil)
	if err := store.Append(context.Background(), &conversation.Turn{SessionID: "s1", UserText: "oi", AgentText: "Olá!"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/sessions/s1/turns", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/sessions/s1/turns", nil)
	req.Header.Set("Authorization", "Bearer "+operatorToken(t))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}
	var resp conversation.TranscriptResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Turns) != 1 || resp.Turns[0].UserText != "oi" {
		t.Fatalf("unexpected transcript %+v", resp)
	}
}

func TestRouterAdminClinicConfig(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/clinic/config", nil)
	req.Header.Set("Authorization", "Bearer "+operatorToken(t))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRouterAdminDisabledWithoutSecret(t *testing.T) {
	router := New(&Config{Logger: logging.Default()})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/sessions/s1/turns", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when admin routes are not mounted, got %d", rr.Code)
	}
}

func TestRouterChatHistory(t *testing.T) {
	router, store := newTestRouter(t, nil)
	if err := store.Append(context.Background(), &conversation.Turn{SessionID: "s9", UserText: "oi", AgentText: "Olá!"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat/history?session=s9", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Olá!") {
		t.Fatalf("unexpected history response %d %s", rr.Code, rr.Body.String())
	}
}
