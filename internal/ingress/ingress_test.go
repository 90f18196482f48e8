package ingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/susanthp18/hlas-insurance-orchestrator/internal/apierr"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/config"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/metrics"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Config{}
	cfg.WhatsApp.VerifyToken = "secret-verify-token"
	cfg.HistoryTruncateChars = 100
	cfg.OutboundRetries = 1
	return NewServer(Deps{
		Config:  cfg,
		Metrics: metrics.New(),
		Logger:  zerolog.Nop(),
	})
}

func TestHandleHealthReturnsOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestHandleReadyWithNoBackendsConfiguredIsReady(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleWhatsAppVerifySucceeds(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/meta-whatsapp?hub.mode=subscribe&hub.verify_token=secret-verify-token&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "12345", w.Body.String())
}

func TestHandleWhatsAppVerifyRejectsBadToken(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/meta-whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleWhatsAppVerifyRejectsMissingParams(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/meta-whatsapp?hub.mode=subscribe", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleWhatsAppHealthReportsTokenConfigured(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/whatsapp/health", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, true, body["webhook_verification_token_configured"])
}

func TestStatusFromErrorMapsKinds(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, statusFromError(apierr.New(apierr.Validation, "", errBoom)))
	require.Equal(t, http.StatusServiceUnavailable, statusFromError(apierr.New(apierr.ContentionTimeout, "", errBoom)))
	require.Equal(t, http.StatusInternalServerError, statusFromError(apierr.New(apierr.Transient, "", errBoom)))
	require.Equal(t, http.StatusInternalServerError, statusFromError(errBoom))
}

func TestExtractMessageDataStandardFormat(t *testing.T) {
	payload := map[string]any{
		"entry": []any{
			map[string]any{
				"changes": []any{
					map[string]any{
						"value": map[string]any{
							"messages": []any{
								map[string]any{
									"id":        "wamid.123",
									"timestamp": "1700000000",
									"from":      "+1 (555) 123-4567",
									"text":      map[string]any{"body": "  hello   world  "},
								},
							},
						},
					},
				},
			},
		},
	}
	msg, ok := extractMessageData(payload)
	require.True(t, ok)
	require.Equal(t, "hello world", msg.Text)
	require.Equal(t, "+15551234567", msg.Phone)
	require.Equal(t, "wamid.123", msg.MessageID)
	require.Equal(t, int64(1700000000), msg.Timestamp)
}

func TestExtractMessageDataIgnoresStatusUpdates(t *testing.T) {
	payload := map[string]any{
		"entry": []any{
			map[string]any{
				"changes": []any{
					map[string]any{
						"value": map[string]any{
							"statuses": []any{
								map[string]any{"status": "delivered", "recipient_id": "123"},
							},
						},
					},
				},
			},
		},
	}
	_, ok := extractMessageData(payload)
	require.False(t, ok)
}

func TestExtractMessageDataBareFormat(t *testing.T) {
	payload := map[string]any{
		"body": map[string]any{"text": "hi there"},
		"from": "12345678",
	}
	msg, ok := extractMessageData(payload)
	require.True(t, ok)
	require.Equal(t, "hi there", msg.Text)
	require.Equal(t, "12345678", msg.Phone)
}

func TestExtractMessageDataRejectsTooShortPhone(t *testing.T) {
	payload := map[string]any{
		"body": map[string]any{"text": "hi there"},
		"from": "123",
	}
	_, ok := extractMessageData(payload)
	require.False(t, ok)
}

func TestExtractMessageDataEmptyObjectIsNotExtracted(t *testing.T) {
	_, ok := extractMessageData(map[string]any{})
	require.False(t, ok)
}

func TestCleanMessageCollapsesWhitespaceAndTruncates(t *testing.T) {
	require.Equal(t, "a b", cleanMessage("  a\n\t b  "))

	long := make([]byte, maxWhatsAppMessageChars+10)
	for i := range long {
		long[i] = 'x'
	}
	cleaned := cleanMessage(string(long))
	require.True(t, len(cleaned) <= maxWhatsAppMessageChars+3)
	require.Contains(t, cleaned, "...")
}

func TestNormalizePhoneValidatesLength(t *testing.T) {
	require.Equal(t, "+6591234567", normalizePhone("+65 9123 4567"))
	require.Equal(t, "", normalizePhone("123"))
}

func TestVerifySignatureAcceptsMatchingHMAC(t *testing.T) {
	secret := "app-secret"
	body := []byte(`{"hello":"world"}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	header := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	require.True(t, verifySignature(secret, body, header))
	require.False(t, verifySignature(secret, []byte("tampered"), header))
	require.False(t, verifySignature(secret, body, "sha256=deadbeef"))
	require.False(t, verifySignature(secret, body, ""))
}

var errBoom = errBoomType{}

type errBoomType struct{}

func (errBoomType) Error() string { return "boom" }
