package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"i4.energy/across/sim800gw/modem"
)

// newTestModem returns a modem on a scripted transport, setup skipped.
func newTestModem(t *testing.T) (*modem.Modem, *modem.TestTransport) {
	t.Helper()

	clock := modem.NewTestClock()
	transport := modem.NewTestTransport(clock)

	config, err := modem.NewConfigBuilder().
		WithDialer(transport).
		WithClock(clock).
		WithoutSetup().
		Build()
	require.NoError(t, err)

	m, err := modem.New(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return m, transport
}

func newTestServer(t *testing.T) (*Server, *modem.TestTransport) {
	t.Helper()

	m, transport := newTestModem(t)
	return &Server{
		Logger:           zap.NewNop(),
		Modem:            m,
		MissCallAttempts: 2,
	}, transport
}

func do(s *Server, method, target, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestServerSMS(t *testing.T) {
	t.Run("sends synchronously without an outbox", func(t *testing.T) {
		s, transport := newTestServer(t)
		transport.
			On(`AT+CMGS="+1234567890"`, modem.Respond("\r\n> ")).
			On("Hello\x1a", modem.Respond("\r\n+CMGS: 12\r\n\r\nOK\r\n"))

		rec := do(s, http.MethodPost, "/sms", `{"to":"+1234567890","message":"Hello"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "sent", decode[map[string]string](t, rec)["status"])
		assert.Equal(t, []string{"AT+CMGS=\"+1234567890\"\r", "Hello\x1a"}, transport.Writes())
	})

	t.Run("queues into the outbox", func(t *testing.T) {
		s, transport := newTestServer(t)
		s.Outbox = NewOutbox(s.Modem, 0, 0, nil)

		rec := do(s, http.MethodPost, "/sms", `{"to":"+1","message":"later","id":"abc"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)
		resp := decode[map[string]string](t, rec)
		assert.Equal(t, "abc", resp["id"])
		assert.Equal(t, "queued", resp["status"])
		assert.Empty(t, transport.Writes())

		rec = do(s, http.MethodGet, "/outbox/abc", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "queued", decode[map[string]any](t, rec)["state"])

		rec = do(s, http.MethodGet, "/outbox/unknown", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		s, _ := newTestServer(t)

		rec := do(s, http.MethodPost, "/sms", `{"to":"+1"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode[map[string]string](t, rec)["message"], "required")
	})

	t.Run("recipient carrying commands", func(t *testing.T) {
		s, transport := newTestServer(t)

		rec := do(s, http.MethodPost, "/sms", `{"to":"123\"\r\nAT+CFUN=0","message":"hi"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, transport.Writes())
	})

	t.Run("bad json", func(t *testing.T) {
		s, _ := newTestServer(t)

		rec := do(s, http.MethodPost, "/sms", `{"to":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("modem rejects the body", func(t *testing.T) {
		s, transport := newTestServer(t)
		transport.
			On("AT+CMGS=", modem.Respond("\r\n> ")).
			On("Hello", modem.Respond("\r\n+CMS ERROR: 500\r\n"))

		rec := do(s, http.MethodPost, "/sms", `{"to":"+1","message":"Hello"}`)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		s, _ := newTestServer(t)

		rec := do(s, http.MethodGet, "/sms", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestServerStoredSMS(t *testing.T) {
	t.Run("read", func(t *testing.T) {
		s, transport := newTestServer(t)
		transport.On("AT+CMGR=3", modem.Respond(
			"\r\n+CMGR: \"REC READ\",\"+989132383246\",\"\",\"19/01/17,10:06:21+14\"\r\nHi\r\n\r\nOK\r\n"))

		rec := do(s, http.MethodGet, "/sms/3", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, smsResponse{
			Index:  3,
			Status: "REC READ",
			Sender: "+989132383246",
			Time:   "19/01/17,10:06:21+14",
			Text:   "Hi",
		}, decode[smsResponse](t, rec))
	})

	t.Run("empty slot", func(t *testing.T) {
		s, _ := newTestServer(t)

		rec := do(s, http.MethodGet, "/sms/9", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("silent modem", func(t *testing.T) {
		s, transport := newTestServer(t)
		transport.On("AT+CMGR=")

		rec := do(s, http.MethodGet, "/sms/1", "")
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})

	t.Run("invalid index", func(t *testing.T) {
		s, transport := newTestServer(t)

		assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/sms/abc", "").Code)
		assert.Equal(t, http.StatusBadRequest, do(s, http.MethodDelete, "/sms/0", "").Code)
		assert.Empty(t, transport.Writes())
	})

	t.Run("delete", func(t *testing.T) {
		s, transport := newTestServer(t)

		rec := do(s, http.MethodDelete, "/sms/2", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, []string{"AT+CMGD=2\r\n"}, transport.Writes())
	})
}

func TestServerCalls(t *testing.T) {
	t.Run("miss call uses the default attempt count", func(t *testing.T) {
		s, transport := newTestServer(t)
		transport.On("ATD", modem.Respond("\r\nOK\r\n"), modem.After(time.Second, "\r\nBUSY\r\n"))

		rec := do(s, http.MethodPost, "/call/miss", `{"number":"09121234567"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[map[string]any](t, rec)
		assert.Equal(t, "exhausted", resp["result"])
		assert.Equal(t, false, resp["succeeded"])
		assert.EqualValues(t, 2, resp["attempts"])
		assert.Equal(t, "busy", resp["last"])
		assert.Equal(t, 2, transport.Count("ATD"))
	})

	t.Run("miss call delivered", func(t *testing.T) {
		s, transport := newTestServer(t)
		transport.On("ATD", modem.Respond("\r\nOK\r\n"), modem.After(time.Second, "\r\nMO RING\r\n"))

		rec := do(s, http.MethodPost, "/call/miss", `{"number":"09121234567","attempts":5}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decode[map[string]any](t, rec)["succeeded"])
	})

	t.Run("miss call without number", func(t *testing.T) {
		s, _ := newTestServer(t)

		rec := do(s, http.MethodPost, "/call/miss", `{"attempts":1}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("ussd", func(t *testing.T) {
		s, transport := newTestServer(t)
		transport.On(`AT+CUSD=1,"*140#"`,
			modem.Respond("\r\nOK\r\n"),
			modem.After(2*time.Second, "\r\n+CUSD: 0,\"Balance: 1200\",15\r\n"))

		rec := do(s, http.MethodPost, "/ussd", `{"code":"*140#"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Balance: 1200", decode[map[string]string](t, rec)["payload"])
	})

	t.Run("ussd timeout", func(t *testing.T) {
		s, _ := newTestServer(t)

		rec := do(s, http.MethodPost, "/ussd", `{"code":"*140#","timeout":3}`)
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})
}

func TestServerStatus(t *testing.T) {
	s, transport := newTestServer(t)
	transport.
		On("AT+CREG?", modem.Respond("\r\n+CREG: 0,5\r\n\r\nOK\r\n")).
		On("AT+CSQ", modem.Respond("\r\n+CSQ: 20,0\r\n\r\nOK\r\n")).
		On("AT+CPAS", modem.Respond("\r\n+CPAS: 0\r\n\r\nOK\r\n"))

	rec := do(s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[map[string]any](t, rec)
	assert.Equal(t, "registered", resp["registration"])
	assert.EqualValues(t, 1, resp["registration_code"])
	assert.EqualValues(t, -74, resp["signal"].(map[string]any)["dbm"])
	assert.Equal(t, "ready", resp["call"])
}

func TestServerMiddleware(t *testing.T) {
	t.Run("token required", func(t *testing.T) {
		s, transport := newTestServer(t)
		s.Token = "secret"

		assert.Equal(t, http.StatusUnauthorized, do(s, http.MethodDelete, "/sms/1", "").Code)
		assert.Equal(t, http.StatusUnauthorized,
			do(s, http.MethodDelete, "/sms/1", "", "Authorization", "Bearer wrong").Code)
		assert.Empty(t, transport.Writes())

		rec := do(s, http.MethodDelete, "/sms/1", "", "Authorization", "Bearer secret")
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("request id", func(t *testing.T) {
		s, _ := newTestServer(t)

		rec := do(s, http.MethodDelete, "/sms/1", "", "X-Request-ID", "req-1")
		assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))

		rec = do(s, http.MethodDelete, "/sms/1", "")
		assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
	})
}
