// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package console_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sprucehealth/dialtone/auth"
	"github.com/sprucehealth/dialtone/backend"
	"github.com/sprucehealth/dialtone/console"
	"github.com/sprucehealth/dialtone/dialer"
	"github.com/sprucehealth/dialtone/history"
	"github.com/sprucehealth/dialtone/model"
	"github.com/sprucehealth/dialtone/settings"
)

type captureMailer struct {
	verifyToken string
}

func (m *captureMailer) SendVerification(email, token string) error {
	m.verifyToken = token
	return nil
}

func (m *captureMailer) SendPasswordReset(email, token string) error {
	return nil
}

type testDeps struct {
	ledger   *history.Ledger
	provider *auth.MemoryProvider
	mailer   *captureMailer
}

func newTestServer(t *testing.T) (*console.Server, *testDeps) {
	t.Helper()

	ledger := history.New(nil, nil)
	cfg := settings.New(nil, settings.Defaults{
		APIBase:  "https://api.example.com",
		FromPool: "+442012345678",
		Agent:    "alice",
	})
	api := backend.New(backend.WithTransport(backend.NewRecorder()))
	factory := func(token string) (dialer.VoiceClient, error) {
		return dialer.NewMockVoiceClient(token), nil
	}
	serverCtrl := dialer.NewServerController(api, ledger, cfg)
	clientCtrl := dialer.NewClientController(api, ledger, cfg, factory, "http://localhost:8080")
	mailer := &captureMailer{}
	provider := auth.NewMemoryProvider(mailer, nil)

	srv, err := console.NewServer(ledger, cfg, serverCtrl, clientCtrl, provider, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	return srv, &testDeps{ledger: ledger, provider: provider, mailer: mailer}
}

func signIn(t *testing.T, srv *console.Server, deps *testDeps) *http.Cookie {
	t.Helper()
	if err := deps.provider.SignUp("alice@example.com", "correct horse"); err != nil {
		t.Fatal(err)
	}
	if err := deps.provider.VerifyEmail(deps.mailer.verifyToken); err != nil {
		t.Fatal(err)
	}

	form := url.Values{"email": {"alice@example.com"}, "password": {"correct horse"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("login status: %d", w.Code)
	}
	for _, c := range w.Result().Cookies() {
		if c.Name == "dialtone_session" && c.Value != "" {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestDashboardRequiresSignIn(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/login" {
		t.Fatalf("status=%d location=%q", w.Code, w.Header().Get("Location"))
	}
}

func TestSignInAndDashboard(t *testing.T) {
	srv, deps := newTestServer(t)
	cookie := signIn(t, srv, deps)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "alice@example.com") {
		t.Fatal("dashboard missing signed-in email")
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	srv, deps := newTestServer(t)
	signIn(t, srv, deps)

	form := url.Values{"email": {"alice@example.com"}, "password": {"wrong"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "invalid email or password") {
		t.Fatal("error message missing")
	}
}

func TestExportDownload(t *testing.T) {
	srv, deps := newTestServer(t)
	cookie := signIn(t, srv, deps)
	deps.ledger.Append(model.HistoryEntry{
		SID:       "CA1",
		To:        "+447700900123",
		From:      "+442012345678",
		Agent:     "alice",
		StartedAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		Status:    model.CallQueued,
	})

	req := httptest.NewRequest(http.MethodGet, "/export.csv", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "text/csv" {
		t.Fatalf("content type: %q", got)
	}
	if got := w.Header().Get("Content-Disposition"); !strings.Contains(got, "call-history.csv") {
		t.Fatalf("disposition: %q", got)
	}
	if !strings.HasPrefix(w.Body.String(), `"sid","agent","to","from"`) {
		t.Fatalf("body: %q", w.Body.String())
	}
}

func TestExportWithEmptyHistoryRedirects(t *testing.T) {
	srv, deps := newTestServer(t)
	cookie := signIn(t, srv, deps)

	req := httptest.NewRequest(http.MethodGet, "/export.csv", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestStateEndpoint(t *testing.T) {
	srv, deps := newTestServer(t)
	cookie := signIn(t, srv, deps)

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"server"`) || !strings.Contains(body, `"client"`) {
		t.Fatalf("body: %s", body)
	}
}

func TestLogout(t *testing.T) {
	srv, deps := newTestServer(t)
	cookie := signIn(t, srv, deps)

	req := httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status: %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/login" {
		t.Fatal("session survived logout")
	}
}
