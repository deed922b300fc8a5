// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package console serves the dialer web UI.
package console

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/sprucehealth/dialtone/auth"
	"github.com/sprucehealth/dialtone/dialer"
	"github.com/sprucehealth/dialtone/history"
	"github.com/sprucehealth/dialtone/model"
	"github.com/sprucehealth/dialtone/settings"
)

//go:embed templates/*.html
var content embed.FS

const sessionCookie = "dialtone_session"

// Server provides the dialer web UI: settings, both call modes, history
// and export, behind the auth provider.
type Server struct {
	Addr string

	ledger     *history.Ledger
	cfg        *settings.Settings
	serverCtrl *dialer.ServerController
	clientCtrl *dialer.ClientController
	provider   auth.Provider
	logger     *zap.Logger

	server *http.Server
	tmpl   *template.Template
}

// NewServer creates the console server.
func NewServer(
	ledger *history.Ledger,
	cfg *settings.Settings,
	serverCtrl *dialer.ServerController,
	clientCtrl *dialer.ClientController,
	provider auth.Provider,
	logger *zap.Logger,
	addr string,
) (*Server, error) {
	if addr == "" {
		addr = ":8080"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tmpl, err := template.New("").ParseFS(content, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}

	s := &Server{
		Addr:       addr,
		ledger:     ledger,
		cfg:        cfg,
		serverCtrl: serverCtrl,
		clientCtrl: clientCtrl,
		provider:   provider,
		logger:     logger,
		tmpl:       tmpl,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.authed(s.handleDashboard))
	mux.HandleFunc("/settings", s.authed(s.handleSettings))
	mux.HandleFunc("/call", s.authed(s.handlePlaceCall))
	mux.HandleFunc("/hangup", s.authed(s.handleHangup))
	mux.HandleFunc("/reset", s.authed(s.handleReset))
	mux.HandleFunc("/webcall", s.authed(s.handleWebCall))
	mux.HandleFunc("/webcall/hangup", s.authed(s.handleWebHangup))
	mux.HandleFunc("/webcall/mute", s.authed(s.handleWebMute))
	mux.HandleFunc("/history/clear", s.authed(s.handleClearHistory))
	mux.HandleFunc("/export.csv", s.authed(s.handleExport))
	mux.HandleFunc("/api/state", s.authed(s.handleState))

	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/signup", s.handleSignup)
	mux.HandleFunc("/logout", s.handleLogout)
	mux.HandleFunc("/verify", s.handleVerify)
	mux.HandleFunc("/resend-verification", s.handleResendVerification)
	mux.HandleFunc("/reset-password", s.handleResetPassword)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s, nil
}

// Handler returns the route handler, for mounting in tests or behind an
// outer server.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the console server.
func (s *Server) Start() error {
	s.logger.Info("console listening", zap.String("addr", s.Addr))
	return s.server.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authed wraps a handler with the sign-in gate.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.sessionFor(r) == nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next(w, r)
	}
}

func (s *Server) sessionFor(r *http.Request) *auth.Session {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil
	}
	return s.provider.SessionFor(cookie.Value)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := map[string]any{
		"Email":         s.sessionFor(r).Email,
		"APIBase":       s.cfg.APIBase(),
		"APIBaseLocked": s.cfg.APIBaseLocked(),
		"FromPool":      s.cfg.FromPool(),
		"Agent":         s.cfg.Agent(),
		"ServerSID":     s.serverCtrl.SID(),
		"ServerStatus":  s.serverCtrl.Status(),
		"ServerErr":     errText(s.serverCtrl.Err()),
		"Polling":       s.serverCtrl.Polling(),
		"ClientReady":   s.clientCtrl.Ready(),
		"ActiveCall":    s.clientCtrl.ActiveCall(),
		"Muted":         s.clientCtrl.Muted(),
		"ClientSID":     s.clientCtrl.SID(),
		"ClientStatus":  s.clientCtrl.Status(),
		"ClientErr":     errText(s.clientCtrl.Err()),
		"History":       s.ledger.Entries(),
	}
	s.render(w, "dashboard.html", data)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.cfg.APIBaseLocked() {
		if err := s.cfg.SetAPIBase(r.FormValue("apiBase")); err != nil {
			s.logger.Warn("saving api base failed", zap.Error(err))
		}
	}
	if err := s.cfg.SetFromPool(r.FormValue("fromPool")); err != nil {
		s.logger.Warn("saving from pool failed", zap.Error(err))
	}
	if err := s.cfg.SetAgent(r.FormValue("agent")); err != nil {
		s.logger.Warn("saving agent failed", zap.Error(err))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handlePlaceCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	to := strings.TrimSpace(r.FormValue("to"))
	from := strings.TrimSpace(r.FormValue("from"))
	message := r.FormValue("message")
	if err := s.serverCtrl.PlaceCall(r.Context(), to, from, message); err != nil {
		s.logger.Warn("place call rejected", zap.Error(err))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.serverCtrl.HangUp(r.Context()); err != nil {
		s.logger.Warn("hangup rejected", zap.Error(err))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.serverCtrl.Reset()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleWebCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.clientCtrl.RegisterIfNeeded(r.Context()); err != nil {
		s.logger.Warn("voice registration failed", zap.Error(err))
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	to := strings.TrimSpace(r.FormValue("to"))
	from := strings.TrimSpace(r.FormValue("from"))
	if from == "" {
		if pool := s.cfg.FromPool(); len(pool) > 0 {
			from = pool[0]
		}
	}
	if err := s.clientCtrl.StartCall(r.Context(), to, from); err != nil {
		s.logger.Warn("web call rejected", zap.Error(err))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleWebHangup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.clientCtrl.HangUp(r.Context()); err != nil {
		s.logger.Warn("web hangup failed", zap.Error(err))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleWebMute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.clientCtrl.ToggleMute()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.ledger.Clear()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.ledger.Len() == 0 {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename=`+history.ExportFilename)
	if err := s.ledger.ExportCSV(w); err != nil {
		s.logger.Warn("history export failed", zap.Error(err))
	}
}

// handleState serves the dashboard state as JSON for the polling script.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state := struct {
		Server struct {
			SID     string           `json:"sid"`
			Status  model.CallStatus `json:"status"`
			Error   string           `json:"error,omitempty"`
			Polling bool             `json:"polling"`
		} `json:"server"`
		Client struct {
			SID        string           `json:"sid"`
			Status     model.CallStatus `json:"status"`
			Error      string           `json:"error,omitempty"`
			Ready      bool             `json:"ready"`
			ActiveCall bool             `json:"activeCall"`
			Muted      bool             `json:"muted"`
		} `json:"client"`
		History []model.HistoryEntry `json:"history"`
	}{}
	state.Server.SID = s.serverCtrl.SID()
	state.Server.Status = s.serverCtrl.Status()
	state.Server.Error = errText(s.serverCtrl.Err())
	state.Server.Polling = s.serverCtrl.Polling()
	state.Client.SID = s.clientCtrl.SID()
	state.Client.Status = s.clientCtrl.Status()
	state.Client.Error = errText(s.clientCtrl.Err())
	state.Client.Ready = s.clientCtrl.Ready()
	state.Client.ActiveCall = s.clientCtrl.ActiveCall()
	state.Client.Muted = s.clientCtrl.Muted()
	state.History = s.ledger.Entries()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.render(w, "login.html", map[string]any{})
	case http.MethodPost:
		sess, err := s.provider.SignIn(r.FormValue("email"), r.FormValue("password"))
		if err != nil {
			s.render(w, "login.html", map[string]any{"Error": err.Error()})
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    sess.Token,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, "/", http.StatusSeeOther)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.render(w, "signup.html", map[string]any{})
	case http.MethodPost:
		email := r.FormValue("email")
		if err := s.provider.SignUp(email, r.FormValue("password")); err != nil {
			s.render(w, "signup.html", map[string]any{"Error": err.Error()})
			return
		}
		s.render(w, "signup.html", map[string]any{
			"Notice": "Account created. Check your mail for the verification link.",
		})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		s.provider.SignOut(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if err := s.provider.VerifyEmail(token); err != nil {
		s.render(w, "login.html", map[string]any{"Error": err.Error()})
		return
	}
	s.render(w, "login.html", map[string]any{"Notice": "Email verified. You can sign in now."})
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.provider.ResendVerification(r.FormValue("email")); err != nil {
		s.render(w, "login.html", map[string]any{"Error": err.Error()})
		return
	}
	s.render(w, "login.html", map[string]any{"Notice": "Verification mail sent."})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.render(w, "reset.html", map[string]any{"Token": r.URL.Query().Get("token")})
	case http.MethodPost:
		token := r.FormValue("token")
		if token == "" {
			// No token yet: this is the "send me a reset link" form.
			if err := s.provider.RequestPasswordReset(r.FormValue("email")); err != nil {
				s.render(w, "reset.html", map[string]any{"Error": err.Error()})
				return
			}
			s.render(w, "reset.html", map[string]any{
				"Notice": "If that address has an account, a reset link is on its way.",
			})
			return
		}
		if err := s.provider.ResetPassword(token, r.FormValue("password")); err != nil {
			s.render(w, "reset.html", map[string]any{"Error": err.Error(), "Token": token})
			return
		}
		s.render(w, "login.html", map[string]any{"Notice": "Password updated. Sign in with the new one."})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) render(w http.ResponseWriter, name string, data map[string]any) {
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
