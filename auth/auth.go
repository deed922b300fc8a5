// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package auth gates the dialer behind email/password accounts with
// mandatory email verification.
package auth

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrEmailNotVerified   = errors.New("email not verified yet")
	ErrUnknownEmail       = errors.New("no account with this email")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// Session is one signed-in browser session.
type Session struct {
	Token     string
	Email     string
	CreatedAt time.Time
}

// Provider is the authentication capability the console depends on.
type Provider interface {
	SignUp(email, password string) error
	SignIn(email, password string) (*Session, error)
	SignOut(token string)
	// SessionFor resolves a session token, or nil when it is not signed in.
	SessionFor(token string) *Session
	// VerifyEmail consumes a verification token sent at sign-up.
	VerifyEmail(token string) error
	ResendVerification(email string) error
	// RequestPasswordReset issues a reset token for the account. Unknown
	// emails succeed silently so the endpoint does not leak which
	// addresses have accounts.
	RequestPasswordReset(email string) error
	ResetPassword(token, newPassword string) error
}

// Mailer delivers verification and reset links.
type Mailer interface {
	SendVerification(email, token string) error
	SendPasswordReset(email, token string) error
}

// LogMailer writes mail to the log instead of sending it. Used in
// development deployments without an outbound mail service.
type LogMailer struct {
	Logger *zap.Logger
}

func (m *LogMailer) SendVerification(email, token string) error {
	m.Logger.Info("verification mail",
		zap.String("email", email),
		zap.String("token", token))
	return nil
}

func (m *LogMailer) SendPasswordReset(email, token string) error {
	m.Logger.Info("password reset mail",
		zap.String("email", email),
		zap.String("token", token))
	return nil
}

type account struct {
	email        string
	passwordHash []byte
	verified     bool
}

// MemoryProvider is an in-process Provider backed by bcrypt password
// hashes. Accounts and sessions do not survive a restart.
type MemoryProvider struct {
	mu         sync.Mutex
	accounts   map[string]*account
	sessions   map[string]*Session
	verifyToks map[string]string
	resetToks  map[string]string
	mailer     Mailer
	logger     *zap.Logger
	hashCost   int
}

// NewMemoryProvider creates an empty provider. mailer may be nil, in
// which case verification and reset mail is dropped.
func NewMemoryProvider(mailer Mailer, logger *zap.Logger) *MemoryProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryProvider{
		accounts:   make(map[string]*account),
		sessions:   make(map[string]*Session),
		verifyToks: make(map[string]string),
		resetToks:  make(map[string]string),
		mailer:     mailer,
		logger:     logger,
		hashCost:   bcrypt.DefaultCost,
	}
}

// SignUp creates an unverified account and sends a verification token.
func (p *MemoryProvider) SignUp(email, password string) error {
	email = normalizeEmail(email)
	if len(password) < 8 {
		return ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.hashCost)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if _, exists := p.accounts[email]; exists {
		p.mu.Unlock()
		return ErrEmailTaken
	}
	p.accounts[email] = &account{email: email, passwordHash: hash}
	token := uuid.NewString()
	p.verifyToks[token] = email
	p.mu.Unlock()

	p.sendVerification(email, token)
	return nil
}

// SignIn checks credentials and, for verified accounts, opens a session.
func (p *MemoryProvider) SignIn(email, password string) (*Session, error) {
	email = normalizeEmail(email)

	p.mu.Lock()
	acct, ok := p.accounts[email]
	p.mu.Unlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !acct.verified {
		return nil, ErrEmailNotVerified
	}

	sess := &Session{
		Token:     uuid.NewString(),
		Email:     email,
		CreatedAt: time.Now(),
	}
	p.mu.Lock()
	p.sessions[sess.Token] = sess
	p.mu.Unlock()
	p.logger.Info("signed in", zap.String("email", email))
	return sess, nil
}

// SignOut drops the session. Unknown tokens are ignored.
func (p *MemoryProvider) SignOut(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, token)
}

func (p *MemoryProvider) SessionFor(token string) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[token]
}

// VerifyEmail marks the token's account verified and consumes the token.
func (p *MemoryProvider) VerifyEmail(token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	email, ok := p.verifyToks[token]
	if !ok {
		return ErrInvalidToken
	}
	delete(p.verifyToks, token)
	acct, ok := p.accounts[email]
	if !ok {
		return ErrInvalidToken
	}
	acct.verified = true
	p.logger.Info("email verified", zap.String("email", email))
	return nil
}

// ResendVerification issues a fresh verification token for an unverified
// account.
func (p *MemoryProvider) ResendVerification(email string) error {
	email = normalizeEmail(email)

	p.mu.Lock()
	acct, ok := p.accounts[email]
	if !ok {
		p.mu.Unlock()
		return ErrUnknownEmail
	}
	if acct.verified {
		p.mu.Unlock()
		return nil
	}
	token := uuid.NewString()
	p.verifyToks[token] = email
	p.mu.Unlock()

	p.sendVerification(email, token)
	return nil
}

func (p *MemoryProvider) RequestPasswordReset(email string) error {
	email = normalizeEmail(email)

	p.mu.Lock()
	_, ok := p.accounts[email]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	token := uuid.NewString()
	p.resetToks[token] = email
	p.mu.Unlock()

	if p.mailer != nil {
		if err := p.mailer.SendPasswordReset(email, token); err != nil {
			p.logger.Warn("sending reset mail failed", zap.String("email", email), zap.Error(err))
		}
	}
	return nil
}

// ResetPassword sets a new password for the token's account, consumes
// the token, and drops the account's open sessions.
func (p *MemoryProvider) ResetPassword(token, newPassword string) error {
	if len(newPassword) < 8 {
		return ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), p.hashCost)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	email, ok := p.resetToks[token]
	if !ok {
		return ErrInvalidToken
	}
	delete(p.resetToks, token)
	acct, ok := p.accounts[email]
	if !ok {
		return ErrInvalidToken
	}
	acct.passwordHash = hash
	for t, sess := range p.sessions {
		if sess.Email == email {
			delete(p.sessions, t)
		}
	}
	p.logger.Info("password reset", zap.String("email", email))
	return nil
}

func (p *MemoryProvider) sendVerification(email, token string) {
	if p.mailer == nil {
		return
	}
	if err := p.mailer.SendVerification(email, token); err != nil {
		p.logger.Warn("sending verification mail failed", zap.String("email", email), zap.Error(err))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
