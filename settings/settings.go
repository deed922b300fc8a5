// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package settings holds the user-tunable dialer configuration: the
// backend base URL, the caller-ID number pool, and the agent identity.
package settings

import (
	"errors"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
)

// Setting keys as stored.
const (
	keyAPIBase  = "apiBase"
	keyFromPool = "fromPool"
	keyAgent    = "agent"
)

// ErrAPIBaseLocked is returned when the deployment pins the API base and
// a caller tries to change it.
var ErrAPIBaseLocked = errors.New("api base url is locked by deployment configuration")

// Defaults are the environment-provided initial values. Stored values,
// once a user has saved any, win over these.
type Defaults struct {
	APIBase       string `envconfig:"API_BASE"`
	APIBaseLocked bool   `envconfig:"API_BASE_LOCKED"`
	FromPool      string `envconfig:"FROM_POOL"`
	Agent         string `envconfig:"AGENT"`
}

// DefaultsFromEnv reads defaults from DIALTONE_* environment variables.
func DefaultsFromEnv() (Defaults, error) {
	var d Defaults
	if err := envconfig.Process("dialtone", &d); err != nil {
		return Defaults{}, err
	}
	return d, nil
}

// Store persists individual settings values.
type Store interface {
	SetSetting(key, value string) error
	GetSetting(key string) (value string, ok bool, err error)
}

// Settings is the live, mutable dialer configuration.
type Settings struct {
	mu       sync.RWMutex
	store    Store
	locked   bool
	apiBase  string
	fromPool string
	agent    string
}

// New creates settings hydrated from store, falling back to defaults for
// keys never stored. Store read failures fall back to defaults as well.
func New(store Store, defaults Defaults) *Settings {
	s := &Settings{
		store:    store,
		locked:   defaults.APIBaseLocked,
		apiBase:  trimBase(defaults.APIBase),
		fromPool: defaults.FromPool,
		agent:    defaults.Agent,
	}
	if store != nil {
		if !s.locked {
			if v, ok, err := store.GetSetting(keyAPIBase); err == nil && ok {
				s.apiBase = trimBase(v)
			}
		}
		if v, ok, err := store.GetSetting(keyFromPool); err == nil && ok {
			s.fromPool = v
		}
		if v, ok, err := store.GetSetting(keyAgent); err == nil && ok {
			s.agent = v
		}
	}
	return s
}

// APIBase returns the backend base URL without a trailing slash. Empty
// means not configured.
func (s *Settings) APIBase() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiBase
}

// APIBaseLocked reports whether the base URL is pinned by deployment
// configuration.
func (s *Settings) APIBaseLocked() bool {
	return s.locked
}

// SetAPIBase updates the backend base URL. Fails when the deployment has
// locked it.
func (s *Settings) SetAPIBase(base string) error {
	if s.locked {
		return ErrAPIBaseLocked
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiBase = trimBase(base)
	return s.persist(keyAPIBase, s.apiBase)
}

// FromPool returns the caller-ID numbers: the comma-separated stored
// value split, trimmed, with empty items dropped.
func (s *Settings) FromPool() []string {
	s.mu.RLock()
	raw := s.fromPool
	s.mu.RUnlock()

	var pool []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			pool = append(pool, item)
		}
	}
	return pool
}

// SetFromPool stores the raw comma-separated caller-ID pool.
func (s *Settings) SetFromPool(raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fromPool = raw
	return s.persist(keyFromPool, raw)
}

// Agent returns the configured agent identity, possibly empty.
func (s *Settings) Agent() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agent
}

// SetAgent updates the agent identity.
func (s *Settings) SetAgent(agent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agent = strings.TrimSpace(agent)
	return s.persist(keyAgent, s.agent)
}

func (s *Settings) persist(key, value string) error {
	if s.store == nil {
		return nil
	}
	return s.store.SetSetting(key, value)
}

func trimBase(base string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/")
}
