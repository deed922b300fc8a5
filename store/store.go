// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package store persists call history and settings in a local sqlite
// database via gorm. A single handle backs both concerns.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sprucehealth/dialtone/model"
)

// Store is a sqlite-backed persistence layer.
type Store struct {
	db *gorm.DB
}

// callRow mirrors one history entry. Position preserves the newest-first
// ledger order across save/load.
type callRow struct {
	ID          uint   `gorm:"primarykey"`
	Position    int    `gorm:"index"`
	SID         string `gorm:"column:sid;uniqueIndex"`
	To          string `gorm:"column:to_number"`
	From        string `gorm:"column:from_number"`
	Agent       string
	Message     string
	StartedAt   time.Time
	EndedAt     *time.Time
	Status      string
	DurationSec *int
}

func (callRow) TableName() string {
	return "call_entries"
}

// settingRow is one key/value settings pair.
type settingRow struct {
	Key   string `gorm:"primarykey"`
	Value string
}

func (settingRow) TableName() string {
	return "settings"
}

// Open opens (creating if needed) the sqlite database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	if err := db.AutoMigrate(&callRow{}, &settingRow{}); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveHistory replaces the persisted call history with entries, keeping
// their order.
func (s *Store) SaveHistory(entries []model.HistoryEntry) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&callRow{}).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		rows := make([]callRow, 0, len(entries))
		for i, e := range entries {
			rows = append(rows, callRow{
				Position:    i,
				SID:         e.SID,
				To:          e.To,
				From:        e.From,
				Agent:       e.Agent,
				Message:     e.Message,
				StartedAt:   e.StartedAt,
				EndedAt:     e.EndedAt,
				Status:      string(e.Status),
				DurationSec: e.DurationSec,
			})
		}
		return tx.Create(&rows).Error
	})
}

// LoadHistory returns the persisted call history in its saved order.
func (s *Store) LoadHistory() ([]model.HistoryEntry, error) {
	var rows []callRow
	if err := s.db.Order("position asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading call history: %w", err)
	}
	entries := make([]model.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, model.HistoryEntry{
			SID:         r.SID,
			To:          r.To,
			From:        r.From,
			Agent:       r.Agent,
			Message:     r.Message,
			StartedAt:   r.StartedAt,
			EndedAt:     r.EndedAt,
			Status:      model.CallStatus(r.Status),
			DurationSec: r.DurationSec,
		})
	}
	return entries, nil
}

// SetSetting upserts one settings key.
func (s *Store) SetSetting(key, value string) error {
	row := settingRow{Key: key, Value: value}
	err := s.db.Save(&row).Error
	if err != nil {
		return fmt.Errorf("saving setting %s: %w", key, err)
	}
	return nil
}

// GetSetting returns the value for key. The second return is false when
// the key has never been set.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var row settingRow
	err := s.db.First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("loading setting %s: %w", key, err)
	}
	return row.Value, true, nil
}
