// Package audit persists a history of orchestration events for the status
// API. The store is optional; when it is absent the engine keeps only its
// in-memory forecast history.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"k8s.io/klog/v2"
)

// Record kinds stored in the events table.
const (
	KindForecast  = "forecast"
	KindMigration = "migration"
	KindTask      = "task"
)

// Event is one persisted orchestration event. Payload is the JSON of the
// originating event struct.
type Event struct {
	ID      uint      `gorm:"primaryKey" json:"id"`
	Kind    string    `gorm:"index" json:"kind"`
	Subject string    `gorm:"index" json:"subject"`
	Payload string    `json:"payload"`
	At      time.Time `gorm:"index" json:"at"`
}

// Store wraps the sqlite-backed event history.
type Store struct {
	db *gorm.DB
}

// Open connects to (or creates) the sqlite database and migrates the
// schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("migrate audit store: %w", err)
	}
	klog.Infof("Audit store opened at %s", path)
	return &Store{db: db}, nil
}

// Append persists one event. Failures are logged and swallowed: audit is
// best-effort and must never stall a control loop.
func (s *Store) Append(kind, subject string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		klog.Warningf("Audit encode failed (kind=%s subject=%s): %v", kind, subject, err)
		return
	}
	ev := Event{Kind: kind, Subject: subject, Payload: string(raw), At: time.Now()}
	if err := s.db.Create(&ev).Error; err != nil {
		klog.Warningf("Audit append failed (kind=%s subject=%s): %v", kind, subject, err)
	}
}

// Recent returns up to limit events, newest first, optionally filtered by
// kind.
func (s *Store) Recent(kind string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.Order("id desc").Limit(limit)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var out []Event
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
