// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

// Package store persists issued certificates and session outcomes with
// gorm, mirroring the driver-selection shape of the command-line
// server's own database configuration.
package store

import (
	"errors"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Config selects the gorm driver and DSN, matching the
// type/dsn shape of the command-line server's own database config.
type Config struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

// StoredCert is a certificate accepted or issued by this endpoint,
// kept for audit and for serving print-pubkey --by-holder lookups.
type StoredCert struct {
	ID        uint `gorm:"primaryKey"`
	Holder    string
	Authority string
	Level     int
	Data      []byte // raw CVC TLV bytes, as produced by cvc.CvcWrap
	NotBefore string // YYMMDD, copied from Fields.From
	NotAfter  string // YYMMDD, copied from Fields.Until
	CreatedAt time.Time
}

// SessionRecord is one completed (or failed) BAUTH attempt, kept for
// audit trails.
type SessionRecord struct {
	ID        uint `gorm:"primaryKey"`
	Role      string // "T" or "CT"
	PeerHat   string // peer's holder name, once known
	Kca       bool
	Kcb       bool
	Outcome   string // "ok" or a berr.Kind string
	CreatedAt time.Time
}

// InitDb opens the configured database and migrates the store's
// models, mirroring the command-line server's own InitDb entry point.
func InitDb(cfg Config) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("store: dsn is required")
	}

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Type) {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, errors.New("store: unsupported database type: " + cfg.Type + " (must be 'sqlite' or 'postgres')")
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&StoredCert{}, &SessionRecord{}); err != nil {
		return nil, err
	}
	return db, nil
}

// SaveCert inserts a new StoredCert row.
func SaveCert(db *gorm.DB, c *StoredCert) error {
	return db.Create(c).Error
}

// CertsByHolder returns every stored certificate issued to the given
// holder, most recent first.
func CertsByHolder(db *gorm.DB, holder string) ([]StoredCert, error) {
	var out []StoredCert
	err := db.Where("holder = ?", holder).Order("created_at desc").Find(&out).Error
	return out, err
}

// SaveSession inserts a new SessionRecord row.
func SaveSession(db *gorm.DB, r *SessionRecord) error {
	return db.Create(r).Error
}
