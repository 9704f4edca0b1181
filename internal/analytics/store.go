// Package analytics is an optional SQL audit mirror for closed positions
// (spec SPEC_FULL.md domain-stack: gorm + postgres/sqlite). It is NOT the
// primary persistence mechanism — internal/store's flat JSON files remain
// the source of truth the rest of the system reads and writes — this
// package exists purely so operators can run SQL reporting queries over
// trade history without parsing JSON.
//
// Grounded on the teacher's internal/database/database.go: same
// postgres-DSN-prefix-or-sqlite-fallback New(), same AutoMigrate-on-boot
// pattern, same Silent-logger gorm.Config, generalized from Polymarket's
// Trade/ArbTrade/ScalpTrade tables to one ClosedPosition row per
// SignalPosition lifecycle.
package analytics

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/driftline/signalbot/internal/types"
)

// ClosedPosition is the one-row-per-closed-position audit record.
type ClosedPosition struct {
	ID                string `gorm:"primaryKey"`
	SignalID          string `gorm:"index"`
	Symbol            string `gorm:"index"`
	Exchange          string
	Direction         string
	PlannedEntryPrice decimal.Decimal `gorm:"type:decimal(20,8)"`
	ActualEntryPrice  decimal.Decimal `gorm:"type:decimal(20,8)"`
	InitialQuantity   decimal.Decimal `gorm:"type:decimal(20,8)"`
	Leverage          int
	RealizedPnl       decimal.Decimal `gorm:"type:decimal(20,8)"`
	CloseReason       string
	ProtectionIncomplete bool
	OpenedAt          time.Time
	ClosedAt          time.Time
	CreatedAt         time.Time
}

func (ClosedPosition) TableName() string { return "closed_positions" }

// Store wraps a gorm.DB with the one write path analytics needs.
type Store struct {
	db *gorm.DB
}

// New opens a postgres connection when driver is "postgres" or dsn looks
// like a postgres URL, otherwise treats dsn as a sqlite file path, as the teacher's
// database.New does.
func New(dsn, driver string) (*Store, error) {
	var db *gorm.DB
	var err error

	isPostgres := driver == "postgres" || strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
	if isPostgres {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("analytics store connected (postgres)")
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("analytics store connected (sqlite)")
	}

	if err := db.AutoMigrate(&ClosedPosition{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Record mirrors one terminal SignalPosition into the audit table. Errors
// are logged, never surfaced to the caller — analytics is best-effort and
// must never block or fail a live position close.
func (s *Store) Record(pos *types.SignalPosition) {
	row := ClosedPosition{
		ID:                   pos.ID,
		SignalID:             pos.SignalID,
		Symbol:               pos.Symbol,
		Exchange:             string(pos.Exchange),
		Direction:            string(pos.Direction),
		PlannedEntryPrice:    pos.PlannedEntryPrice,
		ActualEntryPrice:     pos.ActualEntryPrice,
		InitialQuantity:      pos.InitialQuantity,
		Leverage:             pos.Leverage,
		RealizedPnl:          pos.RealizedPnl,
		CloseReason:          string(pos.CloseReason),
		ProtectionIncomplete: pos.ProtectionIncomplete,
	}
	if pos.OpenedAt != nil {
		row.OpenedAt = *pos.OpenedAt
	}
	if pos.ClosedAt != nil {
		row.ClosedAt = *pos.ClosedAt
	}
	if err := s.db.Save(&row).Error; err != nil {
		log.Error().Err(err).Str("position", pos.ID).Msg("failed to mirror closed position to analytics store")
	}
}

// TotalRealizedPnl sums RealizedPnl across every mirrored closed position,
// the kind of ad-hoc SQL rollup this store exists to make easy.
func (s *Store) TotalRealizedPnl() (decimal.Decimal, error) {
	var total decimal.Decimal
	row := s.db.Model(&ClosedPosition{}).Select("COALESCE(SUM(realized_pnl), 0)").Row()
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}
