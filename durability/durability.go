// Package durability is the optional snapshot wrapper spec.md §6 allows but
// does not require: "A durability wrapper may snapshot the OMS / Position
// Tracker dictionaries and the audit logs; the specification does not
// prescribe format." The in-memory stores in oms and position remain the
// source of truth; this package is purely an out-of-band backup/restore
// path.
//
// Grounded on internal/database/database.go's dialect-switch-on-DSN-prefix
// and AutoMigrate pattern: a postgres:// DSN opens a Postgres connection,
// anything else is treated as a sqlite file path.
package durability

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

	"github.com/cairnfi/execore/oms"
	"github.com/cairnfi/execore/position"
)

// OrderSnapshot is the gorm-mapped row for one managed order.
type OrderSnapshot struct {
	InternalID       string `gorm:"primaryKey"`
	ClientOrderID    string `gorm:"index"`
	BrokerOrderID    string `gorm:"index"`
	Symbol           string
	Side             string
	Quantity         decimal.Decimal `gorm:"type:decimal(24,8)"`
	Kind             string
	ProducerID       string `gorm:"index"`
	FilledQuantity   decimal.Decimal `gorm:"type:decimal(24,8)"`
	AverageFillPrice decimal.Decimal `gorm:"type:decimal(24,8)"`
	State            string
	UpdatedAt        time.Time
}

// PositionSnapshot is the gorm-mapped row for one tracked position.
type PositionSnapshot struct {
	PositionID        string `gorm:"primaryKey"`
	Symbol            string `gorm:"index"`
	ProducerID        string `gorm:"index"`
	Quantity          decimal.Decimal `gorm:"type:decimal(24,8)"`
	AverageEntryPrice decimal.Decimal `gorm:"type:decimal(24,8)"`
	RealizedPnL       decimal.Decimal `gorm:"type:decimal(24,8)"`
	UpdatedAt         time.Time
}

// Store is the durability wrapper. Opened against either a sqlite file path
// or a postgres:// DSN.
type Store struct {
	db *gorm.DB
}

// Open connects and auto-migrates the snapshot tables.
func Open(dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("durability store connected (postgres)")
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("durability store initialized (sqlite)")
	}

	if err := db.AutoMigrate(&OrderSnapshot{}, &PositionSnapshot{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// SnapshotOrders persists every managed order in the OMS. Upserts by
// primary key, so repeated calls simply refresh existing rows.
func (s *Store) SnapshotOrders(o *oms.OMS) error {
	for _, order := range o.GetAllOrders() {
		row := OrderSnapshot{
			InternalID:       order.InternalID.String(),
			ClientOrderID:    order.ClientOrderID,
			BrokerOrderID:    order.BrokerOrderID,
			Symbol:           order.Symbol,
			Side:             string(order.Side),
			Quantity:         order.Quantity,
			Kind:             string(order.Kind),
			ProducerID:       order.ProducerID,
			FilledQuantity:   order.FilledQuantity,
			AverageFillPrice: order.AverageFillPrice,
			State:            string(order.State),
			UpdatedAt:        order.UpdatedAt,
		}
		if err := s.db.Save(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// SnapshotPositions persists every tracked position (open and closed).
func (s *Store) SnapshotPositions(t *position.Tracker) error {
	for _, p := range t.GetAllPositions() {
		row := PositionSnapshot{
			PositionID:        p.PositionID.String(),
			Symbol:            p.Symbol,
			ProducerID:        p.ProducerID,
			Quantity:          p.Quantity,
			AverageEntryPrice: p.AverageEntryPrice,
			RealizedPnL:       p.RealizedPnL,
			UpdatedAt:         p.UpdatedAt,
		}
		if err := s.db.Save(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// LoadOrderSnapshots returns every persisted order row, for a host
// application to replay into a fresh OMS at startup.
func (s *Store) LoadOrderSnapshots() ([]OrderSnapshot, error) {
	var rows []OrderSnapshot
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// LoadPositionSnapshots returns every persisted position row.
func (s *Store) LoadPositionSnapshots() ([]PositionSnapshot, error) {
	var rows []PositionSnapshot
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
