// Package history keeps the servers the client fully connected to.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"serverlink/internal/servers"
)

// ErrNoServer is returned when a history write has nothing to address.
var ErrNoServer = errors.New("server has no address")

// Entry is one remembered server. Address is unique; reconnecting to the
// same address refreshes the row instead of adding one.
type Entry struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	Address     string    `gorm:"size:255;uniqueIndex" json:"address"`
	ServerID    string    `gorm:"size:255" json:"server_id"`
	JoinID      string    `gorm:"size:32" json:"join_id,omitempty"`
	Hostname    string    `json:"hostname"`
	ProjectName string    `json:"project_name,omitempty"`
	GameName    string    `gorm:"size:32" json:"game_name,omitempty"`
	Native      string    `gorm:"type:text" json:"-"`
	Connects    int       `json:"connects"`
	ConnectedAt time.Time `gorm:"index" json:"connected_at"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Entry) TableName() string { return "history_servers" }

// NativeJSON returns the stored host blob, or nil when none was recorded.
func (e Entry) NativeJSON() json.RawMessage {
	if e.Native == "" {
		return nil
	}
	return json.RawMessage(e.Native)
}

type Store struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

// Open opens (creating if needed) the SQLite database at path. Use
// ":memory:" for a throwaway store.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &Store{db: db, log: log.Named("history"), now: time.Now}, nil
}

// AddHistoryServer records a completed connection to d. native is the
// host's own description of the server and is stored verbatim.
func (s *Store) AddHistoryServer(ctx context.Context, d *servers.ServerDescriptor, native json.RawMessage) error {
	if d == nil {
		return ErrNoServer
	}
	addr := d.HistoricalAddress
	if addr == "" {
		addr = d.ID
	}
	if addr == "" {
		return ErrNoServer
	}
	var blob string
	if len(native) > 0 && json.Valid(native) {
		blob = string(native)
	}

	e := Entry{
		Address:     addr,
		ServerID:    d.ID,
		JoinID:      d.JoinID,
		Hostname:    d.Hostname,
		ProjectName: d.ProjectName,
		GameName:    d.GameName,
		Native:      blob,
		Connects:    1,
		ConnectedAt: s.now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "address"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"server_id":    e.ServerID,
			"join_id":      e.JoinID,
			"hostname":     e.Hostname,
			"project_name": e.ProjectName,
			"game_name":    e.GameName,
			"native":       e.Native,
			"connected_at": e.ConnectedAt,
			"connects":     gorm.Expr("connects + 1"),
		}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("record %s: %w", addr, err)
	}
	s.log.Debug("recorded", zap.String("address", addr))
	return nil
}

// List returns up to limit entries, most recent first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	var items []Entry
	q := s.db.WithContext(ctx).Order("connected_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return items, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
