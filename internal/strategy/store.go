package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"straddle-core/pkg/db"
)

// Store persists straddle configs in SQLite. The full config lives in a JSON
// document; exit status and reason are mirrored into columns that only move forward.
type Store struct {
	db *db.Database
}

// NewStore wraps a migrated database.
func NewStore(database *db.Database) *Store {
	return &Store{db: database}
}

// FindActive returns every active config. Rows that fail to decode or validate are skipped.
func (s *Store) FindActive(ctx context.Context) ([]Config, error) {
	rows, err := s.db.ListActiveStraddleConfigs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Config, 0, len(rows))
	for _, r := range rows {
		cfg, err := fromRow(r)
		if err != nil {
			log.Printf("strategy: skipping config %s: %v", r.ID, err)
			continue
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Get loads one config by id.
func (s *Store) Get(ctx context.Context, id string) (Config, error) {
	r, err := s.db.GetStraddleConfig(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return Config{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Config{}, err
	}
	return fromRow(r)
}

// Upsert inserts or replaces a config.
func (s *Store) Upsert(ctx context.Context, cfg Config) error {
	r, err := toRow(cfg)
	if err != nil {
		return err
	}
	return s.db.UpsertStraddleConfig(ctx, r)
}

// Update rewrites config id. The stored exit status never moves backward.
func (s *Store) Update(ctx context.Context, id string, cfg Config) error {
	cfg.ID = id
	r, err := toRow(cfg)
	if err != nil {
		return err
	}
	err = s.db.UpdateStraddleConfig(ctx, r)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

func toRow(cfg Config) (db.StraddleConfigRow, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return db.StraddleConfigRow{}, err
	}
	cfg.UpdatedAt = time.Now()
	data, err := json.Marshal(cfg)
	if err != nil {
		return db.StraddleConfigRow{}, fmt.Errorf("marshal config %s: %w", cfg.ID, err)
	}
	return db.StraddleConfigRow{
		ID:           cfg.ID,
		StrategyName: cfg.StrategyName,
		Exchange:     cfg.Exchange,
		Token:        cfg.Token,
		Side:         string(cfg.Side),
		IsActive:     cfg.IsActive,
		ExitStatus:   string(cfg.ExitStatus),
		ExitReason:   cfg.ExitReason,
		Data:         string(data),
	}, nil
}

func fromRow(r db.StraddleConfigRow) (Config, error) {
	var cfg Config
	if err := json.Unmarshal([]byte(r.Data), &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %s: decode: %v", ErrInvalidConfig, r.ID, err)
	}
	cfg.ID = r.ID
	cfg.IsActive = r.IsActive
	// Columns are authoritative for exit state.
	cfg.ExitStatus = ExitStatus(r.ExitStatus)
	cfg.ExitReason = r.ExitReason
	cfg.UpdatedAt = r.UpdatedAt
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
