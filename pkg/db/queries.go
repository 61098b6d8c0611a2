package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// StraddleConfigRow is the stored form of a straddle strategy config.
// Data carries the full config document; the other columns are query keys.
type StraddleConfigRow struct {
	ID           string
	StrategyName string
	Exchange     string
	Token        string
	Side         string
	IsActive     bool
	ExitStatus   string
	ExitReason   string
	Data         string
	UpdatedAt    time.Time
}

// exitRank orders exit statuses so stored status only ever moves forward.
const exitRank = `(CASE %s WHEN 'EXITED' THEN 2 WHEN 'EXITING' THEN 1 ELSE 0 END)`

var (
	newRank = fmt.Sprintf(exitRank, "excluded.exit_status")
	oldRank = fmt.Sprintf(exitRank, "straddle_configs.exit_status")
)

// UpsertStraddleConfig inserts or replaces a config row. Exit status never moves backward.
func (d *Database) UpsertStraddleConfig(ctx context.Context, r StraddleConfigRow) error {
	if r.ID == "" {
		return errors.New("config id is empty")
	}
	if r.ExitStatus == "" {
		r.ExitStatus = "ACTIVE"
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO straddle_configs (
			id, strategy_name, exchange, token, side, is_active, exit_status, exit_reason, data, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			strategy_name = excluded.strategy_name,
			exchange = excluded.exchange,
			token = excluded.token,
			side = excluded.side,
			is_active = excluded.is_active,
			data = excluded.data,
			exit_status = CASE WHEN `+newRank+` > `+oldRank+` THEN excluded.exit_status ELSE straddle_configs.exit_status END,
			exit_reason = CASE WHEN `+newRank+` > `+oldRank+` THEN excluded.exit_reason ELSE straddle_configs.exit_reason END,
			updated_at = CURRENT_TIMESTAMP
	`, r.ID, r.StrategyName, r.Exchange, r.Token, r.Side, r.IsActive, r.ExitStatus, r.ExitReason, r.Data)
	if err != nil {
		return fmt.Errorf("upsert straddle config %s: %w", r.ID, err)
	}
	return nil
}

// UpdateStraddleConfig rewrites an existing row, keeping exit status monotonic.
// A write carrying an older exit status than the stored one keeps the stored data.
func (d *Database) UpdateStraddleConfig(ctx context.Context, r StraddleConfigRow) error {
	rank := fmt.Sprintf(exitRank, "?")
	cur := fmt.Sprintf(exitRank, "exit_status")
	res, err := d.DB.ExecContext(ctx, `
		UPDATE straddle_configs SET
			strategy_name = ?,
			exchange = ?,
			token = ?,
			side = ?,
			is_active = ?,
			data = CASE WHEN `+rank+` < `+cur+` THEN data ELSE ? END,
			exit_reason = CASE WHEN `+rank+` > `+cur+` THEN ? ELSE exit_reason END,
			exit_status = CASE WHEN `+rank+` > `+cur+` THEN ? ELSE exit_status END,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, r.StrategyName, r.Exchange, r.Token, r.Side, r.IsActive,
		r.ExitStatus, r.Data,
		r.ExitStatus, r.ExitReason,
		r.ExitStatus, r.ExitStatus,
		r.ID)
	if err != nil {
		return fmt.Errorf("update straddle config %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStraddleConfig loads one config row by id.
func (d *Database) GetStraddleConfig(ctx context.Context, id string) (StraddleConfigRow, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, strategy_name, exchange, token, side, is_active, exit_status,
		       COALESCE(exit_reason, ''), data, updated_at
		FROM straddle_configs WHERE id = ?
	`, id)
	r, err := scanStraddleConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StraddleConfigRow{}, ErrNotFound
	}
	return r, err
}

// ListActiveStraddleConfigs returns every active config row ordered by id.
func (d *Database) ListActiveStraddleConfigs(ctx context.Context) ([]StraddleConfigRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, strategy_name, exchange, token, side, is_active, exit_status,
		       COALESCE(exit_reason, ''), data, updated_at
		FROM straddle_configs
		WHERE is_active = 1
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query straddle configs: %w", err)
	}
	defer rows.Close()

	var out []StraddleConfigRow
	for rows.Next() {
		r, err := scanStraddleConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStraddleConfig(s rowScanner) (StraddleConfigRow, error) {
	var r StraddleConfigRow
	if err := s.Scan(&r.ID, &r.StrategyName, &r.Exchange, &r.Token, &r.Side, &r.IsActive,
		&r.ExitStatus, &r.ExitReason, &r.Data, &r.UpdatedAt); err != nil {
		return StraddleConfigRow{}, err
	}
	return r, nil
}
