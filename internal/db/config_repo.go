package db

import (
	"context"
	"time"

	"quora/internal/types"
)

// ConfigRepository persists named plugin checkpoints in site_config.
type ConfigRepository struct {
	db DBTX
}

// NewConfigRepository creates a new ConfigRepository backed by the given
// database connection (pool or transaction).
func NewConfigRepository(db DBTX) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// GetTime returns a stored timestamp. ok is false when the key is unset.
func (r *ConfigRepository) GetTime(ctx context.Context, plugin, name string) (t time.Time, ok bool, err error) {
	err = r.db.QueryRow(ctx,
		`SELECT value_time FROM site_config WHERE plugin = $1 AND name = $2`,
		plugin,
		name,
	).Scan(&t)
	if err != nil {
		if isNoRows(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, types.NewAppError(types.ErrCodeInternalDB, "failed to read config checkpoint", err)
	}
	return t.UTC(), true, nil
}

// SetTime stores a timestamp, replacing any previous value.
func (r *ConfigRepository) SetTime(ctx context.Context, plugin, name string, t time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO site_config (plugin, name, value_time) VALUES ($1, $2, $3)
		 ON CONFLICT (plugin, name) DO UPDATE SET value_time = EXCLUDED.value_time`,
		plugin,
		name,
		t,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to write config checkpoint", err)
	}
	return nil
}
