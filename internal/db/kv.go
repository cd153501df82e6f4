package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/viral-agents/internal/types"
)

// PreferenceProfileKey is the kv_store key of the learned preference profile
const PreferenceProfileKey = "user_preference_profile"

// GetKV reads a JSON value into out. Returns false when the key is absent.
func (db *DB) GetKV(ctx context.Context, key string, out any) (bool, error) {
	var value []byte
	err := db.pool.QueryRow(ctx, `SELECT value FROM kv_store WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(value, out); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// PutKV replaces the value stored under key
func (db *DB) PutKV(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO kv_store (key, value, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, data,
	)
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// GetPreferenceProfile returns the learned profile, or nil, nil when none has been learned
func (db *DB) GetPreferenceProfile(ctx context.Context) (*types.PreferenceProfile, error) {
	var p types.PreferenceProfile
	ok, err := db.GetKV(ctx, PreferenceProfileKey, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// PutPreferenceProfile replaces the learned profile wholesale
func (db *DB) PutPreferenceProfile(ctx context.Context, p *types.PreferenceProfile) error {
	return db.PutKV(ctx, PreferenceProfileKey, p)
}
