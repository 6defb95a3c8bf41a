package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lunara-app/service-cycle-go/internal/cycle"
	"github.com/lunara-app/service-cycle-go/internal/cycle/entity"
)

// SQLStore keeps one versioned JSON document per user in the cycle_profiles
// table. The SQL is portable across the postgres and sqlite drivers; writes
// serialize through compare-and-swap on the version column.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore constructs a store over an existing sqlx connection.
func NewSQLStore(db *sqlx.DB) *SQLStore { return &SQLStore{db: db} }

var _ cycle.Store = (*SQLStore)(nil)

// EnsureSchema creates the profiles table if missing. Production deployments
// run cmd/migrate instead; this keeps the sqlite dev mode zero-setup.
func (r *SQLStore) EnsureSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS cycle_profiles (
		user_id    TEXT PRIMARY KEY,
		profile    TEXT NOT NULL,
		version    BIGINT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *SQLStore) Get(ctx context.Context, userID string) (*entity.CycleProfile, int64, error) {
	const q = `SELECT profile, version FROM cycle_profiles WHERE user_id=$1`
	var row struct {
		Profile string `db:"profile"`
		Version int64  `db:"version"`
	}
	if err := r.db.GetContext(ctx, &row, q, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, &cycle.NotFoundError{Kind: "profile", ID: userID}
		}
		return nil, 0, fmt.Errorf("get profile: %w", err)
	}
	var p entity.CycleProfile
	if err := json.Unmarshal([]byte(row.Profile), &p); err != nil {
		return nil, 0, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	return &p, row.Version, nil
}

func (r *SQLStore) Create(ctx context.Context, profile *entity.CycleProfile) error {
	doc, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	const q = `INSERT INTO cycle_profiles (user_id, profile, version, updated_at) VALUES ($1, $2, 1, $3)`
	if _, err := r.db.ExecContext(ctx, q, profile.UserID, string(doc), profile.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return cycle.ErrVersionConflict
		}
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (r *SQLStore) Update(ctx context.Context, profile *entity.CycleProfile, expectedVersion int64) error {
	doc, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	const q = `UPDATE cycle_profiles SET profile=$2, version=version+1, updated_at=$3
		WHERE user_id=$1 AND version=$4`
	res, err := r.db.ExecContext(ctx, q, profile.UserID, string(doc), profile.UpdatedAt, expectedVersion)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if rows == 0 {
		// Row present means the version moved under us; absent means deleted.
		var one int
		err := r.db.GetContext(ctx, &one, `SELECT 1 FROM cycle_profiles WHERE user_id=$1`, profile.UserID)
		if errors.Is(err, sql.ErrNoRows) {
			return &cycle.NotFoundError{Kind: "profile", ID: profile.UserID}
		}
		if err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		return cycle.ErrVersionConflict
	}
	return nil
}

func (r *SQLStore) UserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM cycle_profiles ORDER BY user_id`); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return ids, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// modernc sqlite reports constraint violations by message only.
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed")
}
