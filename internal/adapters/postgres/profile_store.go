package postgres

// Package postgres implements the ProfileStore port against the
// user_profiles table. Queries run over the pgx stdlib bridge so the rest of
// the application keeps working with a plain *sql.DB pool.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	domainauth "github.com/estoqueflow/sessiongate/internal/domain/auth"
)

// ProfileStore provides read and self-service write access to user profiles.
type ProfileStore struct {
	DB *sql.DB
}

// NewProfileStore creates a ProfileStore over an open pool.
func NewProfileStore(db *sql.DB) *ProfileStore {
	return &ProfileStore{DB: db}
}

// profileRow mirrors the user_profiles columns for pgx struct scanning.
type profileRow struct {
	UserID    string    `db:"user_id"`
	Email     string    `db:"email"`
	FullName  *string   `db:"full_name"`
	AvatarURL *string   `db:"avatar_url"`
	Role      string    `db:"role"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r profileRow) toDomain() (*domainauth.Profile, error) {
	p := &domainauth.Profile{
		UserID:    r.UserID,
		Email:     r.Email,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.FullName != nil {
		p.FullName = *r.FullName
	}
	if r.AvatarURL != nil {
		p.AvatarURL = *r.AvatarURL
	}
	if err := p.Role.UnmarshalText([]byte(r.Role)); err != nil {
		return nil, fmt.Errorf("profile %s: %w", r.UserID, err)
	}
	if err := p.Status.UnmarshalText([]byte(r.Status)); err != nil {
		return nil, fmt.Errorf("profile %s: %w", r.UserID, err)
	}
	return p, nil
}

const profileColumns = `user_id, email, full_name, avatar_url, role::text AS role, status::text AS status, created_at, updated_at`

// FetchByUserID returns the profile for userID, or (nil, nil) when no row
// exists. Zero rows is a normal outcome during the post-signup window where
// the profile row has not been provisioned yet.
func (s *ProfileStore) FetchByUserID(ctx context.Context, userID string) (*domainauth.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM user_profiles WHERE user_id = $1`

	var row profileRow
	err := withPgxConn(ctx, s.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		row, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[profileRow])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return row.toDomain()
}

// Update applies the non-nil fields of upd to the user's row. Updating a
// missing row is reported as sql.ErrNoRows so callers can classify it.
func (s *ProfileStore) Update(ctx context.Context, userID string, upd domainauth.ProfileUpdate) error {
	setParts := make([]string, 0, 3)
	args := make([]any, 0, 3)
	argIdx := 1

	if upd.FullName != nil {
		setParts = append(setParts, fmt.Sprintf("full_name = $%d", argIdx))
		args = append(args, *upd.FullName)
		argIdx++
	}
	if upd.AvatarURL != nil {
		setParts = append(setParts, fmt.Sprintf("avatar_url = $%d", argIdx))
		args = append(args, *upd.AvatarURL)
		argIdx++
	}
	if len(setParts) == 0 {
		return errors.New("no fields to update")
	}
	setParts = append(setParts, "updated_at = now()")

	args = append(args, userID)
	query := "UPDATE user_profiles SET " + strings.Join(setParts, ", ") +
		fmt.Sprintf(" WHERE user_id = $%d", argIdx)

	var affected int64
	err := withPgxConn(ctx, s.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		affected = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update profile %s: %w", userID, sql.ErrNoRows)
	}
	return nil
}

// withPgxConn acquires a *pgx.Conn via the stdlib bridge and executes fn
// with it.
func withPgxConn(ctx context.Context, db *sql.DB, fn func(*pgx.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	return conn.Raw(func(dc any) error {
		std, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		return fn(std.Conn())
	})
}
