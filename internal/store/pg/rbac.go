package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"intakeportal.org/internal/auth"
	"intakeportal.org/internal/ids"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var (
	_ auth.ProfileStore = (*Store)(nil)
	_ auth.FirmStore    = (*Store)(nil)
)

const profileColumns = `user_id, role, firm_id, first_name, last_name, email, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (auth.Profile, error) {
	var (
		p      auth.Profile
		role   string
		firmID sql.NullString
		email  sql.NullString
	)
	if err := row.Scan(&p.UserID, &role, &firmID, &p.FirstName, &p.LastName, &email, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return auth.Profile{}, err
	}
	p.Role = auth.Role(role)
	p.FirmID = firmID.String
	p.Email = email.String
	return p, nil
}

func (s *Store) ProfileByUserID(ctx context.Context, userID string) (auth.Profile, error) {
	if s.db == nil {
		return auth.Profile{}, errNoDB
	}
	p, err := scanProfile(s.db.QueryRowContext(ctx, `
		select `+profileColumns+`
		from profiles
		where user_id = $1
	`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Profile{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Profile{}, err
	}
	return p, nil
}

func (s *Store) UpsertProfile(ctx context.Context, in auth.Profile) (auth.Profile, error) {
	if s.db == nil {
		return auth.Profile{}, errNoDB
	}
	p, err := scanProfile(s.db.QueryRowContext(ctx, `
		insert into profiles (user_id, role, firm_id, first_name, last_name, email)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (user_id) do update
		set first_name = excluded.first_name,
		    last_name  = excluded.last_name,
		    email      = excluded.email,
		    updated_at = now()
		returning `+profileColumns,
		in.UserID, string(in.Role), nullIfEmpty(in.FirmID), in.FirstName, in.LastName, nullIfEmpty(in.Email)))
	if err != nil {
		return auth.Profile{}, mapWriteError(err)
	}
	return p, nil
}

func (s *Store) SetProfileRole(ctx context.Context, userID string, role auth.Role) (auth.Profile, error) {
	if s.db == nil {
		return auth.Profile{}, errNoDB
	}
	p, err := scanProfile(s.db.QueryRowContext(ctx, `
		update profiles
		set role = $2, updated_at = now()
		where user_id = $1
		returning `+profileColumns, userID, string(role)))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Profile{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Profile{}, err
	}
	return p, nil
}

func (s *Store) SetProfileFirm(ctx context.Context, userID, firmID string) (auth.Profile, error) {
	if s.db == nil {
		return auth.Profile{}, errNoDB
	}
	p, err := scanProfile(s.db.QueryRowContext(ctx, `
		update profiles
		set firm_id = $2, updated_at = now()
		where user_id = $1
		returning `+profileColumns, userID, nullIfEmpty(firmID)))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Profile{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Profile{}, mapWriteError(err)
	}
	return p, nil
}

func (s *Store) ListProfilesByFirm(ctx context.Context, firmID string) ([]auth.Profile, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+profileColumns+`
		from profiles
		where firm_id = $1
		order by last_name, first_name, user_id
	`, firmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []auth.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateFirm(ctx context.Context, name, slug string) (auth.Firm, error) {
	if s.db == nil {
		return auth.Firm{}, errNoDB
	}
	var f auth.Firm
	err := s.db.QueryRowContext(ctx, `
		insert into firms (id, name, slug)
		values ($1, $2, $3)
		returning id, name, slug, created_at
	`, ids.New(), name, slug).Scan(&f.ID, &f.Name, &f.Slug, &f.CreatedAt)
	if err != nil {
		return auth.Firm{}, mapWriteError(err)
	}
	return f, nil
}

func (s *Store) FirmBySlug(ctx context.Context, slug string) (auth.Firm, error) {
	if s.db == nil {
		return auth.Firm{}, errNoDB
	}
	var f auth.Firm
	err := s.db.QueryRowContext(ctx, `
		select id, name, slug, created_at
		from firms
		where slug = $1
	`, slug).Scan(&f.ID, &f.Name, &f.Slug, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Firm{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Firm{}, err
	}
	return f, nil
}

func (s *Store) ListFirms(ctx context.Context) ([]auth.Firm, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, name, slug, created_at
		from firms
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []auth.Firm{}
	for rows.Next() {
		var f auth.Firm
		if err := rows.Scan(&f.ID, &f.Name, &f.Slug, &f.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// mapWriteError translates constraint violations into auth sentinels.
func mapWriteError(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", auth.ErrConflict, pgErr.ConstraintName)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s", auth.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
