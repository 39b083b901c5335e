package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const profileTableSQL = `CREATE TABLE IF NOT EXISTS gas_profiles (
    user_id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    institution TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL
)`

// sqlStore implements Store on database/sql. Queries are written with "?"
// placeholders and rebound for drivers that number them.
type sqlStore struct {
	db       *sql.DB
	numbered bool
	classify func(error) error
	close    func() error
}

func (s *sqlStore) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) wrap(err error, format string, args ...any) error {
	if s.classify != nil {
		err = s.classify(err)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

func (s *sqlStore) Profile(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT user_id, name, email, institution, role FROM gas_profiles WHERE user_id = ?`), userID,
	).Scan(&p.UserID, &p.Name, &p.Email, &p.Institution, &p.Tier)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return Profile{}, s.wrap(err, "load profile %s", userID)
	}
	return p, nil
}

func (s *sqlStore) SetTier(ctx context.Context, userID string, tier Tier) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE gas_profiles SET role = ? WHERE user_id = ? AND role <> ?`), tier, userID, tier)
	if err != nil {
		return false, s.wrap(err, "set tier for %s", userID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 1 {
		return true, nil
	}
	if _, err := s.Profile(ctx, userID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *sqlStore) Upsert(ctx context.Context, p Profile) error {
	if err := validateProfile(p); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO gas_profiles (user_id, name, email, institution, role) VALUES (?, ?, ?, ?, ?)
         ON CONFLICT (user_id) DO UPDATE SET name = excluded.name, email = excluded.email,
             institution = excluded.institution, role = excluded.role`),
		p.UserID, p.Name, p.Email, p.Institution, p.Tier,
	)
	if err != nil {
		return s.wrap(err, "upsert profile %s", p.UserID)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s.close != nil {
		return s.close()
	}
	return s.db.Close()
}
