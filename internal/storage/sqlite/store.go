// Package sqlite stores the catalog collections as JSON text in a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
)

const migration = `
CREATE TABLE IF NOT EXISTS providers (
	pid TEXT PRIMARY KEY,
	doc TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS backends (
	id  TEXT PRIMARY KEY,
	doc TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS users (
	email TEXT PRIMARY KEY,
	doc   TEXT NOT NULL
);
`

// Store implements catalog.Store on modernc.org/sqlite. Filters are evaluated
// in Go against the decoded documents.
type Store struct {
	db  *sql.DB
	ids catalog.IDGenerator
}

var _ catalog.Store = (*Store)(nil)

// NewStore opens the database at dsn in WAL mode and applies the schema.
func NewStore(ctx context.Context, dsn string, ids catalog.IDGenerator) (*Store, error) {
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite exec %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, migration); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &Store{db: db, ids: ids}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

func findOne[T any](ctx context.Context, db *sql.DB, query, key, kind string) (T, error) {
	var (
		doc T
		raw string
	)
	if err := db.QueryRowContext(ctx, query, key).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return doc, fmt.Errorf("%s %s: %w", kind, key, catalog.ErrNotFound)
		}
		return doc, fmt.Errorf("sqlite find %s %s: %w", kind, key, err)
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return doc, fmt.Errorf("decode %s %s: %w", kind, key, err)
	}
	return doc, nil
}

func findAll[T any](ctx context.Context, db *sql.DB, query, kind string, keep func(T) bool) ([]T, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite find %s: %w", kind, err)
	}
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlite scan %s: %w", kind, err)
		}
		var doc T
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		if keep(doc) {
			out = append(out, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite iterate %s: %w", kind, err)
	}
	return out, nil
}

func (s *Store) count(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite count %s: %w", table, err)
	}
	return n, nil
}

func checkRowsAffected(res sql.Result, kind, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, key, catalog.ErrNotFound)
	}
	return nil
}

// InsertProviders implements catalog.ProviderStore in a single transaction.
func (s *Store) InsertProviders(ctx context.Context, providers []catalog.Provider) ([]string, error) {
	ids := make([]string, 0, len(providers))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, p := range providers {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM providers WHERE pid = ?`, p.PID).Scan(&exists)
			if err == nil {
				return fmt.Errorf("provider %s: %w", p.PID, catalog.ErrConflict)
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("sqlite check provider %s: %w", p.PID, err)
			}
			if p.ID == "" {
				if p.ID, err = s.ids.NewID(); err != nil {
					return fmt.Errorf("provider id: %w", err)
				}
			}
			doc, err := json.Marshal(p)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO providers (pid, doc) VALUES (?, ?)`, p.PID, string(doc)); err != nil {
				return fmt.Errorf("sqlite insert provider %s: %w", p.PID, err)
			}
			ids = append(ids, p.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// FindProvider implements catalog.ProviderStore.
func (s *Store) FindProvider(ctx context.Context, pid string) (catalog.Provider, error) {
	return findOne[catalog.Provider](ctx, s.db, `SELECT doc FROM providers WHERE pid = ?`, pid, "provider")
}

// FindProviders implements catalog.ProviderStore, ordered by pid.
func (s *Store) FindProviders(ctx context.Context, filter catalog.ProviderFilter) ([]catalog.Provider, error) {
	return findAll(ctx, s.db, `SELECT doc FROM providers ORDER BY pid`, "provider", filter.Match)
}

// UpdateProvider implements catalog.ProviderStore. The stored id, backend
// list and check time survive.
func (s *Store) UpdateProvider(ctx context.Context, provider catalog.Provider) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT doc FROM providers WHERE pid = ?`, provider.PID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("provider %s: %w", provider.PID, catalog.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("sqlite find provider %s: %w", provider.PID, err)
		}
		var current catalog.Provider
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			return fmt.Errorf("decode provider %s: %w", provider.PID, err)
		}
		provider.ID = current.ID
		provider.BackendIDs = current.BackendIDs
		provider.LastChecked = current.LastChecked
		doc, err := json.Marshal(provider)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE providers SET doc = ? WHERE pid = ?`, string(doc), provider.PID); err != nil {
			return fmt.Errorf("sqlite update provider %s: %w", provider.PID, err)
		}
		return nil
	})
}

// SetBackendIDs implements catalog.ProviderStore.
func (s *Store) SetBackendIDs(ctx context.Context, pid string, ids []string, checked time.Time) error {
	if ids == nil {
		ids = []string{}
	}
	list, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE providers SET doc = json_set(doc, '$.backends_ids', json(?), '$.last_checked', ?) WHERE pid = ?`,
		string(list), checked.Format(time.RFC3339Nano), pid,
	)
	if err != nil {
		return fmt.Errorf("sqlite set backends of %s: %w", pid, err)
	}
	return checkRowsAffected(res, "provider", pid)
}

// PullBackendIDs implements catalog.ProviderStore.
func (s *Store) PullBackendIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	holders, err := s.FindProviders(ctx, catalog.ProviderFilter{BackendIDs: ids})
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, p := range holders {
			kept := slices.DeleteFunc(p.BackendIDs, func(id string) bool { return slices.Contains(ids, id) })
			if kept == nil {
				kept = []string{}
			}
			list, err := json.Marshal(kept)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE providers SET doc = json_set(doc, '$.backends_ids', json(?)) WHERE pid = ?`,
				string(list), p.PID,
			)
			if err != nil {
				return fmt.Errorf("sqlite pull backends of %s: %w", p.PID, err)
			}
		}
		return nil
	})
}

// DeleteProviders implements catalog.ProviderStore.
func (s *Store) DeleteProviders(ctx context.Context, filter catalog.ProviderFilter) (int, error) {
	matched, err := s.FindProviders(ctx, filter)
	if err != nil {
		return 0, err
	}
	n := 0
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		for _, p := range matched {
			res, err := tx.ExecContext(ctx, `DELETE FROM providers WHERE pid = ?`, p.PID)
			if err != nil {
				return fmt.Errorf("sqlite delete provider %s: %w", p.PID, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("sqlite rows affected: %w", err)
			}
			n += int(affected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// CountProviders implements catalog.ProviderStore.
func (s *Store) CountProviders(ctx context.Context) (int, error) {
	return s.count(ctx, "providers")
}

// InsertBackends implements catalog.BackendStore. Every backend gets a fresh id.
func (s *Store) InsertBackends(ctx context.Context, backends []catalog.Backend) ([]string, error) {
	ids := make([]string, 0, len(backends))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, b := range backends {
			id, err := s.ids.NewID()
			if err != nil {
				return fmt.Errorf("backend id: %w", err)
			}
			b.ID = id
			doc, err := json.Marshal(b)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO backends (id, doc) VALUES (?, ?)`, id, string(doc)); err != nil {
				return fmt.Errorf("sqlite insert backend %s: %w", b.BID, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// FindBackend implements catalog.BackendStore.
func (s *Store) FindBackend(ctx context.Context, id string) (catalog.Backend, error) {
	return findOne[catalog.Backend](ctx, s.db, `SELECT doc FROM backends WHERE id = ?`, id, "backend")
}

// FindBackends implements catalog.BackendStore, ordered by id.
func (s *Store) FindBackends(ctx context.Context, filter catalog.BackendFilter) ([]catalog.Backend, error) {
	return findAll(ctx, s.db, `SELECT doc FROM backends ORDER BY id`, "backend", filter.Match)
}

// DeleteBackends implements catalog.BackendStore.
func (s *Store) DeleteBackends(ctx context.Context, ids []string) (int, error) {
	n := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, `DELETE FROM backends WHERE id = ?`, id)
			if err != nil {
				return fmt.Errorf("sqlite delete backend %s: %w", id, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("sqlite rows affected: %w", err)
			}
			n += int(affected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// UpdatePricing implements catalog.BackendStore.
func (s *Store) UpdatePricing(ctx context.Context, id string, pricing catalog.Pricing) error {
	doc, err := json.Marshal(pricing)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE backends SET doc = json_set(doc, '$.pricing', json(?)) WHERE id = ?`,
		string(doc), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite update pricing of %s: %w", id, err)
	}
	return checkRowsAffected(res, "backend", id)
}

// CountBackends implements catalog.BackendStore.
func (s *Store) CountBackends(ctx context.Context) (int, error) {
	return s.count(ctx, "backends")
}

// FindUserByEmail implements catalog.UserStore.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (catalog.User, error) {
	return findOne[catalog.User](ctx, s.db, `SELECT doc FROM users WHERE email = ?`, email, "user")
}

// UpsertUser implements catalog.UserStore. An existing user keeps its id.
func (s *Store) UpsertUser(ctx context.Context, user catalog.User) (catalog.User, error) {
	if user.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return catalog.User{}, fmt.Errorf("user id: %w", err)
		}
		user.ID = id
	}
	doc, err := json.Marshal(user)
	if err != nil {
		return catalog.User{}, fmt.Errorf("encode user %s: %w", user.Email, err)
	}
	var raw string
	err = s.db.QueryRowContext(ctx, `INSERT INTO users (email, doc) VALUES (?, ?)
		ON CONFLICT (email) DO UPDATE SET doc = json_set(excluded.doc, '$.id', json_extract(users.doc, '$.id'))
		RETURNING doc`, user.Email, string(doc)).Scan(&raw)
	if err != nil {
		return catalog.User{}, fmt.Errorf("sqlite upsert user %s: %w", user.Email, err)
	}
	var out catalog.User
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return catalog.User{}, fmt.Errorf("decode user %s: %w", user.Email, err)
	}
	return out, nil
}

// CountUsers implements catalog.UserStore.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	return s.count(ctx, "users")
}
