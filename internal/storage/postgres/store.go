// Package postgres stores the catalog collections as JSONB documents in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
)

var validTablePrefix = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const uniqueViolation = "23505"

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool used by the store.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements catalog.Store with one JSONB table per collection.
type Store struct {
	pool      pool
	ids       catalog.IDGenerator
	providers string
	backends  string
	users     string
}

var _ catalog.Store = (*Store)(nil)

// NewStore connects to Postgres and creates the tables when missing.
func NewStore(ctx context.Context, cfg Config, ids catalog.IDGenerator) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewStoreWithPool(p, cfg.TablePrefix, ids)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool, prefix string, ids catalog.IDGenerator) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if prefix != "" && !validTablePrefix.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return &Store{
		pool:      p,
		ids:       ids,
		providers: prefix + "providers",
		backends:  prefix + "backends",
		users:     prefix + "users",
	}, nil
}

// Migrate creates the collection tables.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (pid TEXT PRIMARY KEY, doc JSONB NOT NULL)`, s.providers),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, doc JSONB NOT NULL)`, s.backends),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (email TEXT PRIMARY KEY, doc JSONB NOT NULL)`, s.users),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// where accumulates AND-ed predicates with positional arguments.
type where struct {
	clauses []string
	args    []any
}

// add appends a predicate; clause holds one %s for the argument placeholder.
func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, "$"+strconv.Itoa(len(w.args))))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func providerWhere(f catalog.ProviderFilter) *where {
	w := &where{}
	if len(f.PIDs) > 0 {
		w.add("pid = ANY(%s)", f.PIDs)
	}
	if len(f.Names) > 0 {
		w.add("doc->>'name' = ANY(%s)", f.Names)
	}
	if f.FromThirdParty != nil {
		w.add("(doc->>'from_third_party')::boolean = %s", *f.FromThirdParty)
	}
	if f.ThirdPartyName != "" {
		w.add("doc->'third_party'->>'third_party_name' = %s", f.ThirdPartyName)
	}
	if len(f.BackendIDs) > 0 {
		w.add("doc->'backends_ids' ?| %s", f.BackendIDs)
	}
	return w
}

func backendWhere(f catalog.BackendFilter) *where {
	w := &where{}
	if len(f.IDs) > 0 {
		w.add("id = ANY(%s)", f.IDs)
	}
	if len(f.BIDs) > 0 {
		w.add("doc->>'bid' = ANY(%s)", f.BIDs)
	}
	if len(f.ProviderIDs) > 0 {
		w.add("doc->'provider'->>'provider_id' = ANY(%s)", f.ProviderIDs)
	}
	if f.ProviderName != "" {
		w.add("doc->'provider'->>'provider_name' = %s", f.ProviderName)
	}
	if f.ClassType != "" {
		w.add("doc->>'class_type' = %s", string(f.ClassType))
	}
	return w
}

func scanDocs[T any](rows pgx.Rows, kind string) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		var doc T
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", kind, err)
	}
	return out, nil
}

func (s *Store) findOne(ctx context.Context, sql, key, kind string, dst any) error {
	var raw []byte
	if err := s.pool.QueryRow(ctx, sql, key).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%s %s: %w", kind, key, catalog.ErrNotFound)
		}
		return fmt.Errorf("find %s %s: %w", kind, key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s %s: %w", kind, key, err)
	}
	return nil
}

func (s *Store) count(ctx context.Context, table string) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return int(n), nil
}

// InsertProviders implements catalog.ProviderStore in a single transaction.
func (s *Store) InsertProviders(ctx context.Context, providers []catalog.Provider) ([]string, error) {
	ids := make([]string, 0, len(providers))
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		sql := fmt.Sprintf("INSERT INTO %s (pid, doc) VALUES ($1, $2)", s.providers)
		for _, p := range providers {
			if p.ID == "" {
				id, err := s.ids.NewID()
				if err != nil {
					return fmt.Errorf("provider id: %w", err)
				}
				p.ID = id
			}
			doc, err := json.Marshal(p)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, sql, p.PID, doc); err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
					return fmt.Errorf("provider %s: %w", p.PID, catalog.ErrConflict)
				}
				return fmt.Errorf("insert provider %s: %w", p.PID, err)
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
	var p catalog.Provider
	sql := fmt.Sprintf("SELECT doc FROM %s WHERE pid = $1", s.providers)
	if err := s.findOne(ctx, sql, pid, "provider", &p); err != nil {
		return catalog.Provider{}, err
	}
	return p, nil
}

// FindProviders implements catalog.ProviderStore, ordered by pid.
func (s *Store) FindProviders(ctx context.Context, filter catalog.ProviderFilter) ([]catalog.Provider, error) {
	w := providerWhere(filter)
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT doc FROM %s%s ORDER BY pid", s.providers, w), w.args...)
	if err != nil {
		return nil, fmt.Errorf("find providers: %w", err)
	}
	return scanDocs[catalog.Provider](rows, "provider")
}

// UpdateProvider implements catalog.ProviderStore. The stored id, backend
// list and check time survive.
func (s *Store) UpdateProvider(ctx context.Context, provider catalog.Provider) error {
	doc, err := json.Marshal(provider)
	if err != nil {
		return err
	}
	sql := fmt.Sprintf(
		"UPDATE %s SET doc = $2::jsonb || jsonb_strip_nulls(jsonb_build_object("+
			"'id', doc->'id', 'backends_ids', doc->'backends_ids', 'last_checked', doc->'last_checked')) WHERE pid = $1",
		s.providers,
	)
	tag, err := s.pool.Exec(ctx, sql, provider.PID, doc)
	if err != nil {
		return fmt.Errorf("update provider %s: %w", provider.PID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("provider %s: %w", provider.PID, catalog.ErrNotFound)
	}
	return nil
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
	sql := fmt.Sprintf(
		"UPDATE %s SET doc = doc || jsonb_build_object('backends_ids', $2::jsonb, 'last_checked', $3::text) WHERE pid = $1",
		s.providers,
	)
	tag, err := s.pool.Exec(ctx, sql, pid, list, checked.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set backends of %s: %w", pid, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("provider %s: %w", pid, catalog.ErrNotFound)
	}
	return nil
}

// PullBackendIDs implements catalog.ProviderStore.
func (s *Store) PullBackendIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	sql := fmt.Sprintf(`UPDATE %s SET doc = jsonb_set(doc, '{backends_ids}', COALESCE(
		(SELECT jsonb_agg(e) FROM jsonb_array_elements_text(doc->'backends_ids') AS e WHERE e <> ALL($1)),
		'[]'::jsonb)) WHERE doc->'backends_ids' ?| $1`, s.providers)
	if _, err := s.pool.Exec(ctx, sql, ids); err != nil {
		return fmt.Errorf("pull backend ids: %w", err)
	}
	return nil
}

// DeleteProviders implements catalog.ProviderStore.
func (s *Store) DeleteProviders(ctx context.Context, filter catalog.ProviderFilter) (int, error) {
	w := providerWhere(filter)
	tag, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s%s", s.providers, w), w.args...)
	if err != nil {
		return 0, fmt.Errorf("delete providers: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CountProviders implements catalog.ProviderStore.
func (s *Store) CountProviders(ctx context.Context) (int, error) {
	return s.count(ctx, s.providers)
}

// InsertBackends implements catalog.BackendStore. Every backend gets a fresh id.
func (s *Store) InsertBackends(ctx context.Context, backends []catalog.Backend) ([]string, error) {
	ids := make([]string, 0, len(backends))
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		sql := fmt.Sprintf("INSERT INTO %s (id, doc) VALUES ($1, $2)", s.backends)
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
			if _, err := tx.Exec(ctx, sql, b.ID, doc); err != nil {
				return fmt.Errorf("insert backend %s: %w", b.BID, err)
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
	var b catalog.Backend
	sql := fmt.Sprintf("SELECT doc FROM %s WHERE id = $1", s.backends)
	if err := s.findOne(ctx, sql, id, "backend", &b); err != nil {
		return catalog.Backend{}, err
	}
	return b, nil
}

// FindBackends implements catalog.BackendStore, ordered by id.
func (s *Store) FindBackends(ctx context.Context, filter catalog.BackendFilter) ([]catalog.Backend, error) {
	w := backendWhere(filter)
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT doc FROM %s%s ORDER BY id", s.backends, w), w.args...)
	if err != nil {
		return nil, fmt.Errorf("find backends: %w", err)
	}
	return scanDocs[catalog.Backend](rows, "backend")
}

// DeleteBackends implements catalog.BackendStore.
func (s *Store) DeleteBackends(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", s.backends), ids)
	if err != nil {
		return 0, fmt.Errorf("delete backends: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// UpdatePricing implements catalog.BackendStore.
func (s *Store) UpdatePricing(ctx context.Context, id string, pricing catalog.Pricing) error {
	doc, err := json.Marshal(pricing)
	if err != nil {
		return err
	}
	sql := fmt.Sprintf("UPDATE %s SET doc = jsonb_set(doc, '{pricing}', $2::jsonb) WHERE id = $1", s.backends)
	tag, err := s.pool.Exec(ctx, sql, id, doc)
	if err != nil {
		return fmt.Errorf("update pricing of %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("backend %s: %w", id, catalog.ErrNotFound)
	}
	return nil
}

// CountBackends implements catalog.BackendStore.
func (s *Store) CountBackends(ctx context.Context) (int, error) {
	return s.count(ctx, s.backends)
}

// FindUserByEmail implements catalog.UserStore.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (catalog.User, error) {
	var u catalog.User
	sql := fmt.Sprintf("SELECT doc FROM %s WHERE email = $1", s.users)
	if err := s.findOne(ctx, sql, email, "user", &u); err != nil {
		return catalog.User{}, err
	}
	return u, nil
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
	sql := fmt.Sprintf(`INSERT INTO %[1]s (email, doc) VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET doc = EXCLUDED.doc || jsonb_build_object('id', %[1]s.doc->'id')
		RETURNING doc`, s.users)
	var raw []byte
	if err := s.pool.QueryRow(ctx, sql, user.Email, doc).Scan(&raw); err != nil {
		return catalog.User{}, fmt.Errorf("upsert user %s: %w", user.Email, err)
	}
	var out catalog.User
	if err := json.Unmarshal(raw, &out); err != nil {
		return catalog.User{}, fmt.Errorf("decode user %s: %w", user.Email, err)
	}
	return out, nil
}

// CountUsers implements catalog.UserStore.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	return s.count(ctx, s.users)
}
