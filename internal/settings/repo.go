package settings

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
)

var ErrNotFound = apperr.NotFound("setting not found")

type Repository interface {
	Get(ctx context.Context, category, key string) (*Setting, error)
	ListByCategory(ctx context.Context, category string) ([]Setting, error)
	Upsert(ctx context.Context, s *Setting) error
	Delete(ctx context.Context, category, key string) error
	Exists(ctx context.Context, category, key string) (bool, error)
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

const settingColumns = `id, category, key, type, value, is_sensitive, is_active, description, updated_at`

func scanSetting(row pgx.Row) (*Setting, error) {
	var (
		s Setting
		t string
	)
	if err := row.Scan(&s.ID, &s.Category, &s.Key, &t, &s.Value, &s.IsSensitive, &s.IsActive, &s.Description, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Type = Type(t)
	return &s, nil
}

func (r *PGRepo) Get(ctx context.Context, category, key string) (*Setting, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s, err := scanSetting(r.db.QueryRow(ctx,
		`SELECT `+settingColumns+` FROM settings WHERE category=$1 AND key=$2`, category, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("load setting", err)
	}
	return s, nil
}

func (r *PGRepo) ListByCategory(ctx context.Context, category string) ([]Setting, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx,
		`SELECT `+settingColumns+` FROM settings WHERE category=$1 ORDER BY key`, category)
	if err != nil {
		return nil, apperr.Persistence("list settings", err)
	}
	defer rows.Close()

	out := []Setting{}
	for rows.Next() {
		s, err := scanSetting(rows)
		if err != nil {
			return nil, apperr.Persistence("scan setting", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list settings", err)
	}
	return out, nil
}

func (r *PGRepo) Upsert(ctx context.Context, s *Setting) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := r.db.QueryRow(ctx, `
    INSERT INTO settings (id, category, key, type, value, is_sensitive, is_active, description, updated_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
    ON CONFLICT (category, key) DO UPDATE
      SET type = EXCLUDED.type, value = EXCLUDED.value, is_sensitive = EXCLUDED.is_sensitive,
          is_active = EXCLUDED.is_active, description = EXCLUDED.description, updated_at = NOW()
    RETURNING id, updated_at
  `, s.ID, s.Category, s.Key, string(s.Type), s.Value, s.IsSensitive, s.IsActive, s.Description).
		Scan(&s.ID, &s.UpdatedAt)
	if err != nil {
		return apperr.Persistence("upsert setting", err)
	}
	return nil
}

func (r *PGRepo) Delete(ctx context.Context, category, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `DELETE FROM settings WHERE category=$1 AND key=$2`, category, key)
	if err != nil {
		return apperr.Persistence("delete setting", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) Exists(ctx context.Context, category, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var ok bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM settings WHERE category=$1 AND key=$2)`, category, key).Scan(&ok); err != nil {
		return false, apperr.Persistence("check setting", err)
	}
	return ok, nil
}

// MemoryRepo is the in-process Repository. Reads counts store hits so tests
// can observe the cache.
type MemoryRepo struct {
	mu    sync.RWMutex
	rows  map[string]*Setting
	reads int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: make(map[string]*Setting)}
}

func (r *MemoryRepo) Get(_ context.Context, category, key string) (*Setting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	s, ok := r.rows[cacheKey(category, key)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepo) ListByCategory(_ context.Context, category string) ([]Setting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Setting{}
	for _, s := range r.rows {
		if s.Category == category {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *MemoryRepo) Upsert(_ context.Context, s *Setting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := cacheKey(s.Category, s.Key)
	if prev, ok := r.rows[k]; ok {
		s.ID = prev.ID
	}
	s.UpdatedAt = time.Now().UTC()
	cp := *s
	r.rows[k] = &cp
	return nil
}

func (r *MemoryRepo) Delete(_ context.Context, category, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := cacheKey(category, key)
	if _, ok := r.rows[k]; !ok {
		return ErrNotFound
	}
	delete(r.rows, k)
	return nil
}

func (r *MemoryRepo) Exists(_ context.Context, category, key string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rows[cacheKey(category, key)]
	return ok, nil
}

// Raw returns the stored row as persisted.
func (r *MemoryRepo) Raw(category, key string) (Setting, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.rows[cacheKey(category, key)]
	if !ok {
		return Setting{}, false
	}
	return *s, true
}

func (r *MemoryRepo) Reads() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reads
}
