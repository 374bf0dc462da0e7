package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
)

var (
	ErrAttemptNotFound = apperr.NotFound("checkout attempt not found")
	ErrAttemptExists   = apperr.Conflict("checkout attempt already exists for this idempotency key")
)

type AttemptRepository interface {
	Create(ctx context.Context, a *Attempt) error
	GetByKey(ctx context.Context, key string) (*Attempt, error)
	Save(ctx context.Context, a *Attempt) error
	ListIncomplete(ctx context.Context, olderThan time.Time, limit int) ([]Attempt, error)
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) Create(ctx context.Context, a *Attempt) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	state, err := json.Marshal(a.State)
	if err != nil {
		return apperr.Persistence("encode attempt state", err)
	}
	err = r.db.QueryRow(ctx, `
    INSERT INTO checkout_attempts (id, idempotency_key, cart_id, step, status, state, error_kind, error_message, created_at, updated_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW())
    RETURNING created_at, updated_at
  `, a.ID, a.IdempotencyKey, a.CartID, string(a.Step), string(a.Status), state, string(a.ErrorKind), a.ErrorMessage).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAttemptExists
	}
	if err != nil {
		return apperr.Persistence("create checkout attempt", err)
	}
	return nil
}

const attemptColumns = `id, idempotency_key, cart_id, step, status, state, error_kind, error_message, created_at, updated_at`

func scanAttempt(row pgx.Row) (*Attempt, error) {
	var (
		a                  Attempt
		step, status, kind string
		state              []byte
	)
	if err := row.Scan(&a.ID, &a.IdempotencyKey, &a.CartID, &step, &status, &state, &kind, &a.ErrorMessage,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(state, &a.State); err != nil {
		return nil, err
	}
	a.Step, a.Status, a.ErrorKind = Step(step), Status(status), apperr.Kind(kind)
	return &a, nil
}

func (r *PGRepo) GetByKey(ctx context.Context, key string) (*Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	a, err := scanAttempt(r.db.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM checkout_attempts WHERE idempotency_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("load checkout attempt", err)
	}
	return a, nil
}

func (r *PGRepo) Save(ctx context.Context, a *Attempt) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	state, err := json.Marshal(a.State)
	if err != nil {
		return apperr.Persistence("encode attempt state", err)
	}
	err = r.db.QueryRow(ctx, `
    UPDATE checkout_attempts
    SET step = $2, status = $3, state = $4, error_kind = $5, error_message = $6, updated_at = NOW()
    WHERE id = $1
    RETURNING updated_at
  `, a.ID, string(a.Step), string(a.Status), state, string(a.ErrorKind), a.ErrorMessage).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAttemptNotFound
	}
	if err != nil {
		return apperr.Persistence("save checkout attempt", err)
	}
	return nil
}

func (r *PGRepo) ListIncomplete(ctx context.Context, olderThan time.Time, limit int) ([]Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `SELECT `+attemptColumns+`
    FROM checkout_attempts
    WHERE status = $1 AND updated_at < $2
    ORDER BY updated_at
    LIMIT $3
  `, string(StatusInProgress), olderThan, limit)
	if err != nil {
		return nil, apperr.Persistence("list checkout attempts", err)
	}
	defer rows.Close()

	out := []Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, apperr.Persistence("scan checkout attempt", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list checkout attempts", err)
	}
	return out, nil
}

// MemoryRepo stores attempts in process. State is kept JSON encoded, the
// same as in Postgres, so callers never share nested values.
type MemoryRepo struct {
	mu       sync.RWMutex
	attempts map[string]memAttempt
	now      func() time.Time
}

type memAttempt struct {
	a     Attempt
	state []byte
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{attempts: make(map[string]memAttempt), now: time.Now}
}

func (r *MemoryRepo) encode(a *Attempt) (memAttempt, error) {
	state, err := json.Marshal(a.State)
	if err != nil {
		return memAttempt{}, apperr.Persistence("encode attempt state", err)
	}
	cp := *a
	cp.State = State{}
	return memAttempt{a: cp, state: state}, nil
}

func (m memAttempt) decode() (*Attempt, error) {
	a := m.a
	if err := json.Unmarshal(m.state, &a.State); err != nil {
		return nil, apperr.Persistence("decode attempt state", err)
	}
	return &a, nil
}

func (r *MemoryRepo) Create(_ context.Context, a *Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.attempts[a.IdempotencyKey]; ok {
		return ErrAttemptExists
	}
	now := r.now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	m, err := r.encode(a)
	if err != nil {
		return err
	}
	r.attempts[a.IdempotencyKey] = m
	return nil
}

func (r *MemoryRepo) GetByKey(_ context.Context, key string) (*Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.attempts[key]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	return m.decode()
}

func (r *MemoryRepo) Save(_ context.Context, a *Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.attempts[a.IdempotencyKey]; !ok {
		return ErrAttemptNotFound
	}
	a.UpdatedAt = r.now().UTC()
	m, err := r.encode(a)
	if err != nil {
		return err
	}
	r.attempts[a.IdempotencyKey] = m
	return nil
}

func (r *MemoryRepo) ListIncomplete(_ context.Context, olderThan time.Time, limit int) ([]Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	out := []Attempt{}
	for _, m := range r.attempts {
		if m.a.Status != StatusInProgress || !m.a.UpdatedAt.Before(olderThan) {
			continue
		}
		a, err := m.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.attempts)
}
