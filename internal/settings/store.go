package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
)

type Store struct {
	repo        Repository
	cipher      Cipher
	cache       *Cache
	invalidator Invalidator
	log         *zap.Logger
}

type Option func(*Store)

func WithCache(c *Cache) Option            { return func(s *Store) { s.cache = c } }
func WithInvalidator(i Invalidator) Option { return func(s *Store) { s.invalidator = i } }
func WithLogger(l *zap.Logger) Option      { return func(s *Store) { s.log = l } }

func NewStore(repo Repository, cipher Cipher, opts ...Option) *Store {
	s := &Store{repo: repo, cipher: cipher, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	if s.cache == nil {
		s.cache = NewCache(DefaultCacheTTL)
	}
	return s
}

func (s *Store) Cache() *Cache { return s.cache }

// GetSetting returns the active setting or nil when none exists. With
// decrypt false, protected values are returned as stored ciphertext.
func (s *Store) GetSetting(ctx context.Context, category, key string, decrypt bool) (*Value, error) {
	row, err := s.cache.Load(ctx, cacheKey(category, key), func(ctx context.Context) (*Setting, error) {
		row, err := s.repo.Get(ctx, category, key)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return row, err
	})
	if err != nil {
		return nil, err
	}
	if row == nil || !row.IsActive {
		return nil, nil
	}
	return s.decode(row, decrypt)
}

// GetSettingsByCategory lists active settings of a category. Sensitive ones
// are left out unless includeSensitive is set; encrypted values stay
// ciphertext unless decrypt is set.
func (s *Store) GetSettingsByCategory(ctx context.Context, category string, includeSensitive, decrypt bool) ([]Value, error) {
	rows, err := s.repo.ListByCategory(ctx, category)
	if err != nil {
		return nil, err
	}
	out := []Value{}
	for i := range rows {
		row := &rows[i]
		if !row.IsActive || (row.IsSensitive && !includeSensitive) {
			continue
		}
		v, err := s.decode(row, decrypt)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

func (s *Store) decode(row *Setting, decrypt bool) (*Value, error) {
	v := &Value{
		Category:    row.Category,
		Key:         row.Key,
		Type:        row.Type,
		IsSensitive: row.IsSensitive,
		Description: row.Description,
	}
	raw := row.Value
	if row.encrypted() {
		if !decrypt {
			v.Value = raw
			return v, nil
		}
		plain, err := s.cipher.Decrypt(raw)
		if err != nil {
			return nil, apperr.Persistence(fmt.Sprintf("decrypt setting %s/%s", row.Category, row.Key), err)
		}
		raw = plain
	}
	decoded, err := Decode(row.Type, raw)
	if err != nil {
		return nil, apperr.Persistence(fmt.Sprintf("decode setting %s/%s", row.Category, row.Key), err)
	}
	v.Value = decoded
	return v, nil
}

// UpsertSetting creates or replaces a setting. Sensitive and encrypted-typed
// values are encrypted before they reach the repository. The cache entry is
// dropped before returning.
func (s *Store) UpsertSetting(ctx context.Context, in Input) (*Value, error) {
	in.Category = strings.TrimSpace(in.Category)
	in.Key = strings.TrimSpace(in.Key)
	if in.Category == "" || in.Key == "" {
		return nil, apperr.InvalidInput("category and key are required")
	}
	if in.Type == "" {
		in.Type = TypeString
	}
	if !in.Type.Valid() {
		return nil, apperr.InvalidInput(fmt.Sprintf("unknown setting type %q", in.Type))
	}
	encoded, err := Encode(in.Type, in.Value)
	if err != nil {
		return nil, err
	}
	row := &Setting{
		ID:          uuid.NewString(),
		Category:    in.Category,
		Key:         in.Key,
		Type:        in.Type,
		IsSensitive: in.IsSensitive,
		IsActive:    in.IsActive == nil || *in.IsActive,
		Description: in.Description,
	}
	row.Value = encoded
	if row.encrypted() {
		if row.Value, err = s.cipher.Encrypt(encoded); err != nil {
			return nil, apperr.Persistence("encrypt setting", err)
		}
	}
	if err := s.repo.Upsert(ctx, row); err != nil {
		return nil, err
	}
	s.invalidate(ctx, row.Category, row.Key)
	s.log.Info("setting updated",
		zap.String("category", row.Category),
		zap.String("key", row.Key),
		zap.Bool("sensitive", row.IsSensitive))
	return s.decode(row, true)
}

func (s *Store) DeleteSetting(ctx context.Context, category, key string) error {
	if err := s.repo.Delete(ctx, category, key); err != nil {
		return err
	}
	s.invalidate(ctx, category, key)
	s.log.Info("setting deleted", zap.String("category", category), zap.String("key", key))
	return nil
}

func (s *Store) invalidate(ctx context.Context, category, key string) {
	s.cache.Invalidate(cacheKey(category, key))
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Publish(ctx, category, key); err != nil {
		s.log.Warn("settings invalidation broadcast failed",
			zap.String("category", category), zap.String("key", key), zap.Error(err))
	}
}

// InitializeDefaults seeds every default whose key is not present yet and
// reports how many were written.
func (s *Store) InitializeDefaults(ctx context.Context) (int, error) {
	seeded := 0
	for _, d := range Defaults() {
		ok, err := s.repo.Exists(ctx, d.Category, d.Key)
		if err != nil {
			return seeded, err
		}
		if ok {
			continue
		}
		if _, err := s.UpsertSetting(ctx, d); err != nil {
			return seeded, err
		}
		seeded++
	}
	if seeded > 0 {
		s.log.Info("default settings seeded", zap.Int("count", seeded))
	}
	return seeded, nil
}
