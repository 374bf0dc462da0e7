package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
)

const MaxProofSize = 10 << 20

var allowedProofExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".pdf": true}

// ProofStore keeps uploaded proof-of-payment files and returns their URL.
type ProofStore interface {
	Save(ctx context.Context, paymentID, filename string, r io.Reader) (string, error)
}

// LocalProofStore writes under <Dir>/proofs and serves from
// <BaseURL>/uploads/proofs.
type LocalProofStore struct {
	Dir     string
	BaseURL string
}

func NewLocalProofStore(dir, baseURL string) *LocalProofStore {
	return &LocalProofStore{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}
}

func (s *LocalProofStore) Save(_ context.Context, paymentID, filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedProofExt[ext] {
		return "", apperr.InvalidInput(fmt.Sprintf("unsupported proof file type %q", ext))
	}
	dir := filepath.Join(s.Dir, "proofs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.Persistence("create proof directory", err)
	}
	name := fmt.Sprintf("%s-%s%s", paymentID, uuid.NewString()[:8], ext)
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", apperr.Persistence("create proof file", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, MaxProofSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > MaxProofSize {
		err = errTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		if errors.Is(err, errTooLarge) {
			return "", apperr.InvalidInput("proof file exceeds 10MB")
		}
		return "", apperr.Persistence("write proof file", err)
	}
	return s.BaseURL + "/uploads/proofs/" + name, nil
}

var errTooLarge = errors.New("proof too large")
