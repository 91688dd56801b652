package data

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/target/portal-session/internal/data/cryptoutil"
	"github.com/target/portal-session/internal/ports"
)

// SealedKV encrypts every value before it reaches the wrapped store.
// Values that cannot be opened (wrong key, plaintext written before
// encryption was enabled) read as absent so the session store treats
// them like any other unusable entry.
type SealedKV struct {
	inner  ports.KVStore
	enc    cryptoutil.Encryptor
	logger *slog.Logger
}

var _ ports.KVStore = (*SealedKV)(nil)

// NewSealedKV wraps inner with enc.
func NewSealedKV(inner ports.KVStore, enc cryptoutil.Encryptor, logger *slog.Logger) *SealedKV {
	if logger == nil {
		logger = slog.Default()
	}
	return &SealedKV{inner: inner, enc: enc, logger: logger.With("component", "sealed_kv")}
}

func (s *SealedKV) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	raw, err := s.inner.Get(ctx, keys...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		pt, decErr := s.enc.Decrypt(v)
		if decErr != nil {
			s.logger.WarnContext(ctx, "stored value cannot be opened", "key", k, "error", decErr)
			continue
		}
		out[k] = string(pt)
	}
	return out, nil
}

func (s *SealedKV) Set(ctx context.Context, entries map[string]string) error {
	sealed := make(map[string]string, len(entries))
	for k, v := range entries {
		ct, err := s.enc.Encrypt([]byte(v))
		if err != nil {
			return fmt.Errorf("seal %s: %w", k, err)
		}
		sealed[k] = ct
	}
	return s.inner.Set(ctx, sealed)
}

func (s *SealedKV) Delete(ctx context.Context, keys ...string) error {
	return s.inner.Delete(ctx, keys...)
}
