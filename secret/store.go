package secret

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/renegade-fi/fee-sweeper/cache"
	"github.com/renegade-fi/fee-sweeper/config"
)

// ErrSecretUnavailable is wrapped by every signing key lookup failure. The sweeper aborts the
// current cycle when it sees it.
var ErrSecretUnavailable = errors.New("signing secret unavailable")

// Store resolves signing keys on demand. Callers must not retain the returned key beyond a
// single signing operation.
type Store interface {
	GetSigningKey(ctx context.Context, keyID string) (*ecdsa.PrivateKey, error)
}

// LocalStore serves a single key configured in plaintext, the key id is ignored.
type LocalStore struct {
	hexKey string
}

func NewLocalStore(hexKey string) *LocalStore {
	return &LocalStore{hexKey: hexKey}
}

func (s *LocalStore) GetSigningKey(_ context.Context, _ string) (*ecdsa.PrivateKey, error) {
	return parseKey(s.hexKey)
}

// SecretFetcher reads a raw secret by name.
type SecretFetcher func(ctx context.Context, secretName, region string) (string, error)

// AWSStore reads keys from AWS Secrets Manager. The key id is the secret name, the secret is a
// JSON document {"private_key": "<hex>"}. Fetched secrets are kept in a bounded LRU for ttl.
type AWSStore struct {
	region string
	ttl    time.Duration
	fetch  SecretFetcher
	cache  cache.Cache
	now    func() time.Time
}

type AWSStoreOption func(*AWSStore)

func WithFetcher(f SecretFetcher) AWSStoreOption {
	return func(s *AWSStore) {
		s.fetch = f
	}
}

func WithClock(now func() time.Time) AWSStoreOption {
	return func(s *AWSStore) {
		s.now = now
	}
}

func NewAWSStore(region string, ttl time.Duration, opts ...AWSStoreOption) (*AWSStore, error) {
	lru, err := cache.NewLocalCache(16)
	if err != nil {
		return nil, err
	}
	s := &AWSStore{
		region: region,
		ttl:    ttl,
		fetch:  config.GetSecretWithContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = cache.NewExpiringCache(lru, s.ttl, s.now)
	return s, nil
}

func (s *AWSStore) GetSigningKey(ctx context.Context, keyID string) (*ecdsa.PrivateKey, error) {
	raw, err := s.getSecret(ctx, keyID)
	if err != nil {
		return nil, err
	}
	var doc struct {
		PrivateKey string `json:"private_key"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		s.cache.Remove(keyID)
		return nil, fmt.Errorf("%w: secret %s is not a key document", ErrSecretUnavailable, keyID)
	}
	key, err := parseKey(doc.PrivateKey)
	if err != nil {
		s.cache.Remove(keyID)
		return nil, err
	}
	return key, nil
}

func (s *AWSStore) getSecret(ctx context.Context, keyID string) (string, error) {
	if v, ok := s.cache.Get(keyID); ok {
		return v.(string), nil
	}
	raw, err := s.fetch(ctx, keyID, s.region)
	if err != nil {
		return "", fmt.Errorf("%w: fetch secret %s: %v", ErrSecretUnavailable, keyID, err)
	}
	s.cache.Set(keyID, raw)
	return raw, nil
}

// NewStoreFromConfig builds the store selected by cfg.KeyType. A local key may be overridden by
// the PRIVATE_KEY environment variable.
func NewStoreFromConfig(cfg *config.SignerConfig, envKey string) (Store, string, error) {
	switch cfg.KeyType {
	case config.KeyTypeLocalPrivateKey:
		key := cfg.PrivateKey
		if envKey != "" {
			key = envKey
		}
		return NewLocalStore(key), cfg.KeyID, nil
	case config.KeyTypeAWSPrivateKey:
		store, err := NewAWSStore(cfg.AWSRegion, cfg.GetCacheTTL())
		if err != nil {
			return nil, "", err
		}
		keyID := cfg.KeyID
		if keyID == "" {
			keyID = cfg.AWSSecretName
		}
		return store, keyID, nil
	default:
		return nil, "", fmt.Errorf("unsupported key type %q", cfg.KeyType)
	}
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("%w: empty key", ErrSecretUnavailable)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		// the parse error may echo key material
		return nil, fmt.Errorf("%w: malformed private key", ErrSecretUnavailable)
	}
	return key, nil
}
