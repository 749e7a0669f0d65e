package services

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/hkdf"
)

const (
	sessionSecretLength = 32

	// securecookie accepts a 32 or 64 byte HMAC key and a 16, 24 or 32 byte AES key
	cookieHashKeyLength  = 64
	cookieBlockKeyLength = 32

	cookieHashKeyInfo  = "oidc-gate session cookie hmac-sha256"
	cookieBlockKeyInfo = "oidc-gate session cookie aes-256"
)

// SecretVersion is one entry of the session key secret, newest first.
type SecretVersion struct {
	Secret    string `json:"secret"`
	Timestamp string `json:"timestamp"`
}

// SessionKeyService loads the rotated session secrets kept in Secrets Manager
// and turns them into cookie signing and encryption keys.
type SessionKeyService struct {
	client     SecretsAPI
	secretName string
	load       func() ([][]byte, error)
}

func NewSessionKeyService(ctx context.Context, client SecretsAPI, secretName string) *SessionKeyService {
	s := &SessionKeyService{
		client:     client,
		secretName: secretName,
	}

	// loaded once per process; a restart picks up rotations
	s.load = sync.OnceValues(func() ([][]byte, error) {
		return s.fetchSessionSecrets(context.WithoutCancel(ctx))
	})
	return s
}

// GetSessionKeys returns the raw 32 byte session secrets, newest first.
func (s *SessionKeyService) GetSessionKeys(ctx context.Context) ([][]byte, error) {
	return s.load()
}

// GetCookieKeys returns the cookie key pairs for every session secret in the
// form expected by sessions.NewCookieStore.
func (s *SessionKeyService) GetCookieKeys(ctx context.Context) ([][]byte, error) {
	secrets, err := s.load()
	if err != nil {
		return nil, err
	}
	return CookieKeyPairs(secrets)
}

// CookieKeyPairs expands each session secret into an HMAC key and an AES key
// and returns them flattened as hash1, block1, hash2, block2, ... in the order
// of secrets. Cookies are encoded with the first pair and decoded with any, so
// a cookie issued before a rotation stays readable while its secret is kept.
func CookieKeyPairs(secrets [][]byte) ([][]byte, error) {
	pairs := make([][]byte, 0, 2*len(secrets))
	for i, secret := range secrets {
		if len(secret) != sessionSecretLength {
			return nil, fmt.Errorf("session secret %d is %d bytes, want %d", i, len(secret), sessionSecretLength)
		}

		hashKey, err := deriveKey(secret, cookieHashKeyInfo, cookieHashKeyLength)
		if err != nil {
			return nil, err
		}
		blockKey, err := deriveKey(secret, cookieBlockKeyInfo, cookieBlockKeyLength)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, hashKey, blockKey)
	}
	return pairs, nil
}

func deriveKey(secret []byte, info string, length int) ([]byte, error) {
	key := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive cookie key: %w", err)
	}
	return key, nil
}

func (s *SessionKeyService) fetchSessionSecrets(ctx context.Context) ([][]byte, error) {
	logger := zerolog.Ctx(ctx).With().Str("secret_name", s.secretName).Logger()

	output, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", s.secretName, err)
	}
	if output.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", s.secretName)
	}

	var versions []SecretVersion
	if err := json.Unmarshal([]byte(*output.SecretString), &versions); err != nil {
		return nil, fmt.Errorf("failed to parse session key versions in %s: %w", s.secretName, err)
	}

	secrets := make([][]byte, 0, len(versions))
	for i, version := range versions {
		secret, err := decodeSessionSecret(version.Secret)
		if err != nil {
			logger.Warn().
				Int("index", i).
				Str("timestamp", version.Timestamp).
				Err(err).
				Msg("Skipping unusable session key version")
			continue
		}
		secrets = append(secrets, secret)
	}

	if len(secrets) == 0 {
		return nil, fmt.Errorf("no usable session keys in secret %s", s.secretName)
	}

	logger.Info().Int("key_count", len(secrets)).Msg("Loaded session keys")
	return secrets, nil
}

func decodeSessionSecret(encoded string) ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(secret) != sessionSecretLength {
		return nil, fmt.Errorf("session key is %d bytes, want %d", len(secret), sessionSecretLength)
	}
	return secret, nil
}
