package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"

	"github.com/gorilla/securecookie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieKeyPairs(t *testing.T) {
	k1 := bytes.Repeat([]byte{1}, 32)
	k2 := bytes.Repeat([]byte{2}, 32)
	k3 := bytes.Repeat([]byte{3}, 32)

	before, err := CookieKeyPairs([][]byte{k1, k2})
	require.NoError(t, err)
	require.Len(t, before, 4)
	assert.Len(t, before[0], 64)
	assert.Len(t, before[1], 32)
	assert.NotEqual(t, before[0][:32], before[1])

	after, err := CookieKeyPairs([][]byte{k3, k1, k2})
	require.NoError(t, err)
	require.Len(t, after, 6)
	assert.Equal(t, before, after[2:])

	value := map[string]string{"sub": "alice"}
	encoded, err := securecookie.EncodeMulti("gate-session", value, securecookie.CodecsFromPairs(before...)...)
	require.NoError(t, err)

	t.Run("decodes after rotation", func(t *testing.T) {
		var decoded map[string]string
		require.NoError(t, securecookie.DecodeMulti("gate-session", encoded, &decoded, securecookie.CodecsFromPairs(after...)...))
		assert.Equal(t, value, decoded)
	})

	t.Run("rejected once the secret is dropped", func(t *testing.T) {
		dropped, err := CookieKeyPairs([][]byte{k3})
		require.NoError(t, err)

		var decoded map[string]string
		assert.Error(t, securecookie.DecodeMulti("gate-session", encoded, &decoded, securecookie.CodecsFromPairs(dropped...)...))
	})

	t.Run("value is encrypted", func(t *testing.T) {
		var decoded map[string]string
		err := securecookie.New(before[0], nil).Decode("gate-session", encoded, &decoded)
		assert.Error(t, err)
		assert.NotEqual(t, value, decoded)
	})

	t.Run("rejects short secrets", func(t *testing.T) {
		_, err := CookieKeyPairs([][]byte{k1, make([]byte, 16)})
		assert.Error(t, err)
	})
}

func TestSessionKeyService_GetCookieKeys(t *testing.T) {
	secret := bytes.Repeat([]byte{7}, 32)
	client := &fakeSecrets{values: map[string]string{
		"keys": `[{"secret":"` + base64.StdEncoding.EncodeToString(secret) + `"}]`,
	}}

	keys, err := NewSessionKeyService(context.Background(), client, "keys").GetCookieKeys(context.Background())
	require.NoError(t, err)

	want, err := CookieKeyPairs([][]byte{secret})
	require.NoError(t, err)
	assert.Equal(t, want, keys)
}
