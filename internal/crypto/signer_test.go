package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known development key (anvil account #0).
const devKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var devAddress = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func TestSignAndVerifyRequest(t *testing.T) {
	s, err := NewSigner(devKey)
	require.NoError(t, err)
	assert.Equal(t, devAddress, s.Address())

	body := []byte(`{"outcome":0,"amount":10}`)
	sig, err := s.SignRequest("post", "/api/markets/0/bets", 1_700_000_000, body)
	require.NoError(t, err)
	assert.Len(t, sig, 2+130)

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, VerifyRequest(devAddress, "POST", "/api/markets/0/bets", 1_700_000_000, body, sig))
	})

	t.Run("tampered", func(t *testing.T) {
		cases := []struct {
			name   string
			method string
			path   string
			ts     int64
			body   []byte
		}{
			{"method", "PUT", "/api/markets/0/bets", 1_700_000_000, body},
			{"path", "POST", "/api/markets/1/bets", 1_700_000_000, body},
			{"timestamp", "POST", "/api/markets/0/bets", 1_700_000_001, body},
			{"body", "POST", "/api/markets/0/bets", 1_700_000_000, []byte(`{"outcome":1,"amount":10}`)},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				err := VerifyRequest(devAddress, tc.method, tc.path, tc.ts, tc.body, sig)
				assert.ErrorIs(t, err, ErrBadSignature)
			})
		}
	})

	t.Run("wrong signer", func(t *testing.T) {
		other := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
		assert.ErrorIs(t, VerifyRequest(other, "POST", "/api/markets/0/bets", 1_700_000_000, body, sig), ErrBadSignature)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := RecoverSigner(RequestDigest("GET", "/", 0, nil), "0x1234")
		assert.ErrorIs(t, err, ErrBadSignature)
		_, err = RecoverSigner(RequestDigest("GET", "/", 0, nil), "zz")
		assert.ErrorIs(t, err, ErrBadSignature)
	})
}

func TestEncryptedKeyFile(t *testing.T) {
	blob, err := EncryptKey(devKey, "hunter2")
	require.NoError(t, err)
	assert.Contains(t, string(blob), devAddress.Hex())

	key, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, devKey[2:], key)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "authority.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))
	s, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, devAddress, s.Address())
	assert.Equal(t, strings.ToLower(devKey[2:]), s.PrivateKeyHex())

	s, err = LoadSigner(KeyConfig{RawPrivateKey: devKey, EncryptedKeyPath: "/nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, devAddress, s.Address())

	_, err = LoadSigner(KeyConfig{})
	assert.Error(t, err)
	assert.False(t, KeyConfig{}.Configured())
}
