package wallet

import (
	"crypto/rand"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/dealer/internal/domain"
)

func randBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	blob, err := Encrypt(key, "correct horse battery", randBytes(t, 32), randBytes(t, 24))
	require.NoError(t, err)

	recovered, err := Decrypt(blob, "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.FromECDSA(key), ethcrypto.FromECDSA(recovered))
}

func TestDecrypt_WrongPassword(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	blob, err := Encrypt(key, "right password", randBytes(t, 32), randBytes(t, 24))
	require.NoError(t, err)

	_, err = Decrypt(blob, "wrong password")
	assert.ErrorIs(t, err, domain.ErrWrongPassword)
}

func TestDecrypt_MalformedInput(t *testing.T) {
	_, err := Decrypt([]byte("not json at all"), "password")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrWrongPassword, "garbage input is not a password failure")
}

func TestEncrypt_RejectsBadSaltOrNonce(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	_, err = Encrypt(key, "password", randBytes(t, 16), randBytes(t, 24))
	assert.Error(t, err)

	_, err = Encrypt(key, "password", randBytes(t, 32), randBytes(t, 12))
	assert.Error(t, err)
}
