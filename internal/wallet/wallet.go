// Package wallet decrypts stored signing keys. Two envelope formats are
// supported: a standard geth keystore JSON file and a compact scrypt +
// secretbox blob produced by the setup wizard.
package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/quantfold/dealer/internal/domain"
)

// scrypt parameters for the compact envelope. Fixed so every blob decrypts
// without negotiating parameters.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

// envelope is the compact encrypted-key format: all fields hex-encoded.
type envelope struct {
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Decrypt recovers a signing key from an encrypted secret. A password that
// fails authentication yields domain.ErrWrongPassword; malformed input is a
// distinct error.
func Decrypt(secret []byte, password string) (*ecdsa.PrivateKey, error) {
	if looksLikeKeystore(secret) {
		key, err := keystore.DecryptKey(secret, password)
		if err != nil {
			return nil, domain.ErrWrongPassword
		}
		return key.PrivateKey, nil
	}

	var env envelope
	if err := json.Unmarshal(secret, &env); err != nil {
		return nil, errors.Wrap(err, "decode key envelope")
	}
	return decryptEnvelope(&env, password)
}

// Encrypt seals a raw private key into the compact envelope. Used by the
// setup wizard; salt and nonce must be fresh random bytes of 32 and 24.
func Encrypt(key *ecdsa.PrivateKey, password string, salt, nonce []byte) ([]byte, error) {
	if len(salt) != 32 || len(nonce) != 24 {
		return nil, errors.New("salt must be 32 bytes and nonce 24 bytes")
	}

	derived, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, errors.Wrap(err, "derive encryption key")
	}

	var sealKey [32]byte
	var sealNonce [24]byte
	copy(sealKey[:], derived)
	copy(sealNonce[:], nonce)

	sealed := secretbox.Seal(nil, ethcrypto.FromECDSA(key), &sealNonce, &sealKey)

	return json.Marshal(envelope{
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce),
		Ciphertext: hex.EncodeToString(sealed),
	})
}

func decryptEnvelope(env *envelope, password string) (*ecdsa.PrivateKey, error) {
	salt, err := hex.DecodeString(env.Salt)
	if err != nil || len(salt) != 32 {
		return nil, errors.New("invalid envelope salt")
	}
	nonceBytes, err := hex.DecodeString(env.Nonce)
	if err != nil || len(nonceBytes) != 24 {
		return nil, errors.New("invalid envelope nonce")
	}
	ciphertext, err := hex.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, errors.New("invalid envelope ciphertext")
	}

	derived, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, errors.Wrap(err, "derive encryption key")
	}

	var openKey [32]byte
	var openNonce [24]byte
	copy(openKey[:], derived)
	copy(openNonce[:], nonceBytes)

	// secretbox authenticates: a wrong password fails the open, it never
	// yields garbage key bytes.
	raw, ok := secretbox.Open(nil, ciphertext, &openNonce, &openKey)
	if !ok {
		return nil, domain.ErrWrongPassword
	}

	key, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, errors.Wrap(err, "reconstruct private key")
	}
	return key, nil
}

func looksLikeKeystore(secret []byte) bool {
	trimmed := strings.TrimSpace(string(secret))
	return strings.Contains(trimmed, `"crypto"`) || strings.Contains(trimmed, `"Crypto"`)
}
