package vault

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/pbkdf2"

	"github.com/ndewijer/nepseutils/internal/apperrors"
)

// KDF parameters. The salt is the password itself so that files written by
// earlier releases keep opening; see DESIGN.md.
const (
	kdfIterations = 100000
	kdfKeyLen     = 32
)

// noExpiry disables the token timestamp check in fernet.VerifyAndDecrypt.
const noExpiry = -1

// DeriveKey turns a vault password into its Fernet key.
func DeriveKey(password string) *fernet.Key {
	raw := pbkdf2.Key([]byte(password), []byte(password), kdfIterations, kdfKeyLen, sha256.New)
	var k fernet.Key
	copy(k[:], raw)
	return &k
}

// seal encrypts plaintext and returns the envelope's data field: the Fernet
// token, base64 encoded once more.
func seal(k *fernet.Key, plaintext []byte) (string, error) {
	tok, err := fernet.EncryptAndSign(plaintext, k)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt vault data: %w", err)
	}
	return base64.StdEncoding.EncodeToString(tok), nil
}

// open reverses seal. A token that does not verify under k is reported as a
// wrong password.
func open(k *fernet.Key, data string) ([]byte, error) {
	tok, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: data field is not base64: %v", apperrors.ErrVaultCorrupted, err)
	}
	return openToken(k, tok)
}

// openToken decrypts a raw Fernet token.
func openToken(k *fernet.Key, tok []byte) ([]byte, error) {
	msg := fernet.VerifyAndDecrypt(tok, noExpiry, []*fernet.Key{k})
	if msg == nil {
		return nil, apperrors.ErrWrongPassword
	}
	return msg, nil
}

// OpenToken decrypts a raw Fernet token with a password-derived key. The
// legacy converter reads its pre-envelope file with it.
func OpenToken(password string, tok []byte) ([]byte, error) {
	return openToken(DeriveKey(password), tok)
}
