package cookies

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"
)

const (
	macIterations    = 1003
	linuxIterations  = 1
	linuxV10Password = "peanuts"
	hostDigestLen    = 32
)

var (
	ErrDecrypt               = errors.New("cookie decryption failed")
	ErrUnsupportedEncryption = errors.New("unsupported cookie encryption")
	chromiumSalt             = []byte("saltysalt")
	chromiumIV               = bytes.Repeat([]byte{' '}, aes.BlockSize)
)

func deriveKey(password []byte, iterations int) []byte {
	return pbkdf2.Key(password, chromiumSalt, iterations, 16, sha1.New)
}

func encryptionVersion(encrypted []byte) string {
	if len(encrypted) < 3 {
		return ""
	}
	return string(encrypted[:3])
}

// decryptChromium decrypts a v10/v11 encrypted_value (AES-128-CBC, space IV,
// PKCS#7 padding).
func decryptChromium(key, encrypted []byte, hostDigest bool) (string, error) {
	switch v := encryptionVersion(encrypted); v {
	case "v10", "v11":
	default:
		return "", fmt.Errorf("%w: prefix %q", ErrUnsupportedEncryption, v)
	}
	ct := encrypted[3:]
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d", ErrDecrypt, len(ct))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, chromiumIV).CryptBlocks(pt, ct)

	pt, err = unpad(pt)
	if err != nil {
		return "", err
	}
	if hostDigest {
		if len(pt) < hostDigestLen {
			return "", fmt.Errorf("%w: value shorter than host digest", ErrDecrypt)
		}
		pt = pt[hostDigestLen:]
	}
	// a wrong key yields garbage that almost never survives both checks
	if !utf8.Valid(pt) {
		return "", fmt.Errorf("%w: invalid plaintext", ErrDecrypt)
	}
	return string(pt), nil
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrDecrypt)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrDecrypt)
		}
	}
	return b[:len(b)-n], nil
}
