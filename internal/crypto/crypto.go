// Package crypto obscures message bodies with passphrase-keyed AES.
//
// The passphrase is the sending participant's id, which is stored next to
// the ciphertext in every message record. Anyone who can read the message
// record can therefore also decrypt it: this scheme hides bodies from
// casual inspection of the wire payload, it is NOT confidentiality against
// a reader with repository access. The keying is kept as-is so that
// already-stored ciphertext remains readable.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrDecryptionFailed is returned when a ciphertext cannot be decrypted
// with the given key.
var ErrDecryptionFailed = errors.New("decryption failed")

const (
	saltHeader = "Salted__"
	saltSize   = 8
	keySize    = 32
	ivSize     = aes.BlockSize
)

// Encrypt encrypts plaintext with the given passphrase key and returns a
// base64 ciphertext in the OpenSSL salted format (the format CryptoJS
// produces for AES.encrypt(text, passphrase)).
func Encrypt(plaintext, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("encrypt: empty key")
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}

	aesKey, iv := deriveKeyIV([]byte(key), salt)
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	out := make([]byte, 0, len(saltHeader)+saltSize+len(ciphertext))
	out = append(out, saltHeader...)
	out = append(out, salt...)
	out = append(out, ciphertext...)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Any malformed input, wrong key, or damaged
// ciphertext results in ErrDecryptionFailed.
func Decrypt(ciphertext, key string) (string, error) {
	if key == "" {
		return "", ErrDecryptionFailed
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	if len(raw) < len(saltHeader)+saltSize || string(raw[:len(saltHeader)]) != saltHeader {
		return "", ErrDecryptionFailed
	}
	salt := raw[len(saltHeader) : len(saltHeader)+saltSize]
	body := raw[len(saltHeader)+saltSize:]

	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return "", ErrDecryptionFailed
	}

	aesKey, iv := deriveKeyIV([]byte(key), salt)
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	plaintext := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, body)

	unpadded, ok := pkcs7Unpad(plaintext, aes.BlockSize)
	if !ok {
		return "", ErrDecryptionFailed
	}

	return string(unpadded), nil
}

// deriveKeyIV stretches the passphrase and salt into an AES-256 key and IV
// using the OpenSSL EVP_BytesToKey construction with MD5 and one round,
// which is what CryptoJS uses for passphrase mode.
func deriveKeyIV(passphrase, salt []byte) (key, iv []byte) {
	var derived []byte
	var prev []byte

	for len(derived) < keySize+ivSize {
		h := md5.New()
		h.Write(prev)
		h.Write(passphrase)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}

	return derived[:keySize], derived[keySize : keySize+ivSize]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}

	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, false
	}

	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, false
		}
	}

	return data[:len(data)-padding], true
}
