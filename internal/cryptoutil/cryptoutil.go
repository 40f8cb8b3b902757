// Package cryptoutil implements the cipher and checksum primitives the card
// handlers share: DESFire-flavored TDES-CBC, AES-256-CBC, the ISO-14443
// CRC-16, MAC derivation, session-key derivation, and nonce generation.
//
// Grounded on barnettlynn-nfctools/pkg/ntag424/crypto.go (CBC wrapper shape,
// rotate-by-one helpers) adapted from AES to the DES/TDES primitives this
// system actually needs, using stdlib crypto/des in place of the original's
// AES-only scope.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/rand"
	"fmt"
)

const (
	desBlockSize = 8
	aesBlockSize = 16

	// DESFireNonceSize is the nonce length used by DESFire legacy mutual
	// authentication (rndA, rndB).
	DESFireNonceSize = 8
	// GenericIDNonceSize is the nonce length used by the terminal-side AES
	// challenge/response for GenericId cards.
	GenericIDNonceSize = 32
)

// normalizeTDESKey expands an 8-byte single-DES key to the 16-byte two-key
// form DESFire legacy authentication always operates on, and validates any
// other length.
func normalizeTDESKey(key []byte) ([]byte, error) {
	switch len(key) {
	case 8:
		full := make([]byte, 16)
		copy(full[:8], key)
		copy(full[8:], key)
		return full, nil
	case 16:
		return key, nil
	default:
		return nil, fmt.Errorf("cryptoutil: TDES key must be 8 or 16 bytes, got %d", len(key))
	}
}

// tripleDESBlock builds the 24-byte K1||K2||K1 cipher.Block go's stdlib
// triple-DES expects from a two-key (16-byte) DESFire key.
func tripleDESBlock(key16 []byte) (cipher.Block, error) {
	full := make([]byte, 24)
	copy(full[0:8], key16[0:8])
	copy(full[8:16], key16[8:16])
	copy(full[16:24], key16[0:8])
	return des.NewTripleDESCipher(full)
}

func zeroPad(data []byte, blockSize int) []byte {
	if len(data)%blockSize == 0 {
		return data
	}
	padded := make([]byte, ((len(data)/blockSize)+1)*blockSize)
	copy(padded, data)
	return padded
}

func xorBlock(dst, a, b []byte) {
	for i := range dst {
		dst[i] = a[i] ^ b[i]
	}
}

// TDESEncrypt implements the DESFire legacy "send" direction: CBC chaining
// where each block is put through the cipher's Decrypt transform rather than
// Encrypt. This is inherent to the DESFire authentication protocol (the
// PICC's crypto engine performs this operation internally) and must not be
// corrected to a conventional CBC encrypt. Zero IV, zero padding.
func TDESEncrypt(key, plaintext []byte) ([]byte, error) {
	key16, err := normalizeTDESKey(key)
	if err != nil {
		return nil, err
	}
	block, err := tripleDESBlock(key16)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: tdes cipher: %w", err)
	}

	padded := zeroPad(plaintext, desBlockSize)
	out := make([]byte, len(padded))
	prev := make([]byte, desBlockSize)

	for off := 0; off < len(padded); off += desBlockSize {
		x := make([]byte, desBlockSize)
		xorBlock(x, padded[off:off+desBlockSize], prev)
		block.Decrypt(out[off:off+desBlockSize], x)
		prev = out[off : off+desBlockSize]
	}
	return out, nil
}

// TDESDecrypt is the mathematical inverse of TDESEncrypt. Because
// TDESEncrypt chains the Decrypt transform over (plaintext XOR previous
// ciphertext), recovering the plaintext requires applying the cipher's
// Encrypt transform to each ciphertext block and XORing with the previous
// ciphertext block — the genuine inverse of the construction above, and the
// pairing that keeps the round-trip self-check in this codebase honest.
func TDESDecrypt(key, ciphertext []byte) ([]byte, error) {
	key16, err := normalizeTDESKey(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext)%desBlockSize != 0 {
		return nil, fmt.Errorf("cryptoutil: tdes ciphertext not block-aligned (%d bytes)", len(ciphertext))
	}
	block, err := tripleDESBlock(key16)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: tdes cipher: %w", err)
	}

	out := make([]byte, len(ciphertext))
	prev := make([]byte, desBlockSize)

	for off := 0; off < len(ciphertext); off += desBlockSize {
		c := ciphertext[off : off+desBlockSize]
		x := make([]byte, desBlockSize)
		block.Encrypt(x, c)
		xorBlock(out[off:off+desBlockSize], x, prev)
		prev = c
	}
	return out, nil
}

// TDESMAC computes the DESFire MACed-mode MAC: TDES-CBC-encrypt (via
// TDESEncrypt) the plaintext and take the last 4 bytes of the final block.
func TDESMAC(key, plaintext []byte) ([]byte, error) {
	ct, err := TDESEncrypt(key, plaintext)
	if err != nil {
		return nil, err
	}
	if len(ct) < 4 {
		return nil, fmt.Errorf("cryptoutil: MAC input too short")
	}
	return ct[len(ct)-4:], nil
}

// AESEncrypt performs AES-256-CBC with a zero IV and zero padding, the mode
// the GenericId family's terminal-side challenge/response uses.
func AESEncrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: aes cipher: %w", err)
	}
	padded := zeroPad(plaintext, aesBlockSize)
	iv := make([]byte, aesBlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// AESDecrypt is the inverse of AESEncrypt.
func AESDecrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: aes cipher: %w", err)
	}
	if len(ciphertext)%aesBlockSize != 0 {
		return nil, fmt.Errorf("cryptoutil: aes ciphertext not block-aligned (%d bytes)", len(ciphertext))
	}
	iv := make([]byte, aesBlockSize)
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}

// CRC16 computes the ISO-14443 CRC-16 with seed 0x6363 and emits it
// low-byte-first, high-byte second.
func CRC16(data []byte) [2]byte {
	wCrc := uint16(0x6363)
	for _, b := range data {
		t := (wCrc & 0xFF) ^ uint16(b)
		t ^= t << 4
		t &= 0xFF
		wCrc = (wCrc >> 8) ^ (t << 8) ^ (t << 3) ^ (t >> 4)
		wCrc &= 0xFFFF
	}
	return [2]byte{byte(wCrc & 0xFF), byte(wCrc >> 8)}
}

// RotateLeft returns x rotated left by one byte: x[1:] || x[0:1].
func RotateLeft(x []byte) []byte {
	if len(x) == 0 {
		return x
	}
	out := make([]byte, len(x))
	copy(out, x[1:])
	out[len(x)-1] = x[0]
	return out
}

// RotateRight returns x rotated right by one byte: the inverse of RotateLeft.
func RotateRight(x []byte) []byte {
	if len(x) == 0 {
		return x
	}
	out := make([]byte, len(x))
	copy(out[1:], x[:len(x)-1])
	out[0] = x[len(x)-1]
	return out
}

// DeriveSessionKey builds the post-authentication session key from the two
// nonces. An 8-byte key uses the first 4 bytes of each nonce; a 16-byte
// (2TDES) key interleaves the first and second halves of both.
func DeriveSessionKey(rndA, rndB []byte, keySize int) ([]byte, error) {
	if len(rndA) < 8 || len(rndB) < 8 {
		return nil, fmt.Errorf("cryptoutil: nonces must be at least 8 bytes")
	}
	switch keySize {
	case 8:
		out := make([]byte, 8)
		copy(out[0:4], rndA[0:4])
		copy(out[4:8], rndB[0:4])
		return out, nil
	case 16:
		out := make([]byte, 16)
		copy(out[0:4], rndA[0:4])
		copy(out[4:8], rndB[0:4])
		copy(out[8:12], rndA[4:8])
		copy(out[12:16], rndB[4:8])
		return out, nil
	default:
		return nil, fmt.Errorf("cryptoutil: unsupported session key size %d", keySize)
	}
}

// RandomNonce returns n cryptographically random bytes.
func RandomNonce(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("cryptoutil: random nonce: %w", err)
	}
	return b, nil
}
