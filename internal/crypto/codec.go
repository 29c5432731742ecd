package crypto

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the required length of the message encryption key.
	KeySize = chacha20poly1305.KeySize

	// PlaceholderText replaces a body that could not be decoded.
	PlaceholderText = "[Message decryption failed]"

	separator       = ":"
	legacyIVSize    = aes.BlockSize
	maxDecodedBytes = 1 << 20
)

var (
	ErrInvalidKey = errors.New("invalid message encryption key")
	ErrEncode     = errors.New("message encode failed")
	ErrDecode     = errors.New("message decode failed")
)

// Codec turns plaintext message bodies into storage-safe ciphertext blobs and back.
// Blobs have the form hex(nonce) ":" hex(sealed), where sealed is the
// XChaCha20-Poly1305 encryption of the gzip-compressed body.
type Codec struct {
	aead   cipher.AEAD
	legacy cipher.Block
	logger zerolog.Logger
}

// NewCodec creates a codec for the given 32-byte key.
func NewCodec(key []byte, logger zerolog.Logger) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	// Blobs written by the previous service used AES-256-CBC under the same key.
	legacy, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Codec{
		aead:   aead,
		legacy: legacy,
		logger: logger.With().Str("component", "codec").Logger(),
	}, nil
}

// ParseKey decodes a hex-encoded key. Keys that were used as 32 raw
// characters must be hex-encoded first (hex.EncodeToString([]byte(old))).
func ParseKey(keyHex string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(keyHex))
	if err != nil {
		return nil, fmt.Errorf("%w: not hex: %v", ErrInvalidKey, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: must be %d bytes (%d hex chars), got %d bytes", ErrInvalidKey, KeySize, KeySize*2, len(key))
	}
	return key, nil
}

// GenerateKey returns a fresh random key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encode compresses then encrypts plaintext under a fresh random nonce.
func (c *Codec) Encode(plaintext string) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(plaintext)); err != nil {
		return "", fmt.Errorf("%w: compress: %v", ErrEncode, err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("%w: compress: %v", ErrEncode, err)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: nonce: %v", ErrEncode, err)
	}

	sealed := c.aead.Seal(nil, nonce, buf.Bytes(), nil)
	return hex.EncodeToString(nonce) + separator + hex.EncodeToString(sealed), nil
}

// Decode reverses Encode. Blobs with a 16-byte IV are read as legacy
// AES-256-CBC blobs.
func (c *Codec) Decode(blob string) (string, error) {
	ivHex, ctHex, ok := strings.Cut(blob, separator)
	if !ok {
		return "", fmt.Errorf("%w: missing separator", ErrDecode)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", fmt.Errorf("%w: iv: %v", ErrDecode, err)
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext: %v", ErrDecode, err)
	}

	var compressed []byte
	switch len(iv) {
	case c.aead.NonceSize():
		compressed, err = c.aead.Open(nil, iv, ct, nil)
		if err != nil {
			return "", fmt.Errorf("%w: wrong key or tampered ciphertext", ErrDecode)
		}
	case legacyIVSize:
		compressed, err = c.openLegacy(iv, ct)
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("%w: unexpected iv length %d", ErrDecode, len(iv))
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return "", fmt.Errorf("%w: decompress: %v", ErrDecode, err)
	}
	defer zr.Close()

	plain, err := io.ReadAll(io.LimitReader(zr, maxDecodedBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: decompress: %v", ErrDecode, err)
	}
	if len(plain) > maxDecodedBytes {
		return "", fmt.Errorf("%w: body exceeds %d bytes", ErrDecode, maxDecodedBytes)
	}
	return string(plain), nil
}

func (c *Codec) openLegacy(iv, ct []byte) ([]byte, error) {
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: legacy ciphertext not block aligned", ErrDecode)
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(c.legacy, iv).CryptBlocks(out, ct)

	pad := int(out[len(out)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(out) {
		return nil, fmt.Errorf("%w: bad legacy padding", ErrDecode)
	}
	for _, b := range out[len(out)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("%w: bad legacy padding", ErrDecode)
		}
	}
	return out[:len(out)-pad], nil
}

// DecodeOrPlaceholder decodes blob, substituting PlaceholderText on failure.
// The failure is logged with the message id; ok is false when the placeholder was used.
func (c *Codec) DecodeOrPlaceholder(messageID, blob string) (text string, ok bool) {
	plain, err := c.Decode(blob)
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("message_id", messageID).
			Msg("failed to decode message")
		return PlaceholderText, false
	}
	return plain, true
}
