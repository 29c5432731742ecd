package crypto

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestCodec(t *testing.T) (*Codec, []byte) {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewCodec(key, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return c, key
}

func TestRoundTrip(t *testing.T) {
	c, _ := newTestCodec(t)

	inputs := []string{
		"hello team",
		"",
		"héllo wörld ✓ 你好 🚀",
		strings.Repeat("long message body ", 2000),
		"line one\nline two\ttabbed",
	}
	for _, in := range inputs {
		blob, err := c.Encode(in)
		if err != nil {
			t.Fatalf("encode %q: %v", in, err)
		}
		out, err := c.Decode(blob)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if out != in {
			t.Fatalf("round trip mismatch: got %q want %q", out, in)
		}
	}
}

func TestBlobFormat(t *testing.T) {
	c, _ := newTestCodec(t)

	blob, err := c.Encode("test")
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(blob, ":")
	if len(parts) != 2 {
		t.Fatalf("expected two colon-delimited parts, got %d", len(parts))
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(nonce) != 24 {
		t.Fatalf("expected 24-byte nonce, got %d", len(nonce))
	}
	if _, err := hex.DecodeString(parts[1]); err != nil {
		t.Fatal(err)
	}
}

func TestNonceUniqueness(t *testing.T) {
	c, _ := newTestCodec(t)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		blob, err := c.Encode("same")
		if err != nil {
			t.Fatal(err)
		}
		if seen[blob] {
			t.Fatal("encoding the same plaintext twice produced the same blob")
		}
		seen[blob] = true

		nonce, _, _ := strings.Cut(blob, ":")
		if seen["nonce:"+nonce] {
			t.Fatal("nonce reused")
		}
		seen["nonce:"+nonce] = true
	}
}

func TestCompressionPrecedesEncryption(t *testing.T) {
	c, _ := newTestCodec(t)

	body := strings.Repeat("a", 10000)
	blob, err := c.Encode(body)
	if err != nil {
		t.Fatal(err)
	}
	_, ct, _ := strings.Cut(blob, ":")
	// Compressible input must shrink well below its raw size.
	if len(ct)/2 > len(body)/10 {
		t.Fatalf("ciphertext of %d bytes suggests the body was not compressed", len(ct)/2)
	}
}

func TestWrongKeyFails(t *testing.T) {
	c, _ := newTestCodec(t)
	other, _ := newTestCodec(t)

	blob, err := c.Encode("secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Decode(blob); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestCorruptBlobs(t *testing.T) {
	c, _ := newTestCodec(t)

	blob, _ := c.Encode("payload")
	nonce, ct, _ := strings.Cut(blob, ":")
	flipped := []byte(ct)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}

	cases := map[string]string{
		"no separator":   "deadbeef",
		"bad iv hex":     "zz:" + ct,
		"bad ct hex":     nonce + ":zz",
		"short iv":       "abcd:" + ct,
		"tampered":       nonce + ":" + string(flipped),
		"empty":          "",
		"legacy garbage": strings.Repeat("00", 16) + ":" + strings.Repeat("11", 15),
	}
	for name, in := range cases {
		if _, err := c.Decode(in); !errors.Is(err, ErrDecode) {
			t.Errorf("%s: expected ErrDecode, got %v", name, err)
		}
	}
}

// legacyBlob builds a body the way the previous service wrote it: gzip, then
// AES-256-CBC with PKCS#7 padding, as hex(iv):hex(ct).
func legacyBlob(t *testing.T, key []byte, text string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(text))
	zw.Close()

	plain := buf.Bytes()
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	plain = append(plain, bytes.Repeat([]byte{byte(pad)}, pad)...)

	iv := make([]byte, aes.BlockSize)
	rand.Read(iv)
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	ct := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, plain)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ct)
}

func TestLegacyBlob(t *testing.T) {
	c, key := newTestCodec(t)

	got, err := c.Decode(legacyBlob(t, key, "written by the old service"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "written by the old service" {
		t.Fatalf("unexpected legacy plaintext %q", got)
	}
}

func TestLegacyBlobWithPassphraseKey(t *testing.T) {
	// The old service used the 32 raw characters of its key as AES key
	// bytes. Hex-encoding that string gives the MESSAGE_ENCRYPTION_KEY value.
	const oldKey = "0123456789abcdefghijklmnopqrstuv"
	blob := legacyBlob(t, []byte(oldKey), "still readable")

	key, err := ParseKey(hex.EncodeToString([]byte(oldKey)))
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewCodec(key, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Decode(blob)
	if err != nil {
		t.Fatal(err)
	}
	if got != "still readable" {
		t.Fatalf("unexpected legacy plaintext %q", got)
	}

	// Using the raw string as if it were hex fails loudly instead.
	if _, err := ParseKey(oldKey); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestOversizedBodyFails(t *testing.T) {
	c, key := newTestCodec(t)

	big := strings.Repeat("a", maxDecodedBytes+1)
	blob, err := c.Encode(big)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Decode(blob); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if text, ok := c.DecodeOrPlaceholder("01H", legacyBlob(t, key, big)); ok || text != PlaceholderText {
		t.Fatalf("expected placeholder for oversized legacy body, got ok=%v", ok)
	}

	exact := strings.Repeat("b", maxDecodedBytes)
	blob, _ = c.Encode(exact)
	if out, err := c.Decode(blob); err != nil || len(out) != maxDecodedBytes {
		t.Fatalf("body at the limit: len=%d err=%v", len(out), err)
	}
}

func TestDecodeOrPlaceholder(t *testing.T) {
	c, _ := newTestCodec(t)

	blob, _ := c.Encode("fine")
	if text, ok := c.DecodeOrPlaceholder("01H", blob); !ok || text != "fine" {
		t.Fatalf("expected decoded text, got %q ok=%v", text, ok)
	}
	if text, ok := c.DecodeOrPlaceholder("01H", "broken"); ok || text != PlaceholderText {
		t.Fatalf("expected placeholder, got %q ok=%v", text, ok)
	}
}

func TestParseKey(t *testing.T) {
	key, _ := GenerateKey()
	parsed, err := ParseKey(hex.EncodeToString(key))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(parsed, key) {
		t.Fatal("parsed key differs")
	}

	for _, bad := range []string{"", "xyz", hex.EncodeToString(key[:16])} {
		if _, err := ParseKey(bad); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ParseKey(%q): expected ErrInvalidKey, got %v", bad, err)
		}
	}
	if _, err := NewCodec(key[:10], zerolog.Nop()); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestMessageIDsAreMonotonic(t *testing.T) {
	now := time.Now()
	prev := NewMessageID(now)
	for i := 0; i < 1000; i++ {
		id := NewMessageID(now)
		if id <= prev {
			t.Fatalf("id %s not greater than %s", id, prev)
		}
		prev = id
	}
}
