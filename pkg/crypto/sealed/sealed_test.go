package sealed

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	c, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plain := []byte(`{"partition_key":"cust-1","row_key":"ord-1"}`)
	ad := []byte("orders")

	out, err := c.Seal(plain, ad)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(out, plain) {
		t.Fatal("sealed output contains plaintext")
	}

	got, err := c.Open(out, ad)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("Open = %q, want %q", got, plain)
	}
}

func TestOpenRejectsWrongAdditionalData(t *testing.T) {
	c, _ := New(testKey(t))

	out, err := c.Seal([]byte("v"), []byte("orders"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := c.Open(out, []byte("users")); err == nil {
		t.Fatal("Open with mismatched additional data should fail")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	c, _ := New(testKey(t))

	out, err := c.Seal([]byte("value"), nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	out[len(out)-1] ^= 0xff
	if _, err := c.Open(out, nil); err == nil {
		t.Fatal("Open of tampered ciphertext should fail")
	}
}

func TestNewRejectsBadKey(t *testing.T) {
	if _, err := New(make([]byte, 16)); err != ErrInvalidKeySize {
		t.Fatalf("New(16-byte key) = %v, want ErrInvalidKeySize", err)
	}
}

func TestOpenRejectsShortCiphertext(t *testing.T) {
	c, _ := New(testKey(t))
	if _, err := c.Open([]byte{1, 2, 3}, nil); err != ErrCiphertextTooShort {
		t.Fatalf("Open(short) = %v, want ErrCiphertextTooShort", err)
	}
}
