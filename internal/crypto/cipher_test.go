package crypto

import (
	"encoding/hex"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var (
	testCipherOnce sync.Once
	testCipher     *Cipher
)

// sharedCipher avoids paying the scrypt cost in every test.
func sharedCipher(t *testing.T) *Cipher {
	t.Helper()
	testCipherOnce.Do(func() {
		c, err := NewCipher("test-secret", nil)
		if err != nil {
			t.Fatal(err)
		}
		testCipher = c
	})
	return testCipher
}

func TestRoundTrip(t *testing.T) {
	c := sharedCipher(t)

	rapid.Check(t, func(rt *rapid.T) {
		plaintext := rapid.SliceOf(rapid.Byte()).Draw(rt, "plaintext")
		aad := rapid.SliceOf(rapid.Byte()).Draw(rt, "aad")

		sealed, err := c.Encrypt(plaintext, aad)
		if err != nil {
			rt.Fatal(err)
		}
		got, err := c.Decrypt(sealed, aad)
		if err != nil {
			rt.Fatal(err)
		}
		if string(got) != string(plaintext) {
			rt.Fatalf("round trip mismatch: %q != %q", got, plaintext)
		}
	})
}

func TestTamperedFieldsFail(t *testing.T) {
	c := sharedCipher(t)

	rapid.Check(t, func(rt *rapid.T) {
		plaintext := rapid.SliceOfN(rapid.Byte(), 1, 256).Draw(rt, "plaintext")
		sealed, err := c.Encrypt(plaintext, nil)
		if err != nil {
			rt.Fatal(err)
		}

		tamperIV := rapid.Bool().Draw(rt, "tamperIV")
		field := sealed.CipherText
		if tamperIV {
			field = sealed.IV
		}
		raw, _ := hex.DecodeString(field)
		bit := rapid.IntRange(0, len(raw)*8-1).Draw(rt, "bit")
		raw[bit/8] ^= 1 << (bit % 8)

		tampered := sealed
		if tamperIV {
			tampered.IV = hex.EncodeToString(raw)
		} else {
			tampered.CipherText = hex.EncodeToString(raw)
		}

		if got, err := c.Decrypt(tampered, nil); err == nil {
			rt.Fatalf("tampered payload was accepted: %q", got)
		}
	})
}

func TestDifferentCiphertexts(t *testing.T) {
	c := sharedCipher(t)

	s1, err := c.Encrypt([]byte("same"), nil)
	require.NoError(t, err)
	s2, err := c.Encrypt([]byte("same"), nil)
	require.NoError(t, err)

	assert.NotEqual(t, s1.IV, s2.IV)
	assert.NotEqual(t, s1.CipherText, s2.CipherText)
}

func TestRotatedSecretFails(t *testing.T) {
	c := sharedCipher(t)
	sealed, err := c.Encrypt([]byte(`{"type":"test"}`), nil)
	require.NoError(t, err)

	rotated, err := NewCipher("another-secret", nil)
	require.NoError(t, err)

	_, err = rotated.Decrypt(sealed, nil)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestAADMismatchFails(t *testing.T) {
	c := sharedCipher(t)
	sealed, err := c.Encrypt([]byte("hello"), []byte("msg-1"))
	require.NoError(t, err)

	_, err = c.Decrypt(sealed, []byte("msg-2"))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestMalformedSealed(t *testing.T) {
	c := sharedCipher(t)
	good, err := c.Encrypt([]byte("hello"), nil)
	require.NoError(t, err)

	cases := map[string]Sealed{
		"empty":           {},
		"non-hex iv":      {CipherText: good.CipherText, IV: "zz"},
		"short iv":        {CipherText: good.CipherText, IV: "0011"},
		"non-hex payload": {CipherText: "not hex", IV: good.IV},
		"short payload":   {CipherText: "00", IV: good.IV},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decrypt(s, nil)
			assert.ErrorIs(t, err, ErrDecrypt)
		})
	}
}

func TestEmptySecretRejected(t *testing.T) {
	_, err := NewCipher("", nil)
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestRandomHex(t *testing.T) {
	a, err := RandomHex(16)
	require.NoError(t, err)
	b, err := RandomHex(16)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	_, err = hex.DecodeString(a)
	assert.NoError(t, err)
}
