package srtcrypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensrt/gosrt/srtwire"
)

func TestEncryptDecryptIdentity(t *testing.T) {
	c, err := NewCodec("my_secret_passphrase", []byte("somesalt"), Bits256, 0)
	require.NoError(t, err)
	defer c.Destroy()

	plaintext := []byte("Hello, SRT World!")
	seq := srtwire.SeqNo(12345)

	ciphertext, kk, err := c.Encrypt(plaintext, seq)
	require.NoError(t, err)
	assert.Len(t, ciphertext, len(plaintext))
	assert.Equal(t, srtwire.KKEven, kk)

	got, err := c.Decrypt(ciphertext, seq, kk)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestRefreshFlipsParityAndKeepsOverlap(t *testing.T) {
	c, err := NewCodec("my_secret_passphrase", []byte("somesalt"), Bits128, 2)
	require.NoError(t, err)
	defer c.Destroy()

	plaintext := []byte("payload-before-refresh")
	seq := srtwire.SeqNo(1)
	ct1, kk1, err := c.Encrypt(plaintext, seq)
	require.NoError(t, err)
	assert.Equal(t, srtwire.KKEven, kk1)

	_, _, err = c.Encrypt(plaintext, seq.Add(1))
	require.NoError(t, err)
	assert.True(t, c.NeedsRefresh())

	require.NoError(t, c.Refresh())
	assert.Equal(t, srtwire.KKOdd, c.ActiveParity())

	// Overlap: packets encrypted under the even key before refresh still
	// decrypt correctly after the active key flips to odd.
	pt1, err := c.Decrypt(ct1, seq, kk1)
	require.NoError(t, err)
	assert.Equal(t, plaintext, pt1)

	ct2, kk2, err := c.Encrypt(plaintext, seq.Add(2))
	require.NoError(t, err)
	assert.Equal(t, srtwire.KKOdd, kk2)
	pt2, err := c.Decrypt(ct2, seq.Add(2), kk2)
	require.NoError(t, err)
	assert.Equal(t, plaintext, pt2)
}

func TestDeriveSessionKeyRejectsBadPassphraseLength(t *testing.T) {
	_, err := DeriveSessionKey("short", []byte("salt"), Bits256, PBKDF2Iterations)
	assert.Error(t, err)
}
