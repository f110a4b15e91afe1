// Package srtcrypto implements the keyed AES-CTR packet codec (component
// C3): a PBKDF2-derived session key, sequence-derived IVs, and periodic
// key refresh with even/odd overlap. The cipher itself runs over
// gitlab.com/yawning/bsaes.git (constant-time AES), the one AES
// implementation the spec's crypto model needs; CTR-mode construction
// from a cipher.Block stays on the standard library's crypto/cipher,
// which has no ecosystem substitute.
package srtcrypto

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"gitlab.com/yawning/bsaes.git"

	"github.com/opensrt/gosrt/errs"
	"github.com/opensrt/gosrt/srtwire"
)

// KeyBits selects the AES key size.
type KeyBits int

const (
	Bits128 KeyBits = 128
	Bits192 KeyBits = 192
	Bits256 KeyBits = 256
)

func (k KeyBits) bytes() int { return int(k) / 8 }

// PBKDF2Iterations is the minimum iteration count required by §4.3.
const PBKDF2Iterations = 10000

// MinPassphraseLen and MaxPassphraseLen bound the configured passphrase,
// per §4.2's rejection rule (length outside [10,79]).
const (
	MinPassphraseLen = 10
	MaxPassphraseLen = 79
)

// DefaultKeyRefreshPackets is the per-key usage threshold after which a
// fresh key is derived and KK parity flips (§4.3, §6).
const DefaultKeyRefreshPackets = 1_000_000

// DeriveSessionKey stretches a passphrase into a session key of the
// requested size via PBKDF2-HMAC-SHA256, at least PBKDF2Iterations rounds.
func DeriveSessionKey(passphrase string, salt []byte, bits KeyBits, iterations int) ([]byte, error) {
	if len(passphrase) < MinPassphraseLen || len(passphrase) > MaxPassphraseLen {
		return nil, errs.NewInvalidInput("DeriveSessionKey", errShortOrLongPassphrase)
	}
	if iterations < PBKDF2Iterations {
		iterations = PBKDF2Iterations
	}
	return pbkdf2.Key([]byte(passphrase), salt, iterations, bits.bytes(), sha256.New), nil
}

var errShortOrLongPassphrase = errRange{"passphrase length outside [10,79]"}

type errRange struct{ s string }

func (e errRange) Error() string { return e.s }

// Codec encrypts/decrypts Data packet payloads with a rotating pair of
// session keys (even/odd), held in locked memory for the lifetime of the
// connection.
type Codec struct {
	bits KeyBits

	passphrase *memguard.LockedBuffer

	evenKey   *memguard.LockedBuffer
	oddKey    *memguard.LockedBuffer
	active    srtwire.KeyEncryption // KKEven or KKOdd: which key new packets use
	evenUsage uint64
	oddUsage  uint64
	evenGen   uint64
	oddGen    uint64

	refreshThreshold uint64
	salt             []byte
}

// NewCodec derives the initial (even) session key from passphrase and
// salt, and activates it.
func NewCodec(passphrase string, salt []byte, bits KeyBits, refreshThreshold uint64) (*Codec, error) {
	if refreshThreshold == 0 {
		refreshThreshold = DefaultKeyRefreshPackets
	}
	key, err := DeriveSessionKey(passphrase, salt, bits, PBKDF2Iterations)
	if err != nil {
		return nil, err
	}
	c := &Codec{
		bits:             bits,
		passphrase:       memguard.NewBufferFromBytes([]byte(passphrase)),
		evenKey:          memguard.NewBufferFromBytes(key),
		active:           srtwire.KKEven,
		refreshThreshold: refreshThreshold,
		salt:             append([]byte(nil), salt...),
	}
	return c, nil
}

// Destroy wipes all locked key material. Safe to call more than once.
func (c *Codec) Destroy() {
	c.passphrase.Destroy()
	c.evenKey.Destroy()
	if c.oddKey != nil {
		c.oddKey.Destroy()
	}
}

func ivFor(seq srtwire.SeqNo) []byte {
	iv := make([]byte, 16)
	binary.BigEndian.PutUint32(iv[0:4], uint32(seq))
	return iv
}

func (c *Codec) blockFor(key []byte) (cipher.Block, error) {
	block, err := bsaes.NewCipher(key)
	if err != nil {
		return nil, errs.NewCrypto("unsupported-algorithm", err)
	}
	return block, nil
}

// Encrypt produces ciphertext of equal length to plaintext, using the
// currently active key, and reports which KK parity it used so the
// caller can stamp the Data header.
func (c *Codec) Encrypt(plaintext []byte, seq srtwire.SeqNo) (ciphertext []byte, kk srtwire.KeyEncryption, err error) {
	key := c.evenKey
	if c.active == srtwire.KKOdd {
		key = c.oddKey
	}
	block, err := c.blockFor(key.Bytes())
	if err != nil {
		return nil, 0, err
	}
	stream := cipher.NewCTR(block, ivFor(seq))
	out := make([]byte, len(plaintext))
	stream.XORKeyStream(out, plaintext)

	if c.active == srtwire.KKEven {
		c.evenUsage++
	} else {
		c.oddUsage++
	}
	return out, c.active, nil
}

// Decrypt reverses Encrypt given the KK parity carried by the packet's
// Data header; a brief overlap keeps both keys valid during key refresh.
func (c *Codec) Decrypt(ciphertext []byte, seq srtwire.SeqNo, kk srtwire.KeyEncryption) ([]byte, error) {
	var key *memguard.LockedBuffer
	switch kk {
	case srtwire.KKEven:
		key = c.evenKey
	case srtwire.KKOdd:
		if c.oddKey == nil {
			return nil, errs.NewCrypto("odd key not established", nil)
		}
		key = c.oddKey
	default:
		return nil, errs.NewCrypto("unsupported KK parity", nil)
	}
	block, err := c.blockFor(key.Bytes())
	if err != nil {
		return nil, err
	}
	stream := cipher.NewCTR(block, ivFor(seq))
	out := make([]byte, len(ciphertext))
	stream.XORKeyStream(out, ciphertext)
	return out, nil
}

// NeedsRefresh reports whether the active key has crossed the usage
// threshold and a refresh should be triggered.
func (c *Codec) NeedsRefresh() bool {
	if c.active == srtwire.KKEven {
		return c.evenUsage >= c.refreshThreshold
	}
	return c.oddUsage >= c.refreshThreshold
}

// Refresh derives the next-generation key via HKDF-SHA256 (seeded by the
// current active key and a monotonically increasing generation counter,
// so both peers derive the same bytes without re-running PBKDF2 against
// the passphrase), installs it in the inactive slot, and flips the active
// KK parity. The just-superseded key remains valid for decryption
// (overlap window) until the next Refresh overwrites its slot.
func (c *Codec) Refresh() error {
	var curKey *memguard.LockedBuffer
	var nextGen uint64
	if c.active == srtwire.KKEven {
		curKey = c.evenKey
		nextGen = c.oddGen + 1
	} else {
		curKey = c.oddKey
		nextGen = c.evenGen + 1
	}

	info := make([]byte, 8)
	binary.BigEndian.PutUint64(info, nextGen)
	r := hkdf.New(sha256.New, curKey.Bytes(), c.salt, info)
	next := make([]byte, c.bits.bytes())
	if _, err := io.ReadFull(r, next); err != nil {
		return errs.NewCrypto("key refresh derivation failed", err)
	}

	if c.active == srtwire.KKEven {
		if c.oddKey != nil {
			c.oddKey.Destroy()
		}
		c.oddKey = memguard.NewBufferFromBytes(next)
		c.oddGen = nextGen
		c.oddUsage = 0
		c.active = srtwire.KKOdd
	} else {
		if c.evenKey != nil {
			c.evenKey.Destroy()
		}
		c.evenKey = memguard.NewBufferFromBytes(next)
		c.evenGen = nextGen
		c.evenUsage = 0
		c.active = srtwire.KKEven
	}
	return nil
}

// ActiveParity reports which key new packets are currently encrypted
// with.
func (c *Codec) ActiveParity() srtwire.KeyEncryption { return c.active }
