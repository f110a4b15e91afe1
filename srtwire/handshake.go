package srtwire

import (
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"
)

// ExtMagic is the extension-field marker value once SRT extensions are
// present in a handshake packet.
const ExtMagic uint16 = 0x4A17

// ExtType enumerates handshake extension TLV type codes (§6).
type ExtType uint16

const (
	ExtSRTVersion        ExtType = 1
	ExtSRTFlags          ExtType = 2
	ExtTSBPDDelay        ExtType = 3
	ExtPeerLatency       ExtType = 4
	ExtEncryptionSaltKey ExtType = 5
)

// HandshakeType identifies the handshake phase/response carried by a
// HandshakeBody. Negative values other than Conclusion are error codes.
type HandshakeType int32

const (
	HandshakeInduction  HandshakeType = 1
	HandshakeResponse   HandshakeType = 0
	HandshakeConclusion HandshakeType = -1
)

// Encryption field values (§3: "0=off, 2=AES-256").
const (
	EncryptionOff    uint16 = 0
	EncryptionAES256 uint16 = 2
)

// SaltAndKey is the CBOR-encoded value of the ENCRYPTION_SALT_AND_KEY
// extension: a composite value (unlike the other, single-integer
// extensions), so it is self-describing CBOR rather than a raw integer —
// the same framing idiom the teacher uses for its own wire payloads.
type SaltAndKey struct {
	Salt          []byte
	WrappedKeyOdd []byte
	WrappedKeyEvn []byte
}

// HandshakeBody is the parsed fixed-size portion of a handshake packet,
// plus its decoded extension map.
type HandshakeBody struct {
	Version       uint32
	Encryption    uint16
	ExtensionFlag uint16
	ISN           SeqNo
	MTU           uint16
	MaxFlowWindow uint32
	Type          HandshakeType
	SRTSocketID   uint32
	PeerIP        [16]byte

	Extensions map[ExtType][]byte
}

const handshakeFixedLen = 4 + 2 + 2 + 4 + 2 + 4 + 4 + 4 + 16 // 42

// EncodeHandshakeBody serializes the fixed fields followed by any
// extension TLV records, each value padded to a 4-byte multiple.
func EncodeHandshakeBody(b HandshakeBody) []byte {
	buf := make([]byte, handshakeFixedLen)
	off := 0
	binary.BigEndian.PutUint32(buf[off:], b.Version)
	off += 4
	binary.BigEndian.PutUint16(buf[off:], b.Encryption)
	off += 2
	binary.BigEndian.PutUint16(buf[off:], b.ExtensionFlag)
	off += 2
	binary.BigEndian.PutUint32(buf[off:], uint32(b.ISN))
	off += 4
	binary.BigEndian.PutUint16(buf[off:], b.MTU)
	off += 2
	binary.BigEndian.PutUint32(buf[off:], b.MaxFlowWindow)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], uint32(b.Type))
	off += 4
	binary.BigEndian.PutUint32(buf[off:], b.SRTSocketID)
	off += 4
	copy(buf[off:off+16], b.PeerIP[:])

	for _, t := range orderedExtTypes(b.Extensions) {
		val := b.Extensions[t]
		padded := padTo4(val)
		hdr := make([]byte, 4)
		binary.BigEndian.PutUint16(hdr[0:2], uint16(t))
		binary.BigEndian.PutUint16(hdr[2:4], uint16(len(val)))
		buf = append(buf, hdr...)
		buf = append(buf, padded...)
	}
	return buf
}

// DecodeHandshakeBody parses the fixed fields and any trailing extension
// records.
func DecodeHandshakeBody(buf []byte) (HandshakeBody, error) {
	var b HandshakeBody
	if len(buf) < handshakeFixedLen {
		return b, ErrShortHeader
	}
	off := 0
	b.Version = binary.BigEndian.Uint32(buf[off:])
	off += 4
	b.Encryption = binary.BigEndian.Uint16(buf[off:])
	off += 2
	b.ExtensionFlag = binary.BigEndian.Uint16(buf[off:])
	off += 2
	b.ISN = SeqNo(binary.BigEndian.Uint32(buf[off:]) & (MaxSeq - 1))
	off += 4
	b.MTU = binary.BigEndian.Uint16(buf[off:])
	off += 2
	b.MaxFlowWindow = binary.BigEndian.Uint32(buf[off:])
	off += 4
	b.Type = HandshakeType(int32(binary.BigEndian.Uint32(buf[off:])))
	off += 4
	b.SRTSocketID = binary.BigEndian.Uint32(buf[off:])
	off += 4
	copy(b.PeerIP[:], buf[off:off+16])
	off += 16

	rest := buf[off:]
	if b.ExtensionFlag != ExtMagic {
		return b, nil
	}
	b.Extensions = make(map[ExtType]([]byte))
	for len(rest) > 0 {
		if len(rest) < 4 {
			return b, fieldRange("truncated extension header")
		}
		t := ExtType(binary.BigEndian.Uint16(rest[0:2]))
		l := int(binary.BigEndian.Uint16(rest[2:4]))
		rest = rest[4:]
		paddedLen := (l + 3) &^ 3
		if len(rest) < paddedLen {
			return b, fieldRange("truncated extension value")
		}
		b.Extensions[t] = append([]byte(nil), rest[:l]...)
		rest = rest[paddedLen:]
	}
	return b, nil
}

func padTo4(v []byte) []byte {
	padLen := (4 - len(v)%4) % 4
	if padLen == 0 {
		return v
	}
	out := make([]byte, len(v)+padLen)
	copy(out, v)
	return out
}

func orderedExtTypes(m map[ExtType][]byte) []ExtType {
	// Deterministic wire encoding: lowest type code first.
	out := make([]ExtType, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// PutUint32Ext encodes a uint32-valued extension (SRT_VERSION,
// SRT_FLAGS, SRT_TSBPD_DELAY, PEER_LATENCY all carry a plain 32-bit
// integer value).
func PutUint32Ext(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// GetUint32Ext decodes a uint32-valued extension value.
func GetUint32Ext(v []byte) (uint32, error) {
	if len(v) < 4 {
		return 0, fieldRange("extension value too short")
	}
	return binary.BigEndian.Uint32(v), nil
}

// EncodeSaltAndKeyExt CBOR-encodes the composite salt+key extension value.
func EncodeSaltAndKeyExt(v SaltAndKey) ([]byte, error) {
	return cbor.Marshal(v)
}

// DecodeSaltAndKeyExt decodes the composite salt+key extension value.
func DecodeSaltAndKeyExt(buf []byte) (SaltAndKey, error) {
	var v SaltAndKey
	err := cbor.Unmarshal(buf, &v)
	return v, err
}
