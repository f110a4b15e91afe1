// Package srthandshake implements the two-phase Caller/Listener
// handshake (component C2): Induction discovers the peer, Conclusion
// negotiates encryption, TSBPD delay, and flow window. The Rendezvous
// variant is out of scope (spec.md §1 Non-goals).
package srthandshake

import (
	"math/rand"
	"time"

	"github.com/carlmjohnson/versioninfo"

	"github.com/opensrt/gosrt/errs"
	"github.com/opensrt/gosrt/srtwire"
)

// MinVersion is the minimum peer protocol version accepted (1.3.0).
const MinVersion uint32 = 0x010300

// Defaults and bounds from §4.2/§6.
const (
	DefaultMTU           uint16 = 1500
	DefaultMaxFlowWindow uint32 = 8192

	MinLatencyUs = 20_000
	MaxLatencyUs = 8_000_000

	RetryInterval = 250 * time.Millisecond
	RetryBound    = 5 * time.Second
)

// Role identifies which side of the handshake a connection plays.
type Role int

const (
	Caller Role = iota
	Listener
)

// State is the handshake/connection lifecycle state of §3's Connection.
type State int

const (
	Init State = iota
	Induction
	Conclusion
	Established
	Shutdown
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Induction:
		return "induction"
	case Conclusion:
		return "conclusion"
	case Established:
		return "established"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Params is the local side's contribution to negotiation.
type Params struct {
	Version          uint32
	EncryptionWanted bool
	PassphraseLen    int
	LatencyUs        uint32
	MTU              uint16
	MaxFlowWindow    uint32
	SocketID         uint32
}

// Negotiated is the outcome of a completed handshake.
type Negotiated struct {
	PeerSocketID     uint32
	NegotiatedLatUs  uint32
	EncryptionOn     bool
	PeerISN          srtwire.SeqNo
	PeerSaltAndKey   *srtwire.SaltAndKey
}

// BuildVersion returns the build-embedded version string surfaced for
// diagnostics alongside the numeric wire protocol version.
func BuildVersion() string { return versioninfo.Version }

func randomISN() srtwire.SeqNo {
	return srtwire.SeqNo(rand.Uint32() % srtwire.MaxSeq)
}

// BuildInduction constructs the Caller's Induction handshake body.
func BuildInduction(p Params) srtwire.HandshakeBody {
	return srtwire.HandshakeBody{
		Version:       p.Version,
		Encryption:    srtwire.EncryptionOff,
		ExtensionFlag: 0,
		ISN:           randomISN(),
		MTU:           p.MTU,
		MaxFlowWindow: p.MaxFlowWindow,
		Type:          srtwire.HandshakeInduction,
		SRTSocketID:   p.SocketID,
	}
}

// BuildInductionResponse constructs the Listener's reply to an Induction,
// echoing its own socket id.
func BuildInductionResponse(p Params, peerIP [16]byte) srtwire.HandshakeBody {
	return srtwire.HandshakeBody{
		Version:       p.Version,
		Encryption:    srtwire.EncryptionOff,
		ExtensionFlag: 0,
		ISN:           randomISN(),
		MTU:           p.MTU,
		MaxFlowWindow: p.MaxFlowWindow,
		Type:          srtwire.HandshakeResponse,
		SRTSocketID:   p.SocketID,
		PeerIP:        peerIP,
	}
}

// BuildConclusion constructs the Caller's Conclusion handshake body,
// including the SRT extension set.
func BuildConclusion(p Params, saltAndKey *srtwire.SaltAndKey) (srtwire.HandshakeBody, error) {
	if p.EncryptionWanted {
		if p.PassphraseLen < 10 || p.PassphraseLen > 79 {
			return srtwire.HandshakeBody{}, errs.NewHandshake("passphrase length outside [10,79]")
		}
	}
	ext := map[srtwire.ExtType][]byte{
		srtwire.ExtSRTVersion:  srtwire.PutUint32Ext(p.Version),
		srtwire.ExtTSBPDDelay:  srtwire.PutUint32Ext(p.LatencyUs),
		srtwire.ExtPeerLatency: srtwire.PutUint32Ext(p.LatencyUs),
	}
	var flags uint32
	if p.EncryptionWanted {
		flags |= 1 // bit0 = encrypt
	}
	ext[srtwire.ExtSRTFlags] = srtwire.PutUint32Ext(flags)

	encryption := srtwire.EncryptionOff
	if p.EncryptionWanted {
		encryption = srtwire.EncryptionAES256
		if saltAndKey != nil {
			skBuf, err := srtwire.EncodeSaltAndKeyExt(*saltAndKey)
			if err != nil {
				return srtwire.HandshakeBody{}, errs.NewCrypto("encode salt/key extension", err)
			}
			ext[srtwire.ExtEncryptionSaltKey] = skBuf
		}
	}

	return srtwire.HandshakeBody{
		Version:       p.Version,
		Encryption:    encryption,
		ExtensionFlag: srtwire.ExtMagic,
		ISN:           randomISN(),
		MTU:           p.MTU,
		MaxFlowWindow: p.MaxFlowWindow,
		Type:          srtwire.HandshakeConclusion,
		SRTSocketID:   p.SocketID,
		Extensions:    ext,
	}, nil
}

// ValidateConclusion is the Listener's acceptance check for a received
// Conclusion: version floor, symmetric encryption agreement, latency
// bounds. The peer's requested latency is read from the Conclusion's
// TSBPD-delay extension; localLatencyUs is this side's own configured latency.
// Returns the negotiated (max of the two) latency.
func ValidateConclusion(body srtwire.HandshakeBody, localEncryptionWanted bool, localLatencyUs uint32) (negotiatedLatencyUs uint32, encryptionOn bool, err error) {
	if body.Version < MinVersion {
		return 0, false, errs.NewHandshake("peer version too old")
	}
	peerWantsEncryption := body.Encryption != srtwire.EncryptionOff
	if peerWantsEncryption != localEncryptionWanted {
		return 0, false, errs.NewHandshake("encryption requirement mismatch")
	}
	peerLatencyUs, _ := srtwire.GetUint32Ext(body.Extensions[srtwire.ExtTSBPDDelay])
	if peerLatencyUs < MinLatencyUs || peerLatencyUs > MaxLatencyUs {
		return 0, false, errs.NewHandshake("latency out of [20,8000]ms")
	}
	negotiated := localLatencyUs
	if peerLatencyUs > negotiated {
		negotiated = peerLatencyUs
	}
	return negotiated, peerWantsEncryption, nil
}

// BuildConclusionResponse constructs the Listener's Response to an
// accepted Conclusion, echoing its negotiated extensions.
func BuildConclusionResponse(p Params, negotiatedLatencyUs uint32, encryptionOn bool, saltAndKey *srtwire.SaltAndKey) (srtwire.HandshakeBody, error) {
	ext := map[srtwire.ExtType][]byte{
		srtwire.ExtSRTVersion:  srtwire.PutUint32Ext(p.Version),
		srtwire.ExtTSBPDDelay:  srtwire.PutUint32Ext(negotiatedLatencyUs),
		srtwire.ExtPeerLatency: srtwire.PutUint32Ext(negotiatedLatencyUs),
	}
	var flags uint32
	if encryptionOn {
		flags |= 1
	}
	ext[srtwire.ExtSRTFlags] = srtwire.PutUint32Ext(flags)
	encryption := srtwire.EncryptionOff
	if encryptionOn {
		encryption = srtwire.EncryptionAES256
		if saltAndKey != nil {
			skBuf, err := srtwire.EncodeSaltAndKeyExt(*saltAndKey)
			if err != nil {
				return srtwire.HandshakeBody{}, errs.NewCrypto("encode salt/key extension", err)
			}
			ext[srtwire.ExtEncryptionSaltKey] = skBuf
		}
	}
	return srtwire.HandshakeBody{
		Version:       p.Version,
		Encryption:    encryption,
		ExtensionFlag: srtwire.ExtMagic,
		ISN:           randomISN(),
		MTU:           p.MTU,
		MaxFlowWindow: p.MaxFlowWindow,
		Type:          srtwire.HandshakeResponse,
		SRTSocketID:   p.SocketID,
		Extensions:    ext,
	}, nil
}

// ValidateResponse is the Caller's acceptance check for the Listener's
// Response to its Conclusion. Per Design Notes §9, Established is defined
// as "Response received with valid extensions" — the Caller never sees an
// explicit server-side "done" signal, so this function's success is that
// signal.
func ValidateResponse(body srtwire.HandshakeBody, localEncryptionWanted bool) (Negotiated, error) {
	if body.Version < MinVersion {
		return Negotiated{}, errs.NewHandshake("peer version too old")
	}
	peerHasEncryption := body.Encryption != srtwire.EncryptionOff
	if peerHasEncryption != localEncryptionWanted {
		return Negotiated{}, errs.NewHandshake("encryption requirement mismatch")
	}
	latUs, _ := srtwire.GetUint32Ext(body.Extensions[srtwire.ExtTSBPDDelay])
	if latUs < MinLatencyUs || latUs > MaxLatencyUs {
		return Negotiated{}, errs.NewHandshake("latency out of [20,8000]ms")
	}
	n := Negotiated{
		PeerSocketID:    body.SRTSocketID,
		NegotiatedLatUs: latUs,
		EncryptionOn:    peerHasEncryption,
		PeerISN:         body.ISN,
	}
	if raw, ok := body.Extensions[srtwire.ExtEncryptionSaltKey]; ok {
		sk, err := srtwire.DecodeSaltAndKeyExt(raw)
		if err != nil {
			return Negotiated{}, errs.NewCrypto("decode salt/key extension", err)
		}
		n.PeerSaltAndKey = &sk
	}
	return n, nil
}
