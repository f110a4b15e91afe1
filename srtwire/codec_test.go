package srtwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataHeaderRoundTrip(t *testing.T) {
	h := DataHeader{
		Seq:        1234,
		Position:   PPOnly,
		Ordered:    true,
		KK:         KKEven,
		Retrans:    false,
		MsgNo:      5678,
		Timestamp:  1000,
		DestSockID: 999,
	}
	buf, err := EncodeDataHeader(h)
	require.NoError(t, err)
	require.Len(t, buf, HeaderLen)

	got, err := DecodeDataHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestControlHeaderRoundTrip(t *testing.T) {
	h := ControlHeader{
		Type:       CtrlAck,
		Subtype:    0,
		Info:       12345,
		Timestamp:  2000,
		DestSockID: 888,
	}
	buf, err := EncodeControlHeader(h)
	require.NoError(t, err)
	require.Len(t, buf, HeaderLen)

	isCtrl, err := IsControl(buf)
	require.NoError(t, err)
	assert.True(t, isCtrl)

	got, err := DecodeControlHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestDecodeRejectsShortHeader(t *testing.T) {
	_, err := DecodeDataHeader(make([]byte, 10))
	assert.ErrorIs(t, err, ErrShortHeader)

	_, err = DecodeControlHeader(make([]byte, 15))
	assert.ErrorIs(t, err, ErrShortHeader)
}

func TestDecodeRejectsWrongFBit(t *testing.T) {
	ctrl, err := EncodeControlHeader(ControlHeader{Type: CtrlAck})
	require.NoError(t, err)
	_, err = DecodeDataHeader(ctrl)
	assert.ErrorIs(t, err, ErrWrongFBit)

	data, err := EncodeDataHeader(DataHeader{Seq: 1})
	require.NoError(t, err)
	_, err = DecodeControlHeader(data)
	assert.ErrorIs(t, err, ErrWrongFBit)
}

func TestEncodeRejectsOutOfRangeFields(t *testing.T) {
	_, err := EncodeDataHeader(DataHeader{Seq: SeqNo(MaxSeq)})
	assert.Error(t, err)

	_, err = EncodeDataHeader(DataHeader{MsgNo: MsgNo(MaxMsgNo)})
	assert.Error(t, err)

	_, err = EncodeControlHeader(ControlHeader{Type: ControlType(200)})
	assert.ErrorIs(t, err, ErrInvalidControlType)
}

func TestDataPacketRoundTrip(t *testing.T) {
	p := DataPacket{
		Header:  DataHeader{Seq: 42, Position: PPFirst, MsgNo: 7, Timestamp: 55, DestSockID: 1},
		Payload: []byte("hello world"),
	}
	buf, err := EncodeDataPacket(p)
	require.NoError(t, err)
	assert.Equal(t, p.TotalSize(), len(buf))

	got, err := DecodeDataPacket(buf)
	require.NoError(t, err)
	assert.Equal(t, p.Header, got.Header)
	assert.Equal(t, p.Payload, got.Payload)
}

func TestNakBodyRangeAndSingleton(t *testing.T) {
	entries := []LossEntry{
		{Lo: 4, Hi: 4},
		{Lo: 10, Hi: 15},
	}
	buf := EncodeNakBody(entries)
	got, err := DecodeNakBody(buf)
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	flat := ExpandLossEntries(got)
	assert.Equal(t, []SeqNo{4, 10, 11, 12, 13, 14, 15}, flat)
}

func TestSeqNoWrapAwareCompare(t *testing.T) {
	near := SeqNo(MaxSeq - 2)
	wrapped := near.Add(5)
	assert.True(t, near.Less(wrapped))
	assert.Equal(t, int32(5), wrapped.Diff(near))
}

func TestHandshakeBodyRoundTrip(t *testing.T) {
	b := HandshakeBody{
		Version:       0x010405,
		Encryption:    EncryptionAES256,
		ExtensionFlag: ExtMagic,
		ISN:           999,
		MTU:           1500,
		MaxFlowWindow: 8192,
		Type:          HandshakeConclusion,
		SRTSocketID:   4242,
		Extensions: map[ExtType][]byte{
			ExtSRTVersion:  PutUint32Ext(0x010405),
			ExtTSBPDDelay:  PutUint32Ext(120000),
			ExtPeerLatency: PutUint32Ext(150000),
		},
	}
	buf := EncodeHandshakeBody(b)
	got, err := DecodeHandshakeBody(buf)
	require.NoError(t, err)
	assert.Equal(t, b.Version, got.Version)
	assert.Equal(t, b.Type, got.Type)
	assert.Equal(t, b.Extensions, got.Extensions)
}

func TestSaltAndKeyExtensionRoundTrip(t *testing.T) {
	sk := SaltAndKey{Salt: []byte("salt-bytes"), WrappedKeyEvn: []byte("evenkey")}
	buf, err := EncodeSaltAndKeyExt(sk)
	require.NoError(t, err)
	got, err := DecodeSaltAndKeyExt(buf)
	require.NoError(t, err)
	assert.Equal(t, sk, got)
}
