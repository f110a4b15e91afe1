// Package diag implements ambient concern A5: a CBOR-encodable snapshot
// of a connection's component state, for out-of-band inspection (a debug
// endpoint, a support bundle) without exposing internal types. Follows
// the teacher's CBOR-framing idiom (stream/stream.go, client2/thin.go
// encode their wire envelopes with fxamacker/cbor) applied here to a
// diagnostics envelope instead of a protocol frame.
package diag

import (
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/opensrt/gosrt/errs"
)

// Snapshot is a point-in-time view of one connection's component state,
// assembled by the orchestrator from each component's own Stats.
type Snapshot struct {
	CorrelationID string    `cbor:"correlation_id"`
	TakenAt       time.Time `cbor:"taken_at"`

	State string `cbor:"state"`

	SendSeq    uint32 `cbor:"send_seq"`
	RecvSeq    uint32 `cbor:"recv_seq"`
	InFlight   int    `cbor:"in_flight"`

	SendStats  interface{} `cbor:"send_stats"`
	RecvStats  interface{} `cbor:"recv_stats"`
	TSBPDStats interface{} `cbor:"tsbpd_stats"`

	SRTTUs   int64   `cbor:"srtt_us"`
	RTOUs    int64   `cbor:"rto_us"`
	Cwnd     float64 `cbor:"cwnd"`
	LossRate float64 `cbor:"loss_rate"`
}

// Encode serializes the snapshot to CBOR.
func Encode(s Snapshot) ([]byte, error) {
	b, err := cbor.Marshal(s)
	if err != nil {
		return nil, errs.NewInvalidInput("diag.encode", err)
	}
	return b, nil
}

// Decode parses a CBOR-encoded snapshot, for tooling that consumes
// support bundles produced by Encode.
func Decode(b []byte) (Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(b, &s); err != nil {
		return Snapshot{}, errs.NewInvalidInput("diag.decode", err)
	}
	return s, nil
}
