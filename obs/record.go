// Package obs is the observability sink spec.md section 1 treats as an
// external collaborator: a short-lived, TTL-bounded log of one record per
// completed request, queryable by request id and readable as a live feed.
// It is not part of the routing core and never influences a placement
// decision.
package obs

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/globalsched/scheduler/cmn"
)

// Record is one completed request's observability entry.
type Record struct {
	ID              string  `json:"id"`
	RequestID       string  `json:"request_id"`
	ChosenWorker    int     `json:"chosen_worker"`
	OverheadSeconds float64 `json:"overhead_seconds"`
	Text            string  `json:"text,omitempty"`
}

// NewRecord stamps a fresh observability id onto a record (cmn.GenObservabilityID,
// distinct from the caller-supplied request id).
func NewRecord(requestID string, chosenWorker int, overheadSeconds float64, text string) Record {
	return Record{
		ID:              cmn.GenObservabilityID(),
		RequestID:       requestID,
		ChosenWorker:    chosenWorker,
		OverheadSeconds: overheadSeconds,
		Text:            text,
	}
}

// MarshalMsg implements msgp.Marshaler by hand (no msgp code generation is
// run in this build), encoding Record as a 5-field map so old readers can
// skip fields they don't recognize.
func (r *Record) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendMapHeader(b, 5)
	b = msgp.AppendString(b, "id")
	b = msgp.AppendString(b, r.ID)
	b = msgp.AppendString(b, "request_id")
	b = msgp.AppendString(b, r.RequestID)
	b = msgp.AppendString(b, "chosen_worker")
	b = msgp.AppendInt(b, r.ChosenWorker)
	b = msgp.AppendString(b, "overhead_seconds")
	b = msgp.AppendFloat64(b, r.OverheadSeconds)
	b = msgp.AppendString(b, "text")
	b = msgp.AppendString(b, r.Text)
	return b, nil
}

// UnmarshalMsg implements msgp.Unmarshaler, the inverse of MarshalMsg.
// Unknown keys are skipped via msgp.Skip so the wire format can grow.
func (r *Record) UnmarshalMsg(bts []byte) ([]byte, error) {
	sz, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	for i := uint32(0); i < sz; i++ {
		var key string
		key, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return bts, err
		}
		switch key {
		case "id":
			r.ID, bts, err = msgp.ReadStringBytes(bts)
		case "request_id":
			r.RequestID, bts, err = msgp.ReadStringBytes(bts)
		case "chosen_worker":
			r.ChosenWorker, bts, err = msgp.ReadIntBytes(bts)
		case "overhead_seconds":
			r.OverheadSeconds, bts, err = msgp.ReadFloat64Bytes(bts)
		case "text":
			r.Text, bts, err = msgp.ReadStringBytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, err
		}
	}
	return bts, nil
}
