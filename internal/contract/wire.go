package contract

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire layout. The schemas are fixed and versioned with the build: both sides
// of every topic compile against this package, so no registry travels with
// the payload. Field numbers must never be reused or renumbered.
//
//	BatchLoadEvent                    DeidJobEvent
//	  1 event_id       string           1 event_id         string
//	  2 occurred_at    Timestamp        2 occurred_at      Timestamp
//	  3 tenant_id      string           3 tenant_id        string
//	  4 batch_id       string           4 job_id           string
//	  5 stage          enum             5 stage            enum
//	  6 record_count   int64            6 payload_location string
//	  7 source_system  string           7 error_code       string
//	  8 error_code     string           8 error_message    string
//	  9 error_message  string
//
//	Timestamp: 1 seconds int64, 2 nanos int32
const (
	tsFieldSeconds = 1
	tsFieldNanos   = 2
)

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendTimestamp(b []byte, num protowire.Number, t time.Time) []byte {
	if t.IsZero() {
		return b
	}
	var ts []byte
	ts = appendVarint(ts, tsFieldSeconds, t.Unix())
	ts = appendVarint(ts, tsFieldNanos, int64(t.Nanosecond()))
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, ts)
}

func parseTimestamp(b []byte) (time.Time, error) {
	var seconds, nanos int64
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return time.Time{}, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.VarintType {
			return time.Time{}, fmt.Errorf("timestamp field %d: unexpected wire type %d", num, typ)
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return time.Time{}, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case tsFieldSeconds:
			seconds = int64(v)
		case tsFieldNanos:
			nanos = int64(v)
		}
	}
	return time.Unix(seconds, nanos).UTC(), nil
}

// consumeField reads one field payload, returning the remaining buffer.
func consumeString(b []byte) (string, []byte, error) {
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return "", nil, protowire.ParseError(n)
	}
	return v, b[n:], nil
}

func consumeVarint(b []byte) (int64, []byte, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, nil, protowire.ParseError(n)
	}
	return int64(v), b[n:], nil
}

func consumeBytes(b []byte) ([]byte, []byte, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, nil, protowire.ParseError(n)
	}
	return v, b[n:], nil
}

func skipField(b []byte, num protowire.Number, typ protowire.Type) ([]byte, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return b[n:], nil
}

func (e *BatchLoadEvent) appendWire(b []byte) ([]byte, error) {
	b = appendString(b, 1, e.EventID)
	b = appendTimestamp(b, 2, e.OccurredAt)
	b = appendString(b, 3, e.TenantID)
	b = appendString(b, 4, e.BatchID)
	b = appendVarint(b, 5, int64(e.Stage))
	b = appendVarint(b, 6, e.RecordCount)
	b = appendString(b, 7, e.SourceSystem)
	b = appendString(b, 8, e.ErrorCode)
	b = appendString(b, 9, e.ErrorMessage)
	return b, nil
}

func (e *BatchLoadEvent) parseWire(b []byte) error {
	*e = BatchLoadEvent{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var err error
		switch {
		case num == 2 && typ == protowire.BytesType:
			var raw []byte
			if raw, b, err = consumeBytes(b); err == nil {
				e.OccurredAt, err = parseTimestamp(raw)
			}
		case typ == protowire.BytesType:
			var s string
			if s, b, err = consumeString(b); err != nil {
				return err
			}
			switch num {
			case 1:
				e.EventID = s
			case 3:
				e.TenantID = s
			case 4:
				e.BatchID = s
			case 7:
				e.SourceSystem = s
			case 8:
				e.ErrorCode = s
			case 9:
				e.ErrorMessage = s
			}
		case typ == protowire.VarintType:
			var v int64
			if v, b, err = consumeVarint(b); err != nil {
				return err
			}
			switch num {
			case 5:
				e.Stage = BatchLoadStage(v)
			case 6:
				e.RecordCount = v
			}
		default:
			b, err = skipField(b, num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *DeidJobEvent) appendWire(b []byte) ([]byte, error) {
	b = appendString(b, 1, e.EventID)
	b = appendTimestamp(b, 2, e.OccurredAt)
	b = appendString(b, 3, e.TenantID)
	b = appendString(b, 4, e.JobID)
	b = appendVarint(b, 5, int64(e.Stage))
	b = appendString(b, 6, e.PayloadLocation)
	b = appendString(b, 7, e.ErrorCode)
	b = appendString(b, 8, e.ErrorMessage)
	return b, nil
}

func (e *DeidJobEvent) parseWire(b []byte) error {
	*e = DeidJobEvent{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var err error
		switch {
		case num == 2 && typ == protowire.BytesType:
			var raw []byte
			if raw, b, err = consumeBytes(b); err == nil {
				e.OccurredAt, err = parseTimestamp(raw)
			}
		case typ == protowire.BytesType:
			var s string
			if s, b, err = consumeString(b); err != nil {
				return err
			}
			switch num {
			case 1:
				e.EventID = s
			case 3:
				e.TenantID = s
			case 4:
				e.JobID = s
			case 6:
				e.PayloadLocation = s
			case 7:
				e.ErrorCode = s
			case 8:
				e.ErrorMessage = s
			}
		case typ == protowire.VarintType:
			var v int64
			if v, b, err = consumeVarint(b); err != nil {
				return err
			}
			if num == 5 {
				e.Stage = DeidStage(v)
			}
		default:
			b, err = skipField(b, num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
