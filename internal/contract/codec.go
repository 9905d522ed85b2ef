package contract

import "fmt"

// EncodingError reports a failure to turn a stage event into wire bytes.
type EncodingError struct {
	EventType string
	Err       error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.EventType, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// DecodingError reports malformed wire bytes or a payload that cannot be read
// as the target event type.
type DecodingError struct {
	EventType string
	Err       error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.EventType, e.Err)
}

func (e *DecodingError) Unwrap() error { return e.Err }

// SchemaViolationError reports an in-memory event whose field value breaks the
// schema contract. Field names the offending field.
type SchemaViolationError struct {
	EventType string
	Field     string
	Reason    string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("%s violates schema: field %s %s", e.EventType, e.Field, e.Reason)
}

// Codec serializes, deserializes, and validates stage events. It is stateless
// and safe for concurrent use.
//
// Validate must run after every Deserialize and before every Serialize of a
// locally constructed event: business code can hand over a record with a
// required field left empty, and that must be caught at the codec boundary,
// not three consumers downstream.
type Codec struct{}

func NewCodec() *Codec { return &Codec{} }

// Serialize encodes the event into its compact binary wire form.
func (c *Codec) Serialize(ev StageEvent) ([]byte, error) {
	if ev == nil {
		return nil, &EncodingError{EventType: "nil", Err: fmt.Errorf("nil event")}
	}
	b, err := ev.appendWire(nil)
	if err != nil {
		return nil, &EncodingError{EventType: eventTypeName(ev), Err: err}
	}
	return b, nil
}

// Deserialize decodes wire bytes into the target event, overwriting it.
func (c *Codec) Deserialize(b []byte, target StageEvent) error {
	if target == nil {
		return &DecodingError{EventType: "nil", Err: fmt.Errorf("nil target")}
	}
	if len(b) == 0 {
		return &DecodingError{EventType: eventTypeName(target), Err: fmt.Errorf("empty payload")}
	}
	if err := target.parseWire(b); err != nil {
		return &DecodingError{EventType: eventTypeName(target), Err: err}
	}
	return nil
}

// Validate walks every schema field of the event and confirms the in-memory
// value satisfies its constraint, returning a SchemaViolationError naming the
// first offending field.
func (c *Codec) Validate(ev StageEvent) error {
	if ev == nil {
		return &SchemaViolationError{EventType: "nil", Field: "event", Reason: "is nil"}
	}
	return ev.checkSchema()
}

func eventTypeName(ev StageEvent) string {
	switch ev.(type) {
	case *BatchLoadEvent:
		return "BatchLoadEvent"
	case *DeidJobEvent:
		return "DeidJobEvent"
	default:
		return fmt.Sprintf("%T", ev)
	}
}

func (e *BatchLoadEvent) checkSchema() error {
	fail := func(field, reason string) error {
		return &SchemaViolationError{EventType: "BatchLoadEvent", Field: field, Reason: reason}
	}
	if e.EventID == "" {
		return fail("eventId", "is required")
	}
	if e.OccurredAt.IsZero() {
		return fail("occurredAt", "is required")
	}
	if e.TenantID == "" {
		return fail("tenantId", "is required")
	}
	if e.BatchID == "" {
		return fail("batchId", "is required")
	}
	if _, ok := batchLoadStageNames[e.Stage]; !ok {
		return fail("stage", fmt.Sprintf("has unknown value %d", e.Stage))
	}
	if e.Stage == BatchLoadFailed {
		if e.ErrorCode == "" {
			return fail("errorCode", "is required on FAILED")
		}
	} else if e.ErrorCode != "" || e.ErrorMessage != "" {
		return fail("errorCode", "must be empty unless stage is FAILED")
	}
	return nil
}

func (e *DeidJobEvent) checkSchema() error {
	fail := func(field, reason string) error {
		return &SchemaViolationError{EventType: "DeidJobEvent", Field: field, Reason: reason}
	}
	if e.EventID == "" {
		return fail("eventId", "is required")
	}
	if e.OccurredAt.IsZero() {
		return fail("occurredAt", "is required")
	}
	if e.TenantID == "" {
		return fail("tenantId", "is required")
	}
	if e.JobID == "" {
		return fail("jobId", "is required")
	}
	if _, ok := deidStageNames[e.Stage]; !ok {
		return fail("stage", fmt.Sprintf("has unknown value %d", e.Stage))
	}
	if e.PayloadLocation == "" {
		return fail("payloadLocation", "is required")
	}
	if e.Stage == DeidFailed {
		if e.ErrorCode == "" {
			return fail("errorCode", "is required on FAILED")
		}
	} else if e.ErrorCode != "" || e.ErrorMessage != "" {
		return fail("errorCode", "must be empty unless stage is FAILED")
	}
	return nil
}
