// Package contract defines the stage event records shared by every producer
// and consumer in the pipeline, together with the binary codec that puts them
// on and takes them off the wire.
package contract

import "time"

// BatchLoadStage enumerates the lifecycle of one batch ingestion run.
type BatchLoadStage int32

const (
	BatchLoadStageUnspecified BatchLoadStage = iota
	BatchLoadReceived
	BatchLoadValidated
	BatchLoadPersisted
	BatchLoadFailed
)

var batchLoadStageNames = map[BatchLoadStage]string{
	BatchLoadReceived:  "RECEIVED",
	BatchLoadValidated: "VALIDATED",
	BatchLoadPersisted: "PERSISTED",
	BatchLoadFailed:    "FAILED",
}

func (s BatchLoadStage) String() string {
	if name, ok := batchLoadStageNames[s]; ok {
		return name
	}
	return "UNSPECIFIED"
}

// Terminal reports whether no further events follow this stage for the run.
func (s BatchLoadStage) Terminal() bool {
	return s == BatchLoadPersisted || s == BatchLoadFailed
}

// DeidStage enumerates the lifecycle of one de-identification job.
type DeidStage int32

const (
	DeidStageUnspecified DeidStage = iota
	DeidRequested
	DeidRunning
	DeidCompleted
	DeidFailed
)

var deidStageNames = map[DeidStage]string{
	DeidRequested: "REQUESTED",
	DeidRunning:   "RUNNING",
	DeidCompleted: "COMPLETED",
	DeidFailed:    "FAILED",
}

func (s DeidStage) String() string {
	if name, ok := deidStageNames[s]; ok {
		return name
	}
	return "UNSPECIFIED"
}

// Terminal reports whether no further events follow this stage for the run.
func (s DeidStage) Terminal() bool {
	return s == DeidCompleted || s == DeidFailed
}

// StageEvent is the common surface every consumer needs from a pipeline event,
// regardless of which pipeline produced it.
type StageEvent interface {
	GetEventID() string
	GetTenantID() string
	// UnitOfWorkID returns the identifier of the logical run this event
	// belongs to (batch id or job id).
	UnitOfWorkID() string
	StageName() string
	Terminal() bool
	// ErrorInfo returns the error code and message carried by a FAILED
	// event; both are empty otherwise.
	ErrorInfo() (code string, message string)

	appendWire(b []byte) ([]byte, error)
	parseWire(b []byte) error
	checkSchema() error
}

// BatchLoadEvent is published by the loader service once per stage transition
// of a batch ingestion run.
type BatchLoadEvent struct {
	EventID      string
	OccurredAt   time.Time
	TenantID     string
	BatchID      string
	Stage        BatchLoadStage
	RecordCount  int64
	SourceSystem string
	ErrorCode    string
	ErrorMessage string
}

func (e *BatchLoadEvent) GetEventID() string  { return e.EventID }
func (e *BatchLoadEvent) GetTenantID() string { return e.TenantID }
func (e *BatchLoadEvent) UnitOfWorkID() string {
	return e.BatchID
}
func (e *BatchLoadEvent) StageName() string { return e.Stage.String() }
func (e *BatchLoadEvent) Terminal() bool    { return e.Stage.Terminal() }
func (e *BatchLoadEvent) ErrorInfo() (string, string) {
	return e.ErrorCode, e.ErrorMessage
}

// DeidJobEvent is published by the deid service once per stage transition of a
// de-identification job.
type DeidJobEvent struct {
	EventID         string
	OccurredAt      time.Time
	TenantID        string
	JobID           string
	Stage           DeidStage
	PayloadLocation string
	ErrorCode       string
	ErrorMessage    string
}

func (e *DeidJobEvent) GetEventID() string  { return e.EventID }
func (e *DeidJobEvent) GetTenantID() string { return e.TenantID }
func (e *DeidJobEvent) UnitOfWorkID() string {
	return e.JobID
}
func (e *DeidJobEvent) StageName() string { return e.Stage.String() }
func (e *DeidJobEvent) Terminal() bool    { return e.Stage.Terminal() }
func (e *DeidJobEvent) ErrorInfo() (string, string) {
	return e.ErrorCode, e.ErrorMessage
}

// PartitionKey builds the broker partition key for a unit of work so that all
// events of one run land on the same partition.
func PartitionKey(tenantID, unitOfWorkID string) string {
	return tenantID + ":" + unitOfWorkID
}

// BatchLoadStageFromName maps a stage label back to its enum value.
func BatchLoadStageFromName(name string) (BatchLoadStage, bool) {
	for stage, n := range batchLoadStageNames {
		if n == name {
			return stage, true
		}
	}
	return BatchLoadStageUnspecified, false
}

// DeidStageFromName maps a stage label back to its enum value.
func DeidStageFromName(name string) (DeidStage, bool) {
	for stage, n := range deidStageNames {
		if n == name {
			return stage, true
		}
	}
	return DeidStageUnspecified, false
}
