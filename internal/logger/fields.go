package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Standard tracing fields, propagated through the call chain via context.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldJobID is the analysis job ID
	FieldJobID = "job_id"

	// FieldRecordID is the mail record ID the job operates on
	FieldRecordID = "record_id"

	// FieldOperation is the analysis operation type
	FieldOperation = "operation"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldDispatcher is the dispatcher instance ID
	FieldDispatcher = "dispatcher_id"
)

// Standard metric fields, attached at the log-entry level for aggregation.
const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldCacheHit marks whether a result came from the cache
	FieldCacheHit = "cache_hit"
)
