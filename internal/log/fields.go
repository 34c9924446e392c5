package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldDriverID    = "driver_id"
	FieldRole        = "role"
	FieldPeriod      = "period"
	FieldBucketStart = "bucket_start"
	FieldBucketEnd   = "bucket_end"
	FieldRequestID   = "request_id"
	FieldEndpoint    = "endpoint"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldSuccess     = "success"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldExpenses    = "expenses"
	FieldRevenue     = "revenue"
	FieldProfit      = "profit"
	FieldQueueID     = "queue_id"
	FieldAttempt     = "attempt"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentAPI        = "api"
	ComponentReconciler = "reconciler"
	ComponentScheduler  = "scheduler"
	ComponentExpense    = "expense"
	ComponentStorage    = "storage"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
	ComponentSheets     = "sheets"
	ComponentCache      = "cache"
)

// Operations defines standard operation names
const (
	OpFetch    = "fetch"
	OpUpsert   = "upsert"
	OpReset    = "reset"
	OpExpire   = "expire"
	OpSync     = "sync"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)
