package log

import "strconv"

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldUserAgent     = "user_agent"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldErrorKind     = "error_kind"
	FieldOperation     = "operation"
	FieldEnvelopeID    = "envelope_id"
	FieldEnvelopeTitle = "envelope_title"
	FieldBudget        = "budget"
	FieldAmount        = "amount"
	FieldReference     = "reference"
	FieldTransactionID = "transaction_id"
	FieldSourceID      = "source_id"
	FieldDestinationID = "destination_id"
	FieldBackend       = "backend"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentLedger  = "ledger"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentSheets  = "sheets"
	ComponentCache   = "cache"
	ComponentBackend = "backend"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpRead     = "read"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpList     = "list"
	OpWithdraw = "withdraw"
	OpTransfer = "transfer"
	OpPublish  = "publish"
	OpExport   = "export"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithEnvelope adds envelope identity and budget
func (f LogFields) WithEnvelope(id int64, title, budget string) LogFields {
	f[FieldEnvelopeID] = id
	f[FieldEnvelopeTitle] = title
	f[FieldBudget] = budget
	return f
}

// WithMovement adds the fields describing a withdrawal or transfer.
// destinationID is omitted when zero.
func (f LogFields) WithMovement(txID, sourceID, destinationID int64, amount, reference string) LogFields {
	f[FieldTransactionID] = txID
	f[FieldSourceID] = sourceID
	if destinationID != 0 {
		f[FieldDestinationID] = destinationID
	}
	f[FieldAmount] = amount
	f[FieldReference] = reference
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldUserAgent] = userAgent
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}

// ID formats an int64 identifier for places that want a string
func ID(id int64) string {
	return strconv.FormatInt(id, 10)
}
