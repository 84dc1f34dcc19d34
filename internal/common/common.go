package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	ContentTypeJSON = "application/json"
)

// Backend API paths
const (
	PathPendingTriggers = "/api/quotes/agent/pending-xml"
	PathAck             = "/api/quotes/agent/ack-xml"
	PathUploadBundle    = "/api/quotes/agent/upload-bundle"
	// PathSourceArtifactFmt takes the correlation id (quote id).
	PathSourceArtifactFmt = "/api/quotes/%s/download-source-excel"
)

// Status server paths
const (
	PathHealthz = "/healthz"
	PathStatus  = "/v1/status"
)

// Multipart field names for the bundle upload.
const (
	BundleFieldResult   = "xml"
	BundleFieldWorkbook = "excel"
	BundleFieldDocument = "pdf"
)

// File extensions used by the exchange-folder protocol.
const (
	ExtTrigger  = ".rak"
	ExtResult   = ".xml"
	ExtWorkbook = ".xlsx"
	ExtDocument = ".pdf"
)

// Defaults and limits
const (
	SQLiteBusyTimeoutMS = 5000
	DefaultRecentRuns   = 50
)

// Run outcome strings recorded in the journal.
const (
	OutcomeCompleted = "completed"
	OutcomeTimeout   = "timeout"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)
