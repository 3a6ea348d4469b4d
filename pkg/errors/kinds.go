package errors

// Error kinds surfaced through the API and stored on failed tasks.
const (
	// Input errors
	KindInvalidMode           = "INVALID_MODE"
	KindInvalidSourceImage    = "INVALID_SOURCE_IMAGE"
	KindMissingReferenceImage = "MISSING_REFERENCE_IMAGE"
	KindInvalidRequest        = "INVALID_REQUEST"

	// Authn/z. Unauthenticated covers missing or invalid bearer tokens;
	// invalid credentials covers a rejected login attempt (bad code,
	// wrong password) and surfaces as a client error.
	KindUnauthenticated    = "UNAUTHENTICATED"
	KindInvalidCredentials = "INVALID_CREDENTIALS"
	KindForbidden          = "FORBIDDEN"

	// Billing
	KindCreditNotEnough    = "CREDIT_NOT_ENOUGH"
	KindBalanceWriteFailed = "BALANCE_WRITE_FAILED"

	// Resources
	KindImageLoadFailed  = "IMAGE_LOAD_FAILED"
	KindResultSaveFailed = "RESULT_SAVE_FAILED"
	KindTaskDataNotFound = "TASK_DATA_NOT_FOUND"

	// Engine
	KindEngineUnavailable = "ENGINE_UNAVAILABLE"
	KindEngineTimeout     = "ENGINE_TIMEOUT"
	KindEngineFailed      = "ENGINE_FAILED"
	KindResultNotFound    = "RESULT_NOT_FOUND"

	// Internal
	KindPipelineError = "PIPELINE_ERROR"
	KindInternalError = "INTERNAL_ERROR"
)
