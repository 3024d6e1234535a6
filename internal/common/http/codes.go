package http

const (
	CodeUnknown              = "UNKNOWN"
	CodeMethodNotAllowed     = "METHOD_NOT_ALLOWED"
	CodeBadRequest           = "BAD_REQUEST"
	CodeRateLimited          = "RATE_LIMITED"
	CodeMissingAuthorization = "MISSING_AUTHORIZATION"
	CodeInvalidToken         = "INVALID_TOKEN"
	CodeTooManyIDs           = "TOO_MANY_IDS"
	CodeRequestTooLarge      = "REQUEST_TOO_LARGE"
)
