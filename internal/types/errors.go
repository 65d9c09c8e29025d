package types

// API error codes returned by the REST surface.
const (
	CodeBadRequest   = "MOTION_400"
	CodeUnauthorized = "AUTH_401"
	CodeForbidden    = "AUTH_403"
	CodeNotFound     = "MOTION_404"
	CodeBusy         = "MOTION_409"
	CodeLocked       = "MOTION_423"
	CodeUnavailable  = "MOTION_503"
	CodeInternal     = "MOTION_500"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Alarm   int    `json:"alarm,omitempty"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// NewAlarmResponse is NewErrorResponse for requests refused because the
// machine is latched in an alarm.
func NewAlarmResponse(alarm int, message string) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    CodeLocked,
			Message: message,
			Alarm:   alarm,
		},
	}
}
