package http

// ErrorBody is the structured error carried by failed API responses.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponseBody is the `{ok:false, error:{...}}` envelope.
type ErrorResponseBody struct {
	OK    bool      `json:"ok"`
	Error ErrorBody `json:"error"`
}

// ValidationError represents one request validation failure.
type ValidationError struct {
	Code    string                 `json:"code,omitempty"`
	Field   string                 `json:"field,omitempty"`
	Message string                 `json:"message,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
}
