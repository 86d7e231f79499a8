package apierror

import (
	"encoding/json"
	"errors"
	"net/http"
)

// envelope is the JSON body every error response carries.
type envelope struct {
	Error     string        `json:"error"`
	ErrorInfo *envelopeInfo `json:"error_info,omitempty"`
}

type envelopeInfo struct {
	Cause       string `json:"cause,omitempty"`
	Remediation string `json:"remediation,omitempty"`
	Status      int    `json:"status"`
}

// WriteJSON renders err as the standard error envelope, picking the HTTP
// status from its Kind when err is an *Error, or 500 otherwise.
func WriteJSON(w http.ResponseWriter, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = &Error{Kind: KindInternal, Message: err.Error()}
	}

	body := envelope{
		Error: apiErr.Message,
		ErrorInfo: &envelopeInfo{
			Remediation: apiErr.Remediation,
			Status:      apiErr.Status(),
		},
	}
	if apiErr.Cause != nil {
		body.ErrorInfo.Cause = apiErr.Cause.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status())
	_ = json.NewEncoder(w).Encode(body)
}
