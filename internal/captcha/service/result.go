package service

import "net/http"

// Envelope status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Error types carried by 400-class results. These strings are part of the
// public contract and must not change.
const (
	TypeIDRequired    = "id_required"
	TypeCodeRequired  = "code_required"
	TypeNotFound      = "not_found"
	TypeInvalidCode   = "invalid_code"
	TypeExpired       = "expired"
	TypeInternalError = "internal_error"
)

// Result is the envelope returned by every public operation.
type Result struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// CreateData is the payload of a successful Create.
type CreateData struct {
	ID       string `json:"id"`
	ImageURL string `json:"image_url"`
}

// ReconcileData is the payload of a successful Reconcile.
type ReconcileData struct {
	Removed int `json:"removed"`
}

// OK reports whether the result is a success envelope.
func (r Result) OK() bool { return r.Status == StatusSuccess }

func success(data any) Result {
	return Result{Code: http.StatusOK, Status: StatusSuccess, Data: data}
}

func failure(kind, message string) Result {
	return Result{Code: http.StatusBadRequest, Status: StatusError, Type: kind, Message: message}
}

func internalFailure() Result {
	return Result{
		Code:    http.StatusInternalServerError,
		Status:  StatusError,
		Type:    TypeInternalError,
		Message: "internal error",
	}
}
