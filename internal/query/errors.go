package query

import "fmt"

// AppError is the error shape surfaced to the HTTP collaborator. Status is
// the suggested HTTP status; Code is stable and machine-readable.
type AppError struct {
	Code    string `json:"code"`
	Status  int    `json:"-"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

// PermissionDeniedError means no permission row exists for the
// (role, collection, action) triple. Compilation stops before any query is
// built.
func PermissionDeniedError(collection, action string) *AppError {
	return &AppError{
		Code:    "PERMISSION_DENIED",
		Status:  403,
		Message: fmt.Sprintf("No permission for %s on %s", action, collection),
	}
}

func UnknownCollectionError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_COLLECTION",
		Status:  404,
		Message: fmt.Sprintf("Unknown collection: %s", name),
	}
}

func UnknownRelationPathError(path string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_RELATION_PATH",
		Status:  400,
		Message: fmt.Sprintf("Unknown relation path: %s", path),
	}
}

func UnknownFieldError(path string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_FIELD",
		Status:  400,
		Message: fmt.Sprintf("Unknown field: %s", path),
	}
}

func InvalidOperatorError(op, field string) *AppError {
	return &AppError{
		Code:    "INVALID_OPERATOR",
		Status:  400,
		Message: fmt.Sprintf("Operator %s is not valid for field %s", op, field),
	}
}

func InvalidOperatorArityError(op string, want, got int) *AppError {
	return &AppError{
		Code:    "INVALID_OPERATOR_ARITY",
		Status:  400,
		Message: fmt.Sprintf("Operator %s requires %d values, got %d", op, want, got),
	}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg}
}

func NotFoundError(collection, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s %s not found", collection, id),
	}
}

func InvalidPayloadError(msg string) *AppError {
	return &AppError{Code: "INVALID_PAYLOAD", Status: 400, Message: msg}
}

func FieldNotAllowedError(field string) *AppError {
	return &AppError{
		Code:    "FIELD_NOT_ALLOWED",
		Status:  403,
		Message: fmt.Sprintf("Field %s is not writable for this role", field),
	}
}
