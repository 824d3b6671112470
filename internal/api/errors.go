package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"openadmin/internal/form"
	"openadmin/internal/metadata"
	"openadmin/internal/persistence"
	"openadmin/internal/security"
)

var (
	ErrSectionNotFound = errors.New("section not found")
	ErrFieldNotFound   = errors.New("collection field not found")
	ErrEnumNotFound    = errors.New("enum not found")
	errBadRequest      = errors.New("bad request")
)

// FieldError is one entry of an "errors" envelope.
type FieldError struct {
	ErrorType string `json:"errorType"`
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	Message   string `json:"message"`
}

const (
	errorTypeField  = "field"
	errorTypeGlobal = "global"
)

// Error codes produced by the controller itself.
const (
	CodeNotFound            = "not_found"
	CodeOperationNotAllowed = "operation_not_allowed"
	CodeBadRequest          = "bad_request"
	CodeInternal            = "internal_error"
	CodeValidationFailure   = "Validation_Failure"
	CodeDuplicationFailure  = "Duplication_Failure"
	CodeSequenceUnsupported = "sequence.unsupported"
)

func ferr(errorType, code, field, msg string) FieldError {
	return FieldError{ErrorType: errorType, Code: code, Field: field, Message: msg}
}

// statusFor maps an error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	var se *security.ServiceError
	switch {
	case errors.As(err, &se):
		if se.Kind == security.KindNotFound {
			return http.StatusNotFound, CodeNotFound
		}
		return http.StatusForbidden, CodeOperationNotAllowed
	case errors.Is(err, ErrSectionNotFound),
		errors.Is(err, ErrFieldNotFound),
		errors.Is(err, ErrEnumNotFound),
		errors.Is(err, persistence.ErrNotFound),
		errors.Is(err, metadata.ErrUnknownClass),
		errors.Is(err, metadata.ErrUnknownField):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, persistence.ErrUnsupportedCollection):
		return http.StatusBadRequest, CodeSequenceUnsupported
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, CodeBadRequest
	}
	return http.StatusInternalServerError, CodeInternal
}

// fail aborts the request with an errors envelope.
func (ctl *Controller) fail(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		ctl.lggr.Errorw("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
	} else {
		ctl.lggr.Debugw("request rejected", "path", c.Request.URL.Path, "status", status, "err", err)
	}
	msg := ctl.msg(c, code)
	if code == CodeNotFound {
		msg = ctl.msg(c, code, c.Request.URL.Path)
	}
	c.AbortWithStatusJSON(status, gin.H{"errors": []FieldError{ferr(errorTypeGlobal, code, "", msg)}})
}

// validationErrors flattens a validation result into envelope entries.
func (ctl *Controller) validationErrors(c *gin.Context, res *form.Result) []FieldError {
	out := make([]FieldError, 0, len(res.FieldErrors)+len(res.GlobalErrors))
	for _, field := range res.FieldNames() {
		for _, code := range res.FieldErrors[field] {
			out = append(out, ferr(errorTypeField, code, field, ctl.msg(c, code)))
		}
	}
	for _, code := range res.GlobalErrors {
		out = append(out, ferr(errorTypeGlobal, code, "", ctl.msg(c, code)))
	}
	return out
}

// firstError is the first failure recorded on ent, field errors before global ones.
func firstError(ent *persistence.Entity) string {
	res := (&form.Validator{}).Validate(nil, ent)
	for _, f := range res.FieldNames() {
		return res.FieldErrors[f][0]
	}
	if len(res.GlobalErrors) > 0 {
		return res.GlobalErrors[0]
	}
	return "delete.unsuccessful"
}
