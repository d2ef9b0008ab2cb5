package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/lightcast/ingest-api/log"
	"github.com/xeipuuv/gojsonschema"
)

// Kind classifies an error for the HTTP layer and for pipeline failure
// accounting. The zero value is KindIO.
type Kind int

const (
	KindIO Kind = iota
	KindValidation
	KindNotFound
	KindTranscode
	KindDependency
	KindHTTP
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindTranscode:
		return "transcode"
	case KindDependency:
		return "dependency"
	case KindHTTP:
		return "http"
	default:
		return "io"
	}
}

func (k Kind) httpStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindDependency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type kindedError struct {
	kind Kind
	err  error
}

func (e *kindedError) Error() string { return e.err.Error() }
func (e *kindedError) Unwrap() error { return e.err }

// New wraps err with a Kind. A nil err returns nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindedError{kind: kind, err: err}
}

func Validation(format string, args ...interface{}) error {
	return New(KindValidation, fmt.Errorf(format, args...))
}

func NotFound(format string, args ...interface{}) error {
	return New(KindNotFound, fmt.Errorf(format, args...))
}

func Transcode(format string, args ...interface{}) error {
	return New(KindTranscode, fmt.Errorf(format, args...))
}

func Dependency(format string, args ...interface{}) error {
	return New(KindDependency, fmt.Errorf(format, args...))
}

func Upstream(format string, args ...interface{}) error {
	return New(KindHTTP, fmt.Errorf(format, args...))
}

// KindOf walks the wrap chain for the first Kind annotation, defaulting to
// KindIO for raw errors.
func KindOf(err error) Kind {
	var ke *kindedError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindIO
}

type apiError struct {
	Msg    string `json:"message"`
	Status int    `json:"status"`
	Err    error  `json:"-"`
}

func writeHttpError(w http.ResponseWriter, msg string, status int, err error) apiError {
	var errorDetail string
	if err != nil {
		errorDetail = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg, "error_detail": errorDetail}); err != nil {
		log.LogNoJobID("error writing HTTP error", "http_error_msg", msg, "error", err)
	}

	return apiError{msg, status, err}
}

// WriteHTTPError maps an error's Kind onto the status table:
// validation 400, not found 404, dependency 503, everything else 500.
func WriteHTTPError(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, KindOf(err).httpStatus(), err)
}

// HTTP Errors
func WriteHTTPBadRequest(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusBadRequest, err)
}

func WriteHTTPNotFound(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusNotFound, err)
}

func WriteHTTPUnsupportedMediaType(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusUnsupportedMediaType, err)
}

func WriteHTTPInternalServerError(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusInternalServerError, err)
}

func WriteHTTPServiceUnavailable(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusServiceUnavailable, err)
}

func WriteHTTPBadBodySchema(where string, w http.ResponseWriter, errors []gojsonschema.ResultError) apiError {
	sb := strings.Builder{}
	sb.WriteString("Body validation error in ")
	sb.WriteString(where)
	sb.WriteString(" ")
	for i := 0; i < len(errors); i++ {
		sb.WriteString(errors[i].String())
		sb.WriteString(" ")
	}
	return writeHttpError(w, sb.String(), http.StatusBadRequest, nil)
}
