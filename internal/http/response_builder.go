// Package http provides HTTP server and handler implementations.
//
// This file implements the Builder Pattern for constructing JSON and file
// responses, and maps domain errors to status codes.

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"finanzas/internal/core"
	"finanzas/internal/export"
	"finanzas/internal/log"
)

// ResponseBuilder provides a fluent API for building API responses.
type ResponseBuilder struct {
	statusCode  int
	headers     map[string]string
	body        []byte
	contentType string
	err         error
}

// NewResponse creates a new response builder with default 200 status.
func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	return b
}

func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers[name] = value
	return b
}

// JSON encodes v as the body.
func (b *ResponseBuilder) JSON(v any) *ResponseBuilder {
	body, err := json.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("encode response: %w", err)
		return b
	}
	b.contentType = "application/json"
	b.body = append(body, '\n')
	return b
}

// File sets body as a download named filename.
func (b *ResponseBuilder) File(filename, contentType string, body []byte) *ResponseBuilder {
	b.contentType = contentType
	b.headers["Content-Disposition"] = fmt.Sprintf("attachment; filename=%q", filename)
	b.body = body
	return b
}

// Blob sets a raw body with its content type.
func (b *ResponseBuilder) Blob(contentType string, body []byte) *ResponseBuilder {
	b.contentType = contentType
	b.body = body
	return b
}

// Write sends the built response. An encoding failure becomes a 500.
func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	if b.err != nil {
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.contentType != "" {
		w.Header().Set("Content-Type", b.contentType)
	}
	w.WriteHeader(b.statusCode)
	if len(b.body) > 0 {
		_, _ = w.Write(b.body)
	}
}

// ErrorBody is the JSON document of every error response.
type ErrorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// ErrorResponse creates a JSON error response.
func ErrorResponse(statusCode int, message string) *ResponseBuilder {
	return NewResponse().Status(statusCode).JSON(ErrorBody{Error: message})
}

func BadRequestError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

func NotFoundError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

func UnauthorizedError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusUnauthorized, message)
}

func ServiceUnavailableError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusServiceUnavailable, message)
}

func InternalServerError() *ResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, "internal error")
}

// ValidationErrorResponse creates a 400 carrying the per-field messages.
func ValidationErrorResponse(v *core.ValidationError) *ResponseBuilder {
	return NewResponse().
		Status(http.StatusBadRequest).
		JSON(ErrorBody{Error: "validation failed", Fields: v.Fields})
}

// ErrorFor maps a service error to its response. Unknown errors are 500.
func ErrorFor(err error) *ResponseBuilder {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		return ValidationErrorResponse(verr)
	case errors.Is(err, core.ErrNotFound):
		return NotFoundError("not found")
	case errors.Is(err, export.ErrNoChartData):
		return NotFoundError(rootMessage(err))
	case errors.Is(err, core.ErrDuplicateCategory),
		errors.Is(err, core.ErrDuplicateUsername):
		return ErrorResponse(http.StatusConflict, rootMessage(err))
	case errors.Is(err, core.ErrForeignCategory),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrInvalidCategoryType),
		errors.Is(err, core.ErrValidation),
		errors.Is(err, export.ErrUnsupportedFormat):
		return BadRequestError(rootMessage(err))
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorResponse(http.StatusGatewayTimeout, "request timed out")
	default:
		return InternalServerError()
	}
}

// rootMessage is the message of the innermost wrapped error, which for the
// sentinel errors is the user-facing text.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

// writeError logs unexpected errors and writes the mapped response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorFor(err)
	if resp.statusCode >= http.StatusInternalServerError {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.NewFields().
				WithError(err).
				WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, "", "").
				ToSlice()...)
	}
	resp.Write(w)
}

// writeJSON writes v with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	NewResponse().Status(status).JSON(v).Write(w)
}

// writeDownload renders t in format f as an attachment.
func writeDownload(w http.ResponseWriter, r *http.Request, filename string, f export.Format, t export.Table) {
	var buf bytes.Buffer
	if err := export.Render(&buf, f, t); err != nil {
		writeError(w, r, fmt.Errorf("render %s: %w", f, err))
		return
	}
	NewResponse().File(filename, f.ContentType(), buf.Bytes()).Write(w)
}
