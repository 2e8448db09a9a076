package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/formbricks/buckets/internal/api/response"
)

// RequestBodyTooLargeRecorder counts requests rejected by MaxBody. Nil when metrics are disabled.
type RequestBodyTooLargeRecorder interface {
	RecordRequestBodyTooLarge(ctx context.Context)
}

// MaxBody caps request bodies at maxBytes; 0 or negative disables the cap.
//
// Handlers decode the body themselves and usually answer 400 on a read error. For POST, PATCH and
// PUT the response is held back, so an overflow can be reported as 413 instead. Other methods
// stream through untouched apart from the cap.
func MaxBody(maxBytes int64, recorder RequestBodyTooLargeRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body := &cappedBody{ReadCloser: http.MaxBytesReader(w, r.Body, maxBytes)}
			r.Body = body

			if !buffersResponse(r.Method) {
				next.ServeHTTP(w, r)

				return
			}

			held := &heldResponse{ResponseWriter: w}
			next.ServeHTTP(held, r)

			if !body.overflowed {
				held.release()

				return
			}

			if recorder != nil {
				recorder.RecordRequestBodyTooLarge(r.Context())
			}

			response.RespondError(w, http.StatusRequestEntityTooLarge,
				"Request Entity Too Large", fmt.Sprintf("request body exceeds %d bytes", maxBytes))
		})
	}
}

func buffersResponse(method string) bool {
	return method == http.MethodPost || method == http.MethodPatch || method == http.MethodPut
}

// cappedBody notes when the underlying MaxBytesReader hit its limit.
// Read errors, io.EOF included, are returned as is so callers can compare them.
type cappedBody struct {
	io.ReadCloser

	overflowed bool
}

func (b *cappedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		b.overflowed = true
	}

	return n, err //nolint:wrapcheck // io.Reader contract: io.EOF must reach the caller unwrapped
}

// heldResponse keeps the status and body until release.
type heldResponse struct {
	http.ResponseWriter

	status int
	body   bytes.Buffer
}

func (h *heldResponse) WriteHeader(code int) {
	if h.status == 0 {
		h.status = code
	}
}

func (h *heldResponse) Write(p []byte) (int, error) {
	if h.status == 0 {
		h.status = http.StatusOK
	}

	return h.body.Write(p) //nolint:wrapcheck // bytes.Buffer only fails on out-of-memory panics
}

func (h *heldResponse) release() {
	if h.status != 0 {
		h.ResponseWriter.WriteHeader(h.status)
	}

	_, _ = h.body.WriteTo(h.ResponseWriter)
}
