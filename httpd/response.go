package httpd

import (
	"fmt"
	"net/http"
)

// Response is a complete HTTP response to be framed and sent back over the
// serial link. Responses always close the connection; there is no chunked
// encoding and no keep-alive.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Text builds a plain-text response.
func Text(status int, body string) *Response {
	return &Response{Status: status, ContentType: "text/plain", Body: []byte(body)}
}

// HTML builds an HTML response.
func HTML(status int, body string) *Response {
	return &Response{Status: status, ContentType: "text/html", Body: []byte(body)}
}

// NoContent builds a bodyless 204.
func NoContent() *Response {
	return &Response{Status: http.StatusNoContent}
}

var notFound = HTML(http.StatusNotFound, "<html><body><h1>404 Not Found</h1></body></html>")

// render writes the status line, headers and body into a buffer capped at
// limit bytes. Returns ErrResponseTooLarge if the frame would not fit;
// nothing partial is ever produced.
func (r *Response) render(limit int) ([]byte, error) {
	reason := http.StatusText(r.Status)
	if reason == "" {
		reason = "Unknown"
	}
	contentType := r.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}

	out := make([]byte, 0, limit)
	out = fmt.Appendf(out, "HTTP/1.1 %d %s\r\n", r.Status, reason)
	out = fmt.Appendf(out, "Content-Type: %s\r\n", contentType)
	out = fmt.Appendf(out, "Content-Length: %d\r\n", len(r.Body))
	out = append(out, "Connection: close\r\n\r\n"...)
	out = append(out, r.Body...)

	if len(out) > limit {
		return nil, fmt.Errorf("%d bytes exceeds %d-byte send buffer: %w", len(out), limit, ErrResponseTooLarge)
	}
	return out, nil
}
