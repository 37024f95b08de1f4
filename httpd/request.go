package httpd

import (
	"bytes"
	"fmt"
)

// Request is the parsed first line of an HTTP request received over the
// serial link: method token, path, and the raw query string (without the
// leading '?'). Headers and body are not interpreted.
type Request struct {
	Method string
	Path   string
	Query  string
}

// parseRequest extracts the request line from raw request text: method up to
// the first space, path up to the next space or '?', query up to the end of
// the line. It fails closed on anything that does not fit that shape.
func parseRequest(text []byte) (*Request, error) {
	line := text
	if i := bytes.Index(line, []byte("\r\n")); i >= 0 {
		line = line[:i]
	}

	sp := bytes.IndexByte(line, ' ')
	if sp <= 0 {
		return nil, fmt.Errorf("no method token: %w", ErrParse)
	}
	method := line[:sp]

	rest := line[sp+1:]
	target := rest
	if i := bytes.IndexByte(rest, ' '); i >= 0 {
		target = rest[:i]
	}
	if len(target) == 0 || target[0] != '/' {
		return nil, fmt.Errorf("no request path: %w", ErrParse)
	}

	req := &Request{Method: string(method)}
	if q := bytes.IndexByte(target, '?'); q >= 0 {
		req.Path = string(target[:q])
		req.Query = string(target[q+1:])
	} else {
		req.Path = string(target)
	}
	return req, nil
}
