package websocket

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// HandshakeBufferSize is the size of the single read the acceptor performs
// before parsing the upgrade request.
const HandshakeBufferSize = 1024

var headerTerminator = []byte("\r\n\r\n")

// Header maps lowercased header names to their first value.
type Header map[string]string

// Get returns the value for name, matched case-insensitively.
func (h Header) Get(name string) string {
	return h[strings.ToLower(name)]
}

// Has reports whether the header was present, even with an empty value.
func (h Header) Has(name string) bool {
	_, ok := h[strings.ToLower(name)]
	return ok
}

// Request is a parsed HTTP/1.1 request line plus headers.
type Request struct {
	Method  string
	Target  string
	Version string
	Header  Header

	// Rest holds any bytes that followed the blank line in the same read.
	// A client may pipeline its first frame right behind the handshake.
	Rest []byte
}

// ParseRequest parses buf as an HTTP request line followed by headers.
// The whole header block must be present in buf.
func ParseRequest(buf []byte) (*Request, error) {
	if len(buf) == 0 {
		return nil, &ParseError{Reason: "empty request"}
	}

	end := bytes.Index(buf, headerTerminator)
	if end == -1 {
		return nil, &ParseError{Reason: "header terminator not found"}
	}
	head := buf[:end]
	if !utf8.Valid(head) {
		return nil, &ParseError{Reason: "non utf8 data encountered"}
	}

	lines := strings.Split(string(head), "\r\n")

	req := &Request{Header: make(Header, len(lines)-1)}
	if err := parseRequestLine(lines[0], req); err != nil {
		return nil, err
	}

	for _, line := range lines[1:] {
		sep := strings.IndexByte(line, ':')
		if sep <= 0 {
			return nil, &ParseError{Reason: "malformed header line"}
		}
		name := strings.ToLower(strings.TrimSpace(line[:sep]))
		if name == "" {
			return nil, &ParseError{Reason: "empty header name"}
		}
		if _, seen := req.Header[name]; seen {
			continue
		}
		req.Header[name] = strings.TrimSpace(line[sep+1:])
	}

	if rest := buf[end+len(headerTerminator):]; len(rest) > 0 {
		req.Rest = append([]byte(nil), rest...)
	}
	return req, nil
}

// parseRequestLine splits METHOD SP TARGET SP VERSION.
func parseRequestLine(line string, req *Request) error {
	parts := strings.Split(line, " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return &ParseError{Reason: "invalid request line"}
	}
	if !strings.HasPrefix(parts[2], "HTTP/") || len(parts[2]) <= len("HTTP/") {
		return &ParseError{Reason: "invalid protocol version"}
	}
	req.Method = parts[0]
	req.Target = parts[1]
	req.Version = parts[2]
	return nil
}
