package http

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"net/http"
)

// bufferedResponse captures the origin's response so settlement can run
// after the full response is known. On settlement failure the buffered
// response is discarded and replaced; streaming through would make that
// impossible once bytes reached the wire.
type bufferedResponse struct {
	header     http.Header
	body       bytes.Buffer
	statusCode int
	written    bool
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header)}
}

func (b *bufferedResponse) Header() http.Header {
	return b.header
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if !b.written {
		b.WriteHeader(http.StatusOK)
	}
	return b.body.Write(p)
}

func (b *bufferedResponse) WriteHeader(statusCode int) {
	if b.written {
		return
	}
	b.written = true
	b.statusCode = statusCode
}

// status returns the captured status code, defaulting to 200 when the
// origin wrote nothing at all.
func (b *bufferedResponse) status() int {
	if !b.written {
		return http.StatusOK
	}
	return b.statusCode
}

// flushTo replays the captured response onto the real writer.
func (b *bufferedResponse) flushTo(w http.ResponseWriter) {
	for key, values := range b.header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(b.status())
	_, _ = w.Write(b.body.Bytes())
}

// statusRecorder passes writes through while remembering the status for
// visit events on ungated paths.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.statusCode == 0 {
		r.statusCode = http.StatusOK
	}
	return r.ResponseWriter.Write(p)
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	if r.statusCode == 0 {
		r.statusCode = statusCode
	}
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) status() int {
	if r.statusCode == 0 {
		return http.StatusOK
	}
	return r.statusCode
}

// Flush implements http.Flusher to support streaming responses.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker to support connection hijacking.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := r.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, errors.New("hijacking not supported")
}

// Push implements http.Pusher to support HTTP/2 server push.
func (r *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if pusher, ok := r.ResponseWriter.(http.Pusher); ok {
		return pusher.Push(target, opts)
	}
	return http.ErrNotSupported
}
