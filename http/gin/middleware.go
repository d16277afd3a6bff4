// Package gin provides Gin-compatible paywall middleware. This package
// is a thin adapter that translates gin.Context to stdlib http patterns
// and delegates all gating, verification, and settlement logic to the
// http package.
package gin

import (
	"bufio"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	paygatehttp "github.com/foldset/paygate/http"
)

// NewPaywallMiddleware creates a paywall middleware for Gin.
//
// The middleware wraps the remainder of the handler chain as the origin:
// non-crawler and unrestricted traffic runs the chain untouched, gated
// traffic without a valid proof is answered with payment instructions
// and the chain is aborted, and verified traffic runs the chain with
// settlement applied to its response. The verification result is
// available to handlers via
// c.Request.Context().Value(paygatehttp.PaymentContextKey).
//
// Example usage:
//
//	r := gin.Default()
//	r.Use(ginpaygate.NewPaywallMiddleware(&paygatehttp.Config{Service: svc}))
//	r.GET("/report", func(c *gin.Context) {
//	    c.String(200, "quarterly report")
//	})
func NewPaywallMiddleware(cfg *paygatehttp.Config) gin.HandlerFunc {
	core := paygatehttp.NewPaywallMiddleware(cfg)

	return func(c *gin.Context) {
		chainRan := false
		origin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			chainRan = true
			previous := c.Writer
			c.Writer = &ginWriter{ResponseWriter: w}
			c.Request = r
			c.Next()
			c.Writer = previous
		})

		core(origin).ServeHTTP(c.Writer, c.Request)
		if !chainRan {
			c.Abort()
		}
	}
}

// ginWriter adapts a plain http.ResponseWriter (the core middleware's
// buffer) to gin.ResponseWriter so downstream Gin handlers can write
// through it.
type ginWriter struct {
	http.ResponseWriter
	statusCode int
	written    int
}

func (w *ginWriter) WriteHeader(code int) {
	if w.statusCode == 0 {
		w.statusCode = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *ginWriter) Write(data []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(data)
	w.written += n
	return n, err
}

func (w *ginWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *ginWriter) Status() int {
	if w.statusCode == 0 {
		return http.StatusOK
	}
	return w.statusCode
}

func (w *ginWriter) Size() int {
	return w.written
}

func (w *ginWriter) Written() bool {
	return w.statusCode != 0
}

func (w *ginWriter) WriteHeaderNow() {
	if w.statusCode == 0 {
		w.WriteHeader(http.StatusOK)
	}
}

func (w *ginWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *ginWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func (w *ginWriter) CloseNotify() <-chan bool {
	// Settled responses are buffered; there is no connection to watch.
	return make(chan bool)
}

func (w *ginWriter) Pusher() http.Pusher {
	if pusher, ok := w.ResponseWriter.(http.Pusher); ok {
		return pusher
	}
	return nil
}
