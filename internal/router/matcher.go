package router

import (
	"net/http"
	"net/url"

	"github.com/julienschmidt/httprouter"
)

// matchCapture is the handler every /api/:service route is registered with.
// It doesn't write a response; it exists only so httprouter dispatches into
// a handler that can read the :service param back out via captureWriter.
type matchCapture struct{}

func (matchCapture) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cw, ok := w.(*captureWriter)
	if !ok {
		return
	}
	params := httprouter.ParamsFromContext(r.Context())
	cw.service = params.ByName("service")
}

// captureWriter is a no-op ResponseWriter used to pull the matched :service
// param out of an httprouter dispatch without writing any actual response.
type captureWriter struct {
	service string
	header  http.Header
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{header: make(http.Header)}
}

func (cw *captureWriter) Header() http.Header       { return cw.header }
func (cw *captureWriter) Write([]byte) (int, error) { return 0, nil }
func (cw *captureWriter) WriteHeader(int)           {}

// match runs method and path through the httprouter tree and returns the
// matched :service param, or "" if nothing matched.
func (r *Router) match(method, path string) string {
	req := &http.Request{Method: method, URL: &url.URL{Path: path}}
	cw := newCaptureWriter()
	r.tree.ServeHTTP(cw, req)
	return cw.service
}
