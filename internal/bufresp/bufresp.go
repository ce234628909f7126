// Package bufresp provides a buffering http.ResponseWriter, so cookies and
// headers derived from a handler's outcome can still be attached after the
// handler body ran.
package bufresp

import (
	"bytes"
	"fmt"
	"net/http"
)

// Writer is an http.ResponseWriter that holds everything in memory until
// CopyTo is called. The zero status means the handler never called
// WriteHeader; Status then reports 200 once a body was written.
type Writer struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func NewWriter() *Writer {
	return &Writer{header: make(http.Header)}
}

func (w *Writer) Header() http.Header {
	return w.header
}

func (w *Writer) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}

	return w.body.Write(b)
}

func (w *Writer) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

// Written reports whether the handler produced a status code or body.
func (w *Writer) Written() bool {
	return w.status != 0
}

// Status returns the buffered status code, or zero when nothing was written.
func (w *Writer) Status() int {
	return w.status
}

// Reset drops the buffered status, body and headers, so an error response
// can replace a partially built success response.
func (w *Writer) Reset() {
	w.header = make(http.Header)
	w.body.Reset()
	w.status = 0
}

// CopyTo replays the buffered response onto dst.
func (w *Writer) CopyTo(dst http.ResponseWriter) error {
	h := dst.Header()
	for k, vv := range w.header {
		h[k] = vv
	}

	status := w.status
	if status == 0 {
		status = http.StatusOK
	}

	dst.WriteHeader(status)

	if _, err := dst.Write(w.body.Bytes()); err != nil {
		return fmt.Errorf("copying buffered response body: %w", err)
	}

	return nil
}
