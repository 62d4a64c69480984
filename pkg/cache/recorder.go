package cache

import (
	"bytes"
	"net/http"
	"slices"
)

// HeaderCache reports whether a response was served from the cache.
const HeaderCache = "X-Cache"

// recorder is the per-request response interceptor installed on a miss.
//
// It buffers the handler's response instead of sending it, so the middleware
// can store the payload before it reaches the client. The first WriteHeader
// fixes the status; later calls are ignored.
type recorder struct {
	header      http.Header
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

// newRecorder starts from a copy of the headers already set on the real
// writer, so headers added by outer middleware stay visible to the handler.
func newRecorder(base http.Header) *recorder {
	return &recorder{
		header: base.Clone(),
		status: http.StatusOK,
	}
}

func (rec *recorder) Header() http.Header {
	return rec.header
}

func (rec *recorder) WriteHeader(code int) {
	if rec.wroteHeader {
		return
	}
	rec.status = code
	rec.wroteHeader = true
}

func (rec *recorder) Write(p []byte) (int, error) {
	if !rec.wroteHeader {
		rec.WriteHeader(http.StatusOK)
	}
	return rec.body.Write(p)
}

// captured reports whether the handler sent anything at all.
func (rec *recorder) captured() bool {
	return rec.wroteHeader
}

// cacheable reports whether the captured response may be stored.
// Only successful responses are cached.
func (rec *recorder) cacheable() bool {
	return rec.captured() && rec.status >= 200 && rec.status < 300
}

// entry converts the captured response to a cache entry.
func (rec *recorder) entry() *Entry {
	data := rec.body.Bytes()

	contentType := rec.header.Get("Content-Type")
	if contentType == "" && len(data) > 0 {
		contentType = http.DetectContentType(data)
	}

	return &Entry{
		Data:        bytes.Clone(data),
		StatusCode:  rec.status,
		ContentType: contentType,
	}
}

// flushTo delivers the captured response to the client unchanged.
// A recorder may be flushed to several writers when misses are coalesced.
func (rec *recorder) flushTo(w http.ResponseWriter) {
	dst := w.Header()
	for k, v := range rec.header {
		dst[k] = slices.Clone(v)
	}
	dst.Set(HeaderCache, "MISS")

	if !rec.captured() {
		return
	}

	w.WriteHeader(rec.status)
	w.Write(rec.body.Bytes())
}

// writeEntry serves a stored entry.
func writeEntry(w http.ResponseWriter, entry *Entry) {
	h := w.Header()
	if entry.ContentType != "" {
		h.Set("Content-Type", entry.ContentType)
	}
	h.Set(HeaderCache, "HIT")

	status := entry.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	w.WriteHeader(status)
	w.Write(entry.Data)
}
