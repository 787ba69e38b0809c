package twwplus

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// DefaultMirrorLimit is the largest body the interceptor copies. Longer
// bodies, such as streams, are passed through without a signal.
const DefaultMirrorLimit = 16 << 20

// Interceptor is an http.RoundTripper that reports every completed response
// body without altering the request or the response seen by the caller.
//
// A signal is emitted exactly once, when the caller has read the body to
// EOF. Bodies that are never read, closed early, or longer than the mirror
// limit produce no signal. Protocol upgrades are never wrapped.
type Interceptor struct {
	base  http.RoundTripper
	emit  func(ResponseSignal)
	limit int
}

// InterceptorOption configures an Interceptor.
type InterceptorOption func(*Interceptor)

// WithMirrorLimit caps how many body bytes are copied per response.
func WithMirrorLimit(n int) InterceptorOption {
	return func(t *Interceptor) {
		if n > 0 {
			t.limit = n
		}
	}
}

// NewInterceptor wraps base. A nil base means http.DefaultTransport.
func NewInterceptor(base http.RoundTripper, emit func(ResponseSignal), opts ...InterceptorOption) *Interceptor {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &Interceptor{base: base, emit: emit, limit: DefaultMirrorLimit}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp == nil || resp.Body == nil || t.emit == nil {
		return resp, err
	}
	if resp.StatusCode == http.StatusSwitchingProtocols {
		return resp, nil
	}
	if _, ok := resp.Body.(io.Writer); ok {
		return resp, nil
	}
	if resp.ContentLength > int64(t.limit) {
		return resp, nil
	}
	resp.Body = &observedBody{
		ReadCloser: resp.Body,
		method:     req.Method,
		url:        req.URL.String(),
		emit:       t.emit,
		limit:      t.limit,
	}
	return resp, nil
}

// observedBody mirrors what the caller reads and emits at the first EOF.
type observedBody struct {
	io.ReadCloser
	method string
	url    string
	emit   func(ResponseSignal)
	limit  int

	mu       sync.Mutex
	buf      bytes.Buffer
	overflow bool
	once     sync.Once
}

func (b *observedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.mirror(p[:n])
	}
	if err == io.EOF {
		b.once.Do(b.fire)
	}
	return n, err
}

func (b *observedBody) mirror(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.overflow {
		return
	}
	if b.buf.Len()+len(p) > b.limit {
		b.overflow = true
		b.buf = bytes.Buffer{}
		return
	}
	b.buf.Write(p)
}

// mirrored reports how many bytes are currently held.
func (b *observedBody) mirrored() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *observedBody) fire() {
	b.mu.Lock()
	text, overflow := b.buf.String(), b.overflow
	b.buf = bytes.Buffer{}
	b.mu.Unlock()
	if overflow {
		return
	}

	defer func() { recover() }() // swallow panics in listeners
	b.emit(ResponseSignal{Method: b.method, URL: b.url, ResponseText: text})
}
