// Package httpreq runs an HTTP request in the background and lets a polling
// caller, such as a game loop, pick up the response when it is ready.
package httpreq

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Method is an HTTP request method.
type Method string

// Supported methods.
const (
	Get    Method = http.MethodGet
	Post   Method = http.MethodPost
	Put    Method = http.MethodPut
	Delete Method = http.MethodDelete
)

// defaultTimeout bounds a request made with the default client.
const defaultTimeout = 30 * time.Second

var defaultClient = &http.Client{Timeout: defaultTimeout}

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Code)
}

// Builder collects the parts of a request.
type Builder struct {
	url     string
	method  Method
	headers http.Header
	body    *string
	client  *http.Client
}

// New starts a GET request to url.
func New(url string) *Builder {
	return &Builder{
		url:     url,
		method:  Get,
		headers: make(http.Header),
		client:  defaultClient,
	}
}

// Method sets the request method.
func (b *Builder) Method(m Method) *Builder {
	b.method = m
	return b
}

// Header adds a request header.
func (b *Builder) Header(key, value string) *Builder {
	b.headers.Add(key, value)
	return b
}

// Body sets the request body.
func (b *Builder) Body(body string) *Builder {
	b.body = &body
	return b
}

// Client replaces the http.Client used to send the request.
func (b *Builder) Client(c *http.Client) *Builder {
	if c != nil {
		b.client = c
	}
	return b
}

// Send starts the request on its own goroutine and returns immediately.
func (b *Builder) Send() *Request {
	return b.SendContext(context.Background())
}

// SendContext is like Send; ctx cancels the request in flight.
func (b *Builder) SendContext(ctx context.Context) *Request {
	r := &Request{done: make(chan result, 1)}
	go func() {
		body, err := b.do(ctx)
		r.done <- result{body: body, err: err}
	}()
	return r
}

func (b *Builder) do(ctx context.Context) (string, error) {
	var body io.Reader
	if b.body != nil {
		body = strings.NewReader(*b.body)
	}

	req, err := http.NewRequestWithContext(ctx, string(b.method), b.url, body)
	if err != nil {
		return "", errors.Wrap(err, "build request")
	}
	for key, values := range b.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "%s %s", b.method, b.url)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Code: resp.StatusCode, Body: string(data)}
	}
	return string(data), nil
}

type result struct {
	body string
	err  error
}

// Request is a request in flight. It is meant for a single polling goroutine.
type Request struct {
	done chan result
	res  *result
}

// TryReceive reports whether the request has finished, and if so its
// response body or error. It never blocks and keeps returning the same
// outcome once finished.
func (r *Request) TryReceive() (body string, done bool, err error) {
	if r.res == nil {
		select {
		case res := <-r.done:
			r.res = &res
		default:
			return "", false, nil
		}
	}
	return r.res.body, true, r.res.err
}
