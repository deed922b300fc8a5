package backend

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Recorder is a round-tripper test double for capturing backend requests.
type Recorder struct {
	mu       sync.Mutex
	requests []RecordedRequest

	// ResponseFunc allows tests to control responses. The default answers
	// every request with an empty 200 JSON object.
	ResponseFunc func(req *http.Request, body []byte) (status int, respBody []byte)
}

// RecordedRequest is one captured backend request.
type RecordedRequest struct {
	Method string
	URL    string
	Body   []byte
}

// NewRecorder creates a new recording transport.
func NewRecorder() *Recorder {
	return &Recorder{
		ResponseFunc: func(req *http.Request, body []byte) (int, []byte) {
			return 200, []byte(`{}`)
		},
	}
}

// RoundTrip records the request and returns the configured response.
func (r *Recorder) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}

	r.mu.Lock()
	r.requests = append(r.requests, RecordedRequest{
		Method: req.Method,
		URL:    req.URL.String(),
		Body:   body,
	})
	fn := r.ResponseFunc
	r.mu.Unlock()

	status, respBody := 200, []byte(`{}`)
	if fn != nil {
		status, respBody = fn(req, body)
	}

	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(respBody)),
		Request:    req,
	}, nil
}

// Requests returns a copy of all captured requests.
func (r *Recorder) Requests() []RecordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedRequest{}, r.requests...)
}

// RequestsTo returns all captured requests whose URL contains path.
func (r *Recorder) RequestsTo(path string) []RecordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []RecordedRequest
	for _, req := range r.requests {
		if strings.Contains(req.URL, path) {
			result = append(result, req)
		}
	}
	return result
}

// Reset clears all captured requests.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = nil
}
