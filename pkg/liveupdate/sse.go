package liveupdate

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/matzehuels/symgraph/pkg/errors"
)

// EdgeTopicPrefix marks topics that follow cross-edge updates for a symbol
// instead of the status of a package.
const EdgeTopicPrefix = "edge:"

// maxFrame bounds a single SSE line.
const maxFrame = 1 << 20

// Stream is one open connection. Next returns the payload of the next event
// and io.EOF once the server has ended the stream normally.
type Stream interface {
	Next() ([]byte, error)
	Close() error
}

// Dialer opens a stream for a topic.
type Dialer interface {
	Dial(ctx context.Context, topic string) (Stream, error)
}

// DialerFunc adapts a function to [Dialer].
type DialerFunc func(ctx context.Context, topic string) (Stream, error)

func (f DialerFunc) Dial(ctx context.Context, topic string) (Stream, error) { return f(ctx, topic) }

// HTTPDialer opens server-sent event streams against a symgraph server.
// Topics starting with [EdgeTopicPrefix] go to /updates/stream, every other
// topic is a package key and goes to /status/stream.
type HTTPDialer struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPDialer creates a dialer for the server at baseURL.
func NewHTTPDialer(baseURL string) *HTTPDialer {
	return &HTTPDialer{BaseURL: strings.TrimRight(baseURL, "/"), Client: &http.Client{}}
}

// StreamURL returns the endpoint serving topic.
func (d *HTTPDialer) StreamURL(topic string) string {
	path := "/status/stream"
	if strings.HasPrefix(topic, EdgeTopicPrefix) {
		path = "/updates/stream"
	}
	return d.BaseURL + path + "?" + url.Values{"key": {topic}}.Encode()
}

func (d *HTTPDialer) Dial(ctx context.Context, topic string) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.StreamURL(topic), nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "build stream request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeNetwork, err, "open stream %s", topic)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		code := errors.ErrCodeNetwork
		if resp.StatusCode == http.StatusBadRequest {
			code = errors.ErrCodeInvalidKey
		}
		return nil, errors.New(code, "open stream %s: %d %s", topic, resp.StatusCode, bytes.TrimSpace(body))
	}
	return NewSSEStream(resp.Body), nil
}

// SSEStream reads server-sent events from r. Only data lines are kept;
// comments and the event, id and retry fields are ignored.
type SSEStream struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
}

// NewSSEStream wraps an event-stream body.
func NewSSEStream(rc io.ReadCloser) *SSEStream {
	s := bufio.NewScanner(rc)
	s.Buffer(make([]byte, 0, 4096), maxFrame)
	return &SSEStream{rc: rc, scanner: s}
}

// Next returns the joined data lines of the next complete event. A partial
// event at end of input is discarded.
func (s *SSEStream) Next() ([]byte, error) {
	var data []byte
	have := false
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			if have {
				return data, nil
			}
			continue
		}
		if line[0] == ':' {
			continue
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		if string(field) != "data" {
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		if have {
			data = append(data, '\n')
		}
		data = append(data, value...)
		have = true
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	return nil, io.EOF
}

func (s *SSEStream) Close() error { return s.rc.Close() }
