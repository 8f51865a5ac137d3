package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/dukex/operion-monitor/pkg/refs"
)

var (
	// ErrStreamNotFound indicates a stream handle nothing was registered for.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrUnsupportedRepresentation indicates a representation kind the resolver cannot open.
	ErrUnsupportedRepresentation = errors.New("unsupported representation")
)

// StatusError reports a url locator answered with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// StreamFunc opens a registered stream.
type StreamFunc func(ctx context.Context) (io.ReadCloser, error)

// DefaultResolver opens file locators from disk, url locators over HTTP and
// streams from a table the engine registers them in.
type DefaultResolver struct {
	client *http.Client

	mu      sync.RWMutex
	streams map[string]StreamFunc
}

func NewDefaultResolver(client *http.Client) *DefaultResolver {
	if client == nil {
		client = http.DefaultClient
	}

	return &DefaultResolver{
		client:  client,
		streams: make(map[string]StreamFunc),
	}
}

// RegisterStream makes handle readable through Open.
func (r *DefaultResolver) RegisterStream(handle string, open StreamFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.streams[handle] = open
}

// RegisterStreamBytes registers a stream that renders a fixed byte slice.
func (r *DefaultResolver) RegisterStreamBytes(handle string, data []byte) {
	r.RegisterStream(handle, func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

func (r *DefaultResolver) Open(ctx context.Context, representation refs.Representation) (io.ReadCloser, error) {
	switch representation.Kind {
	case refs.RepresentationInline:
		return io.NopCloser(bytes.NewReader(representation.Data)), nil
	case refs.RepresentationFile:
		return os.Open(strings.TrimPrefix(representation.Location, "file://"))
	case refs.RepresentationURL:
		return r.openURL(ctx, representation.Location)
	case refs.RepresentationStream:
		r.mu.RLock()
		open, ok := r.streams[representation.Location]
		r.mu.RUnlock()

		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, representation.Location)
		}

		return open(ctx)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRepresentation, representation.Kind)
	}
}

func (r *DefaultResolver) openURL(ctx context.Context, location string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()

		return nil, &StatusError{URL: location, StatusCode: resp.StatusCode}
	}

	return resp.Body, nil
}
