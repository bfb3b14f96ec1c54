// Package blob stores small named byte objects such as model artifacts.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("object not found")

// Bucket is a flat key/value object store.
type Bucket interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// String describes the bucket for logs, e.g. "file:///models" or "s3://bucket/prefix".
	String() string
}

// validateKey rejects empty keys and keys with path traversal segments.
func validateKey(key string) error {
	if key == "" {
		return errors.New("empty object key")
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return fmt.Errorf("path traversal detected in object key %q", key)
		}
	}
	return nil
}

// Mirror writes every object to all of its buckets and reads from the first
// bucket that has it.
type Mirror struct {
	buckets []Bucket
}

// NewMirror creates a Mirror over buckets, in read-preference order.
func NewMirror(buckets ...Bucket) *Mirror {
	return &Mirror{buckets: buckets}
}

// Put writes data to every bucket. All buckets are attempted; the failures
// are returned together.
func (m *Mirror) Put(ctx context.Context, key string, data []byte) error {
	var result error
	for _, b := range m.buckets {
		if err := b.Put(ctx, key, data); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", b, err))
		}
	}
	return result
}

// Get returns the object from the first bucket holding it.
func (m *Mirror) Get(ctx context.Context, key string) ([]byte, error) {
	var result error
	for _, b := range m.buckets {
		data, err := b.Get(ctx, key)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrNotFound) {
			result = multierror.Append(result, fmt.Errorf("%s: %w", b, err))
		}
	}
	if result != nil {
		return nil, result
	}
	return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
}

func (m *Mirror) String() string {
	names := make([]string, len(m.buckets))
	for i, b := range m.buckets {
		names[i] = b.String()
	}
	return "mirror(" + strings.Join(names, ", ") + ")"
}
