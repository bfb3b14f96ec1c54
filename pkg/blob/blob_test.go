package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestLocalBucket_PutGet(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBucket(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := b.Put(ctx, "models/feature_cols.json", []byte(`["a"]`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := b.Get(ctx, "models/feature_cols.json")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `["a"]` {
		t.Errorf("Get() = %s", got)
	}

	if err := b.Put(ctx, "models/feature_cols.json", []byte(`["b"]`)); err != nil {
		t.Fatal(err)
	}
	got, _ = b.Get(ctx, "models/feature_cols.json")
	if string(got) != `["b"]` {
		t.Errorf("overwrite not visible, Get() = %s", got)
	}

	if _, err := b.Get(ctx, "missing.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) err = %v, want ErrNotFound", err)
	}
}

func TestLocalBucket_RejectsBadKeys(t *testing.T) {
	b, _ := NewLocalBucket(t.TempDir())
	for _, key := range []string{"", "../escape", "a/../../b"} {
		if err := b.Put(context.Background(), key, nil); err == nil {
			t.Errorf("Put(%q) accepted", key)
		}
	}
	if _, err := NewLocalBucket(""); err == nil {
		t.Error("NewLocalBucket(\"\") accepted")
	}
}

type brokenBucket struct{}

func (brokenBucket) Put(context.Context, string, []byte) error { return errors.New("disk full") }
func (brokenBucket) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("io error")
}
func (brokenBucket) String() string { return "broken" }

func TestMirror(t *testing.T) {
	ctx := context.Background()
	primary, _ := NewLocalBucket(t.TempDir())
	secondary, _ := NewLocalBucket(t.TempDir())
	m := NewMirror(primary, secondary)

	if err := m.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	for _, b := range []Bucket{primary, secondary} {
		if got, err := b.Get(ctx, "k"); err != nil || string(got) != "v" {
			t.Errorf("%s: Get() = %s, %v", b, got, err)
		}
	}

	secondary.Put(ctx, "only-secondary", []byte("x"))
	if got, err := m.Get(ctx, "only-secondary"); err != nil || string(got) != "x" {
		t.Errorf("Get() fallback = %s, %v", got, err)
	}
	if _, err := m.Get(ctx, "nowhere"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(nowhere) err = %v", err)
	}
}

func TestMirror_AggregatesFailures(t *testing.T) {
	ctx := context.Background()
	good, _ := NewLocalBucket(t.TempDir())
	m := NewMirror(brokenBucket{}, good, brokenBucket{})

	err := m.Put(ctx, "k", []byte("v"))
	if err == nil {
		t.Fatal("expected error")
	}
	if n := strings.Count(err.Error(), "disk full"); n != 2 {
		t.Errorf("error reports %d failures, want 2: %v", n, err)
	}
	if got, _ := good.Get(ctx, "k"); string(got) != "v" {
		t.Error("healthy bucket skipped after a failure")
	}

	got, err := m.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Errorf("Get() = %s, %v", got, err)
	}
}

// fakeS3 is a minimal path-style S3 endpoint.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = data
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.Write(data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Bucket_PutGet(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	server := httptest.NewServer(fake)
	defer server.Close()

	ctx := context.Background()
	b, err := NewS3Bucket(ctx, S3Config{
		Bucket:          "artifacts",
		Prefix:          "nexthour",
		Endpoint:        server.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	if err != nil {
		t.Fatalf("NewS3Bucket() error = %v", err)
	}
	if b.String() != "s3://artifacts/nexthour" {
		t.Errorf("String() = %q", b.String())
	}

	if err := b.Put(ctx, "feature_cols.json", []byte(`["temp_lag_1h"]`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, ok := fake.objects["/artifacts/nexthour/feature_cols.json"]; !ok {
		t.Fatalf("object not stored under path-style key, have %v", fake.objects)
	}

	got, err := b.Get(ctx, "feature_cols.json")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `["temp_lag_1h"]` {
		t.Errorf("Get() = %s", got)
	}

	if _, err := b.Get(ctx, "absent.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(absent) err = %v, want ErrNotFound", err)
	}
}

func TestNewS3Bucket_RequiresBucket(t *testing.T) {
	if _, err := NewS3Bucket(context.Background(), S3Config{}); err == nil {
		t.Error("missing bucket accepted")
	}
}
