package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "missing"}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestS3StoreWriteUsesPrefix(t *testing.T) {
	client := newFakeS3()
	s := NewS3(client, "bucket", "/archive/")
	ctx := context.Background()

	w, err := s.Write(ctx, "hawrami/voice_1.ogg")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := w.Write([]byte("abc")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := string(client.objects["archive/hawrami/voice_1.ogg"]); got != "abc" {
		t.Fatalf("uploaded object = %q", got)
	}

	ok, err := s.Exists(ctx, "hawrami/voice_1.ogg")
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v", ok, err)
	}
	if err := s.Delete(ctx, "hawrami/voice_1.ogg"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	ok, err = s.Exists(ctx, "hawrami/voice_1.ogg")
	if err != nil || ok {
		t.Fatalf("Exists() after delete = %v, %v", ok, err)
	}
	if _, err := s.Read(ctx, "hawrami/voice_1.ogg"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Read() error = %v, want not exist", err)
	}
}

func TestS3WriterAbortSkipsUpload(t *testing.T) {
	client := newFakeS3()
	s := NewS3(client, "bucket", "")
	ctx := context.Background()

	w, err := s.Write(ctx, "hawrami/voice_1.ogg")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := w.Write([]byte("partial")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := AbortWrite(ctx, s, "hawrami/voice_1.ogg", w); err != nil {
		t.Fatalf("AbortWrite() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() after abort error = %v", err)
	}
	if len(client.objects) != 0 {
		t.Fatalf("objects = %v, want nothing uploaded", client.objects)
	}
}
