package artifact

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
)

type stubObjectClient struct {
	mu      sync.Mutex
	objects map[string][]byte
	buckets map[string]bool
	listErr error
}

func newStubObjectClient() *stubObjectClient {
	return &stubObjectClient{objects: make(map[string][]byte), buckets: make(map[string]bool)}
}

func (c *stubObjectClient) PutObject(_ context.Context, bucket, name string, r io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[bucket+"/"+name] = data
	return minio.UploadInfo{Bucket: bucket, Key: name, Size: int64(len(data))}, nil
}

func (c *stubObjectClient) RemoveObject(_ context.Context, bucket, name string, _ minio.RemoveObjectOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, bucket+"/"+name)
	return nil
}

func (c *stubObjectClient) ListObjects(_ context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan minio.ObjectInfo, len(c.objects)+1)
	if c.listErr != nil {
		ch <- minio.ObjectInfo{Err: c.listErr}
		close(ch)
		return ch
	}
	for k := range c.objects {
		key := k[len(bucket)+1:]
		if len(key) >= len(opts.Prefix) && key[:len(opts.Prefix)] == opts.Prefix {
			ch <- minio.ObjectInfo{Key: key, LastModified: time.Unix(1700000000, 0)}
		}
	}
	close(ch)
	return ch
}

func (c *stubObjectClient) BucketExists(_ context.Context, bucket string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buckets[bucket], nil
}

func (c *stubObjectClient) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buckets[bucket] = true
	return nil
}

func TestMinioStore_roundTrip(t *testing.T) {
	ctx := context.Background()
	client := newStubObjectClient()
	s := newMinioStore(client, MinioConfig{Bucket: "captcha", Prefix: "images/"})

	if err := s.Ping(ctx); err == nil {
		t.Error("Ping succeeded before the bucket exists")
	}
	if err := s.EnsureBucket(ctx); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	if !client.buckets["captcha"] {
		t.Fatal("bucket was not created")
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}

	if err := s.Save(ctx, "abc.png", []byte("png")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if string(client.objects["captcha/images/abc.png"]) != "png" {
		t.Fatalf("object not stored under prefix: %v", client.objects)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Ref != "abc.png" {
		t.Errorf("List: got %+v", list)
	}

	if err := s.Delete(ctx, "abc.png"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "abc.png"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
	if len(client.objects) != 0 {
		t.Errorf("objects remain: %v", client.objects)
	}
}

func TestMinioStore_listError(t *testing.T) {
	client := newStubObjectClient()
	client.listErr = errors.New("boom")
	s := newMinioStore(client, MinioConfig{Bucket: "captcha"})
	if _, err := s.List(context.Background()); err == nil {
		t.Error("expected list error")
	}
}

func TestMinioStore_rejectsTraversal(t *testing.T) {
	s := newMinioStore(newStubObjectClient(), MinioConfig{Bucket: "captcha"})
	if err := s.Save(context.Background(), "../x.png", nil); !errors.Is(err, ErrInvalidRef) {
		t.Errorf("expected ErrInvalidRef, got %v", err)
	}
}
