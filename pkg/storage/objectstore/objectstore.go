package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config contains the information required to talk to an object store.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// ObjectInfo describes one stored object as reported by a listing.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ListOptions bounds a listing call.
type ListOptions struct {
	// Recursive lists the whole subtree; when false the listing stops at the
	// next path separator and directories are reported as common prefixes.
	Recursive bool
	// MaxKeys caps the number of object entries returned. Zero means no cap.
	MaxKeys int
}

// ListResult is one bounded page of a listing.
type ListResult struct {
	Objects        []ObjectInfo
	CommonPrefixes []string
	Truncated      bool
}

// Client represents the object-store capabilities the ingestion pipeline
// expects from both the staging and the destination stores.
type Client interface {
	List(ctx context.Context, prefix string, opts ListOptions) (ListResult, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error
	Exists(ctx context.Context, key string) (bool, error)
	Bucket() string
}

// New creates an object store client based on the given configuration.
func New(cfg Config) (Client, error) {
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	return &minioClient{client: cl, bucket: cfg.Bucket}, nil
}

type minioClient struct {
	client *minio.Client
	bucket string
}

func (m *minioClient) List(ctx context.Context, prefix string, opts ListOptions) (ListResult, error) {
	var result ListResult

	objects := m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: opts.Recursive,
	})

	for obj := range objects {
		if obj.Err != nil {
			return ListResult{}, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		// non-recursive listings report directories as zero-size keys with a
		// trailing separator
		if !opts.Recursive && strings.HasSuffix(obj.Key, "/") {
			result.CommonPrefixes = append(result.CommonPrefixes, obj.Key)
			continue
		}
		if opts.MaxKeys > 0 && len(result.Objects) >= opts.MaxKeys {
			result.Truncated = true
			break
		}
		result.Objects = append(result.Objects, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}

	return result, nil
}

func (m *minioClient) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

func (m *minioClient) Put(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error {
	opts := minio.PutObjectOptions{UserMetadata: metadata}
	_, err := m.client.PutObject(ctx, m.bucket, key, reader, size, opts)
	return err
}

func (m *minioClient) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == minio.NoSuchKey || resp.StatusCode == 404 {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
	return true, nil
}

func (m *minioClient) Bucket() string {
	return m.bucket
}
