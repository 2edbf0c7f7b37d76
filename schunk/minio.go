package schunk

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
)

const MinioStoreType = "MinioStore"

// MinioStore keeps frames as objects in a MinIO or other S3-compatible bucket.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	store := schunk.NewMinioStore(client, "arrays", "climate/")
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ Store = (*MinioStore)(nil)

// NewMinioStore returns a store writing below prefix in bucket.
func NewMinioStore(client *minio.Client, bucket, prefix string) *MinioStore {
	return &MinioStore{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (s *MinioStore) Type() string { return MinioStoreType }

func (s *MinioStore) key(name string) string {
	return path.Join(s.prefix, name)
}

func isMinioNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *MinioStore) Get(key string) (io.ReadCloser, error) {
	ctx := context.Background()
	k := s.key(key)
	if _, err := s.client.StatObject(ctx, s.bucket, k, minio.StatObjectOptions{}); err != nil {
		if isMinioNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, err
	}
	return s.client.GetObject(ctx, s.bucket, k, minio.GetObjectOptions{})
}

// Put streams val into the object; the size is unknown so the client
// falls back to a multipart upload for large frames.
func (s *MinioStore) Put(key string, val io.Reader) error {
	_, err := s.client.PutObject(context.Background(), s.bucket, s.key(key), val, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}
