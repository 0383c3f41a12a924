package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/calls"
)

// Store keeps call recordings in a MinIO bucket. Implements calls.RecordingStore.
type Store struct {
	client     *minio.Client
	bucketName string
	region     string
}

// New connects and makes sure the bucket exists.
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, eris.Wrap(err, "minio client")
	}

	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, eris.Wrapf(err, "check bucket %s", bucket)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, eris.Wrapf(err, "create bucket %s", bucket)
		}
	}

	return &Store{client: cli, bucketName: bucket, region: region}, nil
}

// ContentTypeFor maps a recording key to its MIME type by extension.
func ContentTypeFor(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}

func notFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// Put uploads the blob unless the key already exists; recordings are immutable.
func (s *Store) Put(ctx context.Context, blob calls.RecordingBlob) error {
	_, err := s.client.StatObject(ctx, s.bucketName, blob.Key, minio.StatObjectOptions{})
	if err == nil {
		return nil
	}
	if !notFound(err) {
		return eris.Wrapf(err, "stat %s", blob.Key)
	}

	contentType := blob.ContentType
	if contentType == "" {
		contentType = ContentTypeFor(blob.Key)
	}
	_, err = s.client.PutObject(ctx, s.bucketName, blob.Key,
		bytes.NewReader(blob.Data), int64(len(blob.Data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return eris.Wrapf(err, "upload %s", blob.Key)
	}
	return nil
}

// Get reads a recording; a missing key wraps calls.ErrNoRecording.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "get %s", key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("%w: %s", calls.ErrNoRecording, key)
		}
		return nil, eris.Wrapf(err, "read %s", key)
	}
	return data, nil
}

// Ping backs the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucketName)
	return err
}
