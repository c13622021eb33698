// Package archive keeps a copy of every uploaded spreadsheet in object
// storage until its import session is closed or the retention window passes.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const keyPrefix = "imports/"

type objectAPI interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store writes uploads to a MinIO bucket under imports/<session>/<filename>.
type Store struct {
	client objectAPI
	bucket string
	now    func() time.Time
}

// New connects to MinIO and makes sure the bucket exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		log.Printf("archive: created bucket %s", cfg.Bucket)
	}
	return newStore(client, cfg.Bucket), nil
}

func newStore(client objectAPI, bucket string) *Store {
	return &Store{client: client, bucket: bucket, now: time.Now}
}

func objectKey(sessionID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return keyPrefix + sessionID + "/" + name
}

// Put archives the raw upload for a session.
func (s *Store) Put(ctx context.Context, sessionID, filename string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(sessionID, filename), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType(filename),
		UserMetadata: map[string]string{"session": sessionID},
	})
	if err != nil {
		return fmt.Errorf("archive upload: %w", err)
	}
	return nil
}

// Delete removes everything archived for a session. A session without an
// archive is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    keyPrefix + sessionID + "/",
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("list archive: %w", obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove archive %s: %w", obj.Key, err)
		}
	}
	return nil
}

// Sweep removes archives last modified before now minus retention and
// returns how many objects were removed.
func (s *Store) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().Add(-retention)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    keyPrefix,
		Recursive: true,
	})
	removed := 0
	for obj := range objects {
		if obj.Err != nil {
			return removed, fmt.Errorf("list archive: %w", obj.Err)
		}
		if !obj.LastModified.Before(cutoff) {
			continue
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("remove archive %s: %w", obj.Key, err)
		}
		removed++
	}
	return removed, nil
}

func contentType(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xlsm":
		return "application/vnd.ms-excel.sheet.macroEnabled.12"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
