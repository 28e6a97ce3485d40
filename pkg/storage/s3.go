package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Client is the subset of [s3.Client] the media store calls. Tests replace
// it with an in-memory bucket.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Config describes how to reach a bucket. Endpoint is only needed for
// S3-compatible stores (MinIO, R2, ...), which are addressed path-style.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client builds an [s3.Client] from static credentials
func NewS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region: cfg.Region,
		Credentials: aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     cfg.AccessKeyID,
				SecretAccessKey: cfg.SecretAccessKey,
				Source:          "xeno-corpus",
			}, nil
		})),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

// S3Store keeps the media files of a run as objects of one bucket. A file
// becomes visible only when its Writer is closed, so Exists never reports a
// transfer that is still running or was aborted.
type S3Store struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3 returns a store writing under bucket. A non-empty prefix is joined to
// every file name with a slash.
func NewS3(client S3Client, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(path string) string {
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

// Read streams a stored file back. A missing object is reported as
// os.ErrNotExist, like the local store does.
func (s *S3Store) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("storage: read %s: %w", path, os.ErrNotExist)
		}
		return nil, err
	}
	return out.Body, nil
}

// Write starts the upload of one file. Bytes are piped into a single
// PutObject as they are written; Close commits the object and returns the
// upload error, Abort cancels it and nothing is created.
func (s *S3Store) Write(ctx context.Context, path string) (Writer, error) {
	pr, pw := io.Pipe()
	w := &s3Writer{pw: pw, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		_, w.uploadErr = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(path)),
			Body:   pr,
		})
		// unblock pending writes if the upload failed early
		pr.CloseWithError(w.uploadErr)
	}()
	return w, nil
}

// Delete removes a file. Deleting a missing file is not an error.
func (s *S3Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	return err
}

// Exists reports whether a committed object holds the file. It is the skip
// signal of the downloader.
func (s *S3Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// s3Writer feeds a running PutObject through a pipe
type s3Writer struct {
	once      sync.Once
	pw        *io.PipeWriter
	done      chan struct{}
	uploadErr error
}

func (w *s3Writer) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// Close ends the body and blocks until PutObject returns. The object exists
// once Close returns nil.
func (w *s3Writer) Close() error {
	w.once.Do(func() { w.pw.Close() })
	<-w.done
	return w.uploadErr
}

// Abort fails the body with err so the upload is rejected. It waits for
// PutObject to return and is safe to call after Close.
func (w *s3Writer) Abort(err error) error {
	if err == nil {
		err = errors.New("storage: upload aborted")
	}
	w.once.Do(func() { w.pw.CloseWithError(err) })
	<-w.done
	return nil
}

// isS3NotFound matches HeadObject's NotFound and GetObject's NoSuchKey
func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

var _ FileStore = (*S3Store)(nil)
