package storage

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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiError struct {
	code string
}

func (e *apiError) Error() string                 { return e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

// mockS3 is a thread-safe in-memory S3 backend
type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string][]byte)}
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, &apiError{code: "NoSuchKey"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[*in.Key]; !ok {
		return nil, &apiError{code: "NotFound"}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestS3WriteUsesPrefix(t *testing.T) {
	mock := newMockS3()
	s := NewS3(mock, "corpus", "audio")
	ctx := context.Background()

	w, err := s.Write(ctx, "x-1-0-0.mp3")
	require.NoError(t, err)
	_, err = io.WriteString(w, "id3")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, []byte("id3"), mock.objects["audio/x-1-0-0.mp3"])

	ok, err := s.Exists(ctx, "x-1-0-0.mp3")
	require.NoError(t, err)
	assert.True(t, ok)

	r, err := s.Read(ctx, "x-1-0-0.mp3")
	require.NoError(t, err)
	got, _ := io.ReadAll(r)
	assert.Equal(t, "id3", string(got))
}

func TestS3AbortDoesNotCreateObject(t *testing.T) {
	mock := newMockS3()
	s := NewS3(mock, "corpus", "")
	ctx := context.Background()

	w, err := s.Write(ctx, "x-2-0-0.wav")
	require.NoError(t, err)
	_, err = io.WriteString(w, "riff")
	require.NoError(t, err)
	require.NoError(t, w.Abort(errors.New("status 500")))

	ok, err := s.Exists(ctx, "x-2-0-0.wav")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestS3ReadMissing(t *testing.T) {
	s := NewS3(newMockS3(), "corpus", "")

	_, err := s.Read(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	ok, err := s.Exists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
