package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalUpload(t *testing.T) {
	dir := t.TempDir()

	s, err := NewLocalStorage(dir, "/blobs/")
	require.NoError(t, err)

	url, err := s.Upload(context.Background(), "images/a/key.png", []byte("png"), "image/png")
	require.NoError(t, err)
	require.Equal(t, "/blobs/images/a/key.png", url)

	data, err := os.ReadFile(filepath.Join(dir, "images", "a", "key.png"))
	require.NoError(t, err)
	require.Equal(t, []byte("png"), data)

	entries, err := os.ReadDir(filepath.Join(dir, "images", "a"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file must not be left behind")
}

func TestLocalUploadRejectsTraversal(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "/blobs")
	require.NoError(t, err)

	for _, key := range []string{"../escape.png", "..", "", "/etc/passwd"} {
		_, err := s.Upload(context.Background(), key, []byte("x"), "")
		require.Error(t, err, key)
	}
}

func TestObjectBaseURL(t *testing.T) {
	require.Equal(t, "https://cdn.example.com",
		objectBaseURL(S3Config{PublicURL: "https://cdn.example.com/"}))
	require.Equal(t, "http://minio:9000/chatus",
		objectBaseURL(S3Config{Endpoint: "http://minio:9000", Bucket: "chatus", UsePathStyle: true}))
	require.Equal(t, "https://chatus.s3.eu-west-1.amazonaws.com",
		objectBaseURL(S3Config{Bucket: "chatus", Region: "eu-west-1"}))
}

func TestNewUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), zap.NewNop().Sugar(), Config{Driver: "ftp"})
	require.Error(t, err)
}
