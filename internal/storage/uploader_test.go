package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUploader(t *testing.T) *Uploader {
	t.Helper()
	u, err := NewUploader(Config{
		Region:        "us-east-1",
		AccessKey:     "key",
		SecretKey:     "secret",
		Bucket:        "media",
		PublicBaseURL: "https://cdn.example.com/",
		Prefix:        "/emprata/",
	})
	require.NoError(t, err)
	u.now = func() time.Time { return time.Date(2026, 3, 7, 23, 0, 0, 0, time.UTC) }
	return u
}

func TestNewUploaderValidates(t *testing.T) {
	_, err := NewUploader(Config{Region: "us-east-1"})
	require.ErrorContains(t, err, "bucket")

	_, err = NewUploader(Config{Bucket: "b", Region: "r", AccessKey: "a", SecretKey: "s"})
	require.ErrorContains(t, err, "public base url")
}

func TestGenerateKeyLayout(t *testing.T) {
	u := testUploader(t)
	key := u.generateKey(KindExport, "image/jpeg")
	assert.Regexp(t, regexp.MustCompile(`^emprata/exports/2026/03/07/[0-9a-f-]{36}\.jpg$`), key)
	assert.Equal(t, "https://cdn.example.com/"+key, u.publicURL(key))

	assert.NotEqual(t, key, u.generateKey(KindExport, "image/jpeg"))
}

func TestExtensionFromContentType(t *testing.T) {
	for ct, ext := range map[string]string{
		"image/png":                ".png",
		"IMAGE/JPEG":               ".jpg",
		"image/webp":               ".webp",
		"image/jpeg; charset=utf8": ".jpg",
		"application/pdf":          ".bin",
	} {
		assert.Equal(t, ext, extensionFromContentType(ct), ct)
	}
}

func TestUploadRejectsEmpty(t *testing.T) {
	_, err := testUploader(t).Upload(context.Background(), KindSource, nil, "image/png")
	require.Error(t, err)
}
