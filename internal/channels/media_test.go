package channels

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	require.Equal(t, "file", SanitizeFilename(""))
	require.Equal(t, "file", SanitizeFilename("###"))
	require.Equal(t, "a_b.txt", SanitizeFilename("a   b.txt"))
	require.Equal(t, "report-final.pdf", SanitizeFilename("report-final.pdf"))
}

func TestBuildFilename_GuessesExtensionFromMIME(t *testing.T) {
	name := BuildFilename("photo", "image/jpeg", 123456)
	require.True(t, strings.HasSuffix(name, ".jpg") || strings.HasSuffix(name, ".jpeg"))
	parts := strings.SplitN(name, "_", 3)
	require.Len(t, parts, 3)
}

func TestBuildFilename_SuccessiveCallsWithSameInputsDiffer(t *testing.T) {
	a := BuildFilename("x.jpg", "", 123456)
	b := BuildFilename("x.jpg", "", 123456)
	require.NotEqual(t, a, b, "two successive BuildFilename calls with identical name and timestamp must not collide")
}

func TestMediaDownloader_DownloadDirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewMediaDownloader(dir, 0)
	path, err := d.DownloadDirect(srv.URL, "note.txt", 1)
	require.NoError(t, err)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(contents))
}

func TestMediaDownloader_SizeLimitEnforced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 1024))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewMediaDownloader(dir, 0) // 0 MB interpreted as "pass explicit bytes limit" below
	d.maxBytes = 10

	_, err := d.DownloadDirect(srv.URL, "big.bin", 1)
	require.Error(t, err)
	var sizeErr *ErrSizeExceeded
	require.ErrorAs(t, err, &sizeErr)
}

func TestMediaDownloader_AuthenticatedRequestSendsHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewMediaDownloader(dir, 0)
	_, err := d.DownloadAuthenticated(srv.URL, "f.txt", "Bearer tok123", 1)
	require.NoError(t, err)
	require.Equal(t, "Bearer tok123", gotAuth)
}

func TestMediaDownloader_WhatsAppTwoStep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("media-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewMediaDownloader(dir, 0)
	resolveCalled := false
	resolve := func(mediaID string) (string, error) {
		resolveCalled = true
		require.Equal(t, "wamid123", mediaID)
		return srv.URL, nil
	}
	path, err := d.DownloadWhatsApp("wamid123", "voice.ogg", "Bearer tok", resolve, 1)
	require.NoError(t, err)
	require.True(t, resolveCalled)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "media-bytes", string(contents))
}
