package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMedia_PersistRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	m, err := NewMediaStore(dir, "https://inbox.example/", 0)
	require.NoError(t, err)

	link := m.PersistRemote(context.Background(), srv.URL+"/cdn/photo")
	require.True(t, strings.HasPrefix(link, "https://inbox.example/media/"), link)
	assert.True(t, strings.HasSuffix(link, ".png"))

	data, name, ok := m.ReadOwned(link)
	require.True(t, ok)
	assert.Equal(t, "png-bytes", string(data))
	_, err = os.Stat(filepath.Join(dir, name))
	assert.NoError(t, err)
}

func TestMedia_PersistRemoteFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	m, err := NewMediaStore(t.TempDir(), "", 0)
	require.NoError(t, err)

	remote := srv.URL + "/expired.jpg"
	assert.Equal(t, remote, m.PersistRemote(context.Background(), remote))
}

func TestMedia_PersistRemoteTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	m, err := NewMediaStore(t.TempDir(), "", 16)
	require.NoError(t, err)

	remote := srv.URL + "/big.mp4"
	assert.Equal(t, remote, m.PersistRemote(context.Background(), remote))
}

func TestMedia_ReadOwnedRejectsForeignLinks(t *testing.T) {
	m, err := NewMediaStore(t.TempDir(), "https://inbox.example", 0)
	require.NoError(t, err)

	link, err := m.SaveUpload("menu.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(link, ".pdf"))

	_, _, ok := m.ReadOwned(link)
	assert.True(t, ok)

	for _, foreign := range []string{
		"https://cdn.example/media/x.jpg",
		"https://inbox.example/media/../secret",
		"https://inbox.example/media/a/b.jpg",
		"https://inbox.example/media/",
	} {
		_, _, ok := m.ReadOwned(foreign)
		assert.False(t, ok, foreign)
	}
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "image/png", ContentTypeFor("a.png"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("noext"))
}

func TestMedia_SaveUploadRestrictsExtensions(t *testing.T) {
	m, err := NewMediaStore(t.TempDir(), "https://inbox.example", 0)
	require.NoError(t, err)

	cases := map[string]string{
		"invoice.PDF":    ".pdf",
		"photo.jpeg":     ".jpeg",
		"page.html":      ".bin",
		"logo.svg":       ".bin",
		"script.js":      ".bin",
		"trick.html.png": ".png",
	}
	for filename, want := range cases {
		link, err := m.SaveUpload(filename, "", []byte("data"))
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(link, want), "%s stored as %s", filename, link)
		assert.NotEqual(t, "text/html; charset=utf-8", ContentTypeFor(link))
	}

	// The MIME fallback is filtered too
	link, err := m.SaveUpload("noext", "text/html", []byte("<script>"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(link, ".bin"), link)
}

func TestMedia_PersistRemoteRestrictsExtensions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Write([]byte("<svg/>"))
	}))
	defer srv.Close()

	m, err := NewMediaStore(t.TempDir(), "https://inbox.example", 0)
	require.NoError(t, err)

	link := m.PersistRemote(context.Background(), srv.URL+"/sticker.svg")
	assert.True(t, strings.HasPrefix(link, "https://inbox.example/media/"), link)
	assert.True(t, strings.HasSuffix(link, ".bin"), link)
}
