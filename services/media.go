package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MediaRoute is the path prefix owned media is served under
const MediaRoute = "/media/"

// MediaStore keeps inbound and uploaded media on local disk so links outlive
// the platform CDN
type MediaStore struct {
	dir       string
	publicURL string
	client    *http.Client
	maxBytes  int64
	logger    *slog.Logger
}

// NewMediaStore creates dir if needed. publicURL is prepended to media links
// and may be empty for relative links.
func NewMediaStore(dir, publicURL string, maxBytes int64) (*MediaStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating media directory: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	return &MediaStore{
		dir:       dir,
		publicURL: strings.TrimRight(publicURL, "/"),
		client:    &http.Client{Timeout: 30 * time.Second},
		maxBytes:  maxBytes,
		logger:    slog.Default().With("component", "media"),
	}, nil
}

// Dir returns the directory media is stored in
func (m *MediaStore) Dir() string {
	return m.dir
}

// URL returns the public link of a stored file
func (m *MediaStore) URL(name string) string {
	return m.publicURL + MediaRoute + name
}

// PersistRemote downloads remoteURL into the store and returns the owned link.
// Any failure falls back to the remote URL.
func (m *MediaStore) PersistRemote(ctx context.Context, remoteURL string) string {
	name, err := m.download(ctx, remoteURL)
	if err != nil {
		m.logger.Warn("Failed to persist remote media, keeping remote URL",
			"url", remoteURL,
			"error", err,
		)
		return remoteURL
	}
	return m.URL(name)
}

func (m *MediaStore) download(ctx context.Context, remoteURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching media: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > m.maxBytes {
		return "", fmt.Errorf("media larger than %d bytes", m.maxBytes)
	}

	ext := extensionFor(remoteURL, resp.Header.Get("Content-Type"))
	return m.write(ext, data)
}

// SaveUpload stores an agent upload and returns its public link
func (m *MediaStore) SaveUpload(filename, contentType string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = extensionFor("", contentType)
	}
	name, err := m.write(ext, data)
	if err != nil {
		return "", err
	}
	return m.URL(name), nil
}

// ReadOwned returns the contents of a link previously produced by this store
func (m *MediaStore) ReadOwned(link string) (data []byte, name string, ok bool) {
	name, ok = m.ownedName(link)
	if !ok {
		return nil, "", false
	}
	data, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		return nil, "", false
	}
	return data, name, true
}

func (m *MediaStore) ownedName(link string) (string, bool) {
	rest, ok := strings.CutPrefix(link, m.publicURL+MediaRoute)
	if !ok || rest == "" || strings.ContainsAny(rest, `/\`) || strings.Contains(rest, "..") {
		return "", false
	}
	return rest, true
}

// mediaExtensions are the extensions stored files may keep. Anything else,
// markup and scripts included, is stored as .bin.
var mediaExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".mp4": true, ".mov": true, ".webm": true,
	".mp3": true, ".m4a": true, ".aac": true, ".ogg": true, ".wav": true,
	".pdf": true, ".txt": true, ".csv": true, ".zip": true,
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
}

func safeExtension(ext string) string {
	ext = strings.ToLower(ext)
	if mediaExtensions[ext] {
		return ext
	}
	return ".bin"
}

func (m *MediaStore) write(ext string, data []byte) (string, error) {
	name := uuid.NewString() + safeExtension(ext)
	if err := os.WriteFile(filepath.Join(m.dir, name), data, 0644); err != nil {
		return "", fmt.Errorf("writing media: %w", err)
	}
	return name, nil
}

// extensionFor prefers the URL path extension and falls back to the MIME type
func extensionFor(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); ext != "" && len(ext) <= 6 {
			return ext
		}
	}
	if contentType != "" {
		mediaType, _, _ := mime.ParseMediaType(contentType)
		exts, _ := mime.ExtensionsByType(mediaType)
		for _, ext := range exts {
			if mediaExtensions[ext] {
				return ext
			}
		}
	}
	return ".bin"
}

// ContentTypeFor guesses the MIME type of a stored file name
func ContentTypeFor(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
