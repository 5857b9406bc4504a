// ABOUTME: Tests for the reference agent's file-system actions
// ABOUTME: Path containment, listing, chunked uploads, range parsing, frame emission

package main

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFS(t *testing.T) *fileServer {
	t.Helper()
	return &fileServer{root: t.TempDir()}
}

// collectFrames captures emitted frames instead of sending them.
type collectFrames struct {
	started bool
	status  int
	headers map[string]string
	body    []byte
	ended   bool
}

func collector(t *testing.T) (*frameWriter, *collectFrames) {
	t.Helper()
	c := &collectFrames{}
	w := &frameWriter{requestID: "req-1", send: func(v any) error {
		msg := v.(map[string]any)
		payload := msg["payload"].(map[string]any)
		switch payload["type"] {
		case "start":
			c.started = true
			c.status = payload["statusCode"].(int)
			c.headers = payload["headers"].(map[string]string)
		case "chunk":
			data, err := base64.StdEncoding.DecodeString(payload["data"].(string))
			require.NoError(t, err)
			c.body = append(c.body, data...)
		case "end":
			c.ended = true
		}
		return nil
	}}
	return w, c
}

func TestResolve_RejectsEscapes(t *testing.T) {
	fs := testFS(t)

	_, err := fs.resolve("../outside")
	assert.NoError(t, err, "leading .. is cleaned against the virtual root")

	for _, path := range []string{"a/../../etc/passwd", "/../../x"} {
		resolved, err := fs.resolve(path)
		if err == nil {
			// Cleaning may neutralize the escape; the result must stay inside.
			rootAbs, _ := filepath.Abs(fs.root)
			assert.Contains(t, resolved, rootAbs)
		}
	}
}

func TestListAndMkdir(t *testing.T) {
	fs := testFS(t)

	_, err := fs.mkdir(map[string]any{"path": "/", "name": "photos"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(fs.root, "a.txt"), []byte("hi"), 0644))

	result, err := fs.list(map[string]any{"path": "/"})
	require.NoError(t, err)

	files := result.(map[string]any)["files"].([]fileEntry)
	require.Len(t, files, 2)

	byName := map[string]fileEntry{}
	for _, f := range files {
		byName[f.Name] = f
	}
	assert.True(t, byName["photos"].IsDir)
	assert.False(t, byName["a.txt"].IsDir)
	assert.Equal(t, int64(2), byName["a.txt"].Size)
}

func TestRemove(t *testing.T) {
	fs := testFS(t)
	require.NoError(t, os.WriteFile(filepath.Join(fs.root, "doomed.txt"), []byte("x"), 0644))

	_, err := fs.remove(map[string]any{"path": "/doomed.txt"})
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(fs.root, "doomed.txt"))

	_, err = fs.remove(map[string]any{"path": "/"})
	assert.Error(t, err, "the served directory itself is protected")
}

func TestUploadChunked(t *testing.T) {
	fs := testFS(t)

	chunk := func(data string, offset float64) map[string]any {
		return map[string]any{
			"path":   "/",
			"name":   "big.bin",
			"data":   base64.StdEncoding.EncodeToString([]byte(data)),
			"offset": offset,
		}
	}

	_, err := fs.uploadChunk(chunk("hello ", 0))
	require.NoError(t, err)
	result, err := fs.uploadChunk(chunk("world", 6))
	require.NoError(t, err)
	assert.Equal(t, int64(11), result.(map[string]any)["size"])

	content, err := os.ReadFile(filepath.Join(fs.root, "big.bin"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))

	// Offset 0 restarts the file.
	_, err = fs.uploadChunk(chunk("fresh", 0))
	require.NoError(t, err)
	content, err = os.ReadFile(filepath.Join(fs.root, "big.bin"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(content))
}

func TestDownloadFrames(t *testing.T) {
	fs := testFS(t)
	require.NoError(t, os.WriteFile(filepath.Join(fs.root, "movie.mp4"), []byte("mp4-bytes"), 0644))

	w, c := collector(t)
	require.NoError(t, fs.download(map[string]any{"path": "/movie.mp4"}, w))

	assert.True(t, c.started)
	assert.True(t, c.ended)
	assert.Equal(t, 200, c.status)
	assert.Equal(t, "mp4-bytes", string(c.body))
	assert.Equal(t, "9", c.headers["Content-Length"])
	assert.Contains(t, c.headers["Content-Disposition"], "movie.mp4")
}

func TestStreamWithRange(t *testing.T) {
	fs := testFS(t)
	require.NoError(t, os.WriteFile(filepath.Join(fs.root, "media.bin"), []byte("0123456789"), 0644))

	w, c := collector(t)
	payload := map[string]any{
		"path":    "/media.bin",
		"headers": map[string]any{"Range": "bytes=2-5"},
	}
	require.NoError(t, fs.stream(payload, w))

	assert.Equal(t, 206, c.status)
	assert.Equal(t, "2345", string(c.body))
	assert.Equal(t, "bytes 2-5/10", c.headers["Content-Range"])
	assert.Equal(t, "4", c.headers["Content-Length"])
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		header     string
		size       int64
		start, end int64
		ok         bool
	}{
		{"bytes=0-499", 1000, 0, 499, true},
		{"bytes=500-", 1000, 500, 999, true},
		{"bytes=0-9999", 1000, 0, 999, true},
		{"bytes=1000-", 1000, 0, 0, false},
		{"bytes=5-2", 1000, 0, 0, false},
		{"bytes=0-10,20-30", 1000, 0, 0, false},
		{"", 1000, 0, 0, false},
		{"items=0-5", 1000, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			start, end, ok := parseRange(tt.header, tt.size)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.start, start)
				assert.Equal(t, tt.end, end)
			}
		})
	}
}

func TestStats(t *testing.T) {
	fs := testFS(t)
	require.NoError(t, os.WriteFile(filepath.Join(fs.root, "a.txt"), []byte("12345"), 0644))

	result, err := fs.stats()
	require.NoError(t, err)

	stats := result.(map[string]any)
	assert.Equal(t, int64(1), stats["fileCount"])
	assert.Equal(t, int64(5), stats["totalBytes"])
}
