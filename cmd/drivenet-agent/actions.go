// ABOUTME: File-system actions served by the reference agent
// ABOUTME: Directory listing, mkdir, delete, stats, uploads, and streaming downloads

package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// chunkBytes is the raw size of one stream chunk before base64.
const chunkBytes = 256 << 10

var errPathEscape = errors.New("path escapes the served directory")

type fileServer struct {
	root string
}

// resolve maps a request path onto the served directory, rejecting
// escapes. Request paths are rooted at "/" from the client's view.
func (f *fileServer) resolve(requestPath string) (string, error) {
	cleaned := filepath.Clean("/" + strings.TrimPrefix(requestPath, "/"))
	full := filepath.Join(f.root, cleaned)

	rootAbs, err := filepath.Abs(f.root)
	if err != nil {
		return "", err
	}
	fullAbs, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if fullAbs != rootAbs && !strings.HasPrefix(fullAbs, rootAbs+string(filepath.Separator)) {
		return "", errPathEscape
	}
	return fullAbs, nil
}

type fileEntry struct {
	Name     string `json:"name"`
	IsDir    bool   `json:"isDir"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
}

func (f *fileServer) list(payload map[string]any) (any, error) {
	dir, err := f.resolve(stringField(payload, "path"))
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]fileEntry, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileEntry{
			Name:     entry.Name(),
			IsDir:    entry.IsDir(),
			Size:     info.Size(),
			Modified: info.ModTime().UTC().Format(time.RFC3339),
		})
	}
	return map[string]any{"files": files}, nil
}

func (f *fileServer) mkdir(payload map[string]any) (any, error) {
	name := stringField(payload, "name")
	if name == "" {
		return nil, errors.New("name is required")
	}
	dir, err := f.resolve(filepath.Join(stringField(payload, "path"), name))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return map[string]any{"created": true}, nil
}

func (f *fileServer) remove(payload map[string]any) (any, error) {
	target, err := f.resolve(stringField(payload, "path"))
	if err != nil {
		return nil, err
	}
	rootAbs, _ := filepath.Abs(f.root)
	if target == rootAbs {
		return nil, errors.New("refusing to delete the served directory")
	}
	if err := os.RemoveAll(target); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": true}, nil
}

func (f *fileServer) stats() (any, error) {
	hostname, _ := os.Hostname()
	var total, count int64
	err := filepath.WalkDir(f.root, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
			count++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"hostname":   hostname,
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"fileCount":  count,
		"totalBytes": total,
	}, nil
}

func (f *fileServer) upload(payload map[string]any) (any, error) {
	name := stringField(payload, "name")
	if name == "" {
		return nil, errors.New("name is required")
	}
	data, err := base64.StdEncoding.DecodeString(stringField(payload, "data"))
	if err != nil {
		return nil, fmt.Errorf("decoding upload data: %w", err)
	}

	target, err := f.resolve(filepath.Join(stringField(payload, "path"), name))
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		return nil, err
	}
	return map[string]any{"written": len(data)}, nil
}

// uploadChunk appends one piece of a large file. The first chunk (offset
// 0) truncates any existing file of the same name.
func (f *fileServer) uploadChunk(payload map[string]any) (any, error) {
	name := stringField(payload, "name")
	if name == "" {
		return nil, errors.New("name is required")
	}
	data, err := base64.StdEncoding.DecodeString(stringField(payload, "data"))
	if err != nil {
		return nil, fmt.Errorf("decoding chunk data: %w", err)
	}

	target, err := f.resolve(filepath.Join(stringField(payload, "path"), name))
	if err != nil {
		return nil, err
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if offset, ok := payload["offset"].(float64); ok && offset == 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	file, err := os.OpenFile(target, flags, 0644)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	return map[string]any{"size": info.Size()}, nil
}

// download streams a whole file as start/chunk/end frames.
func (f *fileServer) download(payload map[string]any, w *frameWriter) error {
	target, err := f.resolve(stringField(payload, "path"))
	if err != nil {
		return err
	}
	file, err := os.Open(target)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errors.New("cannot download a directory")
	}

	headers := map[string]string{
		"Content-Type":        contentType(target),
		"Content-Length":      strconv.FormatInt(info.Size(), 10),
		"Content-Disposition": `attachment; filename="` + filepath.Base(target) + `"`,
	}
	if err := w.start(200, headers); err != nil {
		return err
	}
	if err := copyChunks(w, file); err != nil {
		return err
	}
	return w.end()
}

// stream serves media with single-range support so video players can seek.
func (f *fileServer) stream(payload map[string]any, w *frameWriter) error {
	target, err := f.resolve(stringField(payload, "path"))
	if err != nil {
		return err
	}
	file, err := os.Open(target)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	start, end, ranged := parseRange(requestHeader(payload, "Range"), size)
	var reader io.Reader = file
	status := 200
	headers := map[string]string{
		"Content-Type":   contentType(target),
		"Accept-Ranges":  "bytes",
		"Content-Length": strconv.FormatInt(size, 10),
	}
	if ranged {
		if _, err := file.Seek(start, io.SeekStart); err != nil {
			return err
		}
		reader = io.LimitReader(file, end-start+1)
		status = 206
		headers["Content-Length"] = strconv.FormatInt(end-start+1, 10)
		headers["Content-Range"] = fmt.Sprintf("bytes %d-%d/%d", start, end, size)
	}

	if err := w.start(status, headers); err != nil {
		return err
	}
	if err := copyChunks(w, reader); err != nil {
		return err
	}
	return w.end()
}

// copyChunks reads the source and emits base64 chunk frames.
func copyChunks(w *frameWriter, r io.Reader) error {
	buf := make([]byte, chunkBytes)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if sendErr := w.chunk(base64.StdEncoding.EncodeToString(buf[:n])); sendErr != nil {
				return sendErr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// requestHeader reads one echoed HTTP header out of a relay payload.
func requestHeader(payload map[string]any, key string) string {
	headers, ok := payload["headers"].(map[string]any)
	if !ok {
		return ""
	}
	value, _ := headers[key].(string)
	return value
}

// parseRange parses a single "bytes=start-end" range header. Unsatisfiable
// or multi-range requests fall back to the full body.
func parseRange(header string, size int64) (start, end int64, ok bool) {
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(spec, ",") {
		return 0, 0, false
	}
	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, false
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}

	end = size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return 0, 0, false
		}
		if end >= size {
			end = size - 1
		}
	}
	return start, end, true
}

func contentType(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
