package loaders

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"qresponder/internal/docs"
)

var (
	textExtensions = map[string]bool{".md": true, ".markdown": true, ".txt": true, ".csv": true, ".tsv": true}
	// binaryExtensions are recognised document formats that cannot be inlined as text.
	binaryExtensions = map[string]bool{".pdf": true, ".xlsx": true, ".xls": true, ".ods": true, ".docx": true}

	sourceURLComment = regexp.MustCompile(`(?m)^\s*<!--\s*SOURCE_URL:\s*(\S+)\s*-->\s*$`)
)

// urlMappingFile maps processed file names to their published URLs.
const urlMappingFile = "url_mapping.json"

const fingerprintChunk = 8 << 10

// LocalDir loads text documents from a directory tree.
type LocalDir struct {
	Root string
	// MaxFileBytes skips larger files (0 = 10 MiB).
	MaxFileBytes int64
	Logger       *slog.Logger
}

func (l *LocalDir) Describe() string { return "dir:" + l.Root }

func (l *LocalDir) Load(ctx context.Context) ([]docs.Document, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxBytes := l.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}

	info, err := os.Stat(l.Root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", l.Root)
	}

	urlMap, err := readURLMapping(filepath.Join(l.Root, urlMappingFile))
	if err != nil {
		logger.Warn("ignoring unreadable url mapping", "path", urlMappingFile, "error", err)
	}

	var paths []string
	err = filepath.WalkDir(l.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if p != l.Root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		switch {
		case textExtensions[ext]:
			paths = append(paths, p)
		case binaryExtensions[ext]:
			logger.Warn("skipping binary document; convert it to text to include it", "path", p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	baseCount := map[string]int{}
	for _, p := range paths {
		baseCount[filepath.Base(p)]++
	}

	out := make([]docs.Document, 0, len(paths))
	for _, p := range paths {
		rel, _ := filepath.Rel(l.Root, p)
		rel = filepath.ToSlash(rel)
		name := path.Base(rel)
		if baseCount[name] > 1 {
			name = rel
		}

		doc, err := readLocalDocument(p, name, maxBytes)
		if err != nil {
			if errors.Is(err, errNotText) || errors.Is(err, errTooLarge) {
				logger.Warn("skipping document", "path", p, "reason", err)
				continue
			}
			return nil, err
		}
		if doc.SourceURL == "" {
			doc.SourceURL = urlMap[name]
		}
		out = append(out, doc)
	}
	return out, nil
}

var (
	errNotText  = errors.New("content is not text")
	errTooLarge = errors.New("file too large")
)

func readLocalDocument(p, name string, maxBytes int64) (docs.Document, error) {
	f, err := os.Open(p)
	if err != nil {
		return docs.Document{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return docs.Document{}, err
	}
	if info.Size() > maxBytes {
		return docs.Document{}, fmt.Errorf("%w: %d bytes", errTooLarge, info.Size())
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return docs.Document{}, err
	}
	if !isText(data) {
		return docs.Document{}, errNotText
	}

	doc := docs.Document{
		Name:        name,
		Kind:        docs.KindDocument,
		Fingerprint: Fingerprint(info, data),
		Content:     string(data),
	}
	if m := sourceURLComment.FindSubmatch(data); m != nil {
		doc.SourceURL = string(m[1])
	}
	return doc, nil
}

func isText(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// Fingerprint identifies a file version by size, mtime and its first and last 8 KiB.
func Fingerprint(info fs.FileInfo, data []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%d:", info.Size(), info.ModTime().UnixNano())
	head := data
	if len(head) > fingerprintChunk {
		head = head[:fingerprintChunk]
	}
	h.Write(head)
	if len(data) > 2*fingerprintChunk {
		h.Write(data[len(data)-fingerprintChunk:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func readURLMapping(p string) (map[string]string, error) {
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", p, err)
	}
	return m, nil
}
