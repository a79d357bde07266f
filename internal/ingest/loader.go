package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// Reader extracts text from one downloaded document format. PDF, Word and
// email readers plug in here; formats without a registered reader fall back
// to plain-text decoding.
type Reader interface {
	Read(data []byte, source string) ([]Document, error)
}

// Loader downloads a document by URL and extracts its text.
type Loader struct {
	client  *http.Client
	readers map[string]Reader
	logger  *log.Logger
}

// NewLoader creates a loader with the given network timeout.
func NewLoader(timeout time.Duration) *Loader {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	l := &Loader{
		client:  &http.Client{Timeout: timeout},
		readers: map[string]Reader{},
		logger:  log.New(log.Writer(), "[LOADER] ", log.LstdFlags),
	}
	l.readers[".html"] = htmlReader{}
	l.readers[".htm"] = htmlReader{}
	return l
}

// RegisterReader installs a reader for a file extension such as ".pdf".
func (l *Loader) RegisterReader(ext string, r Reader) {
	l.readers[strings.ToLower(ext)] = r
}

// LoadFromURL downloads the document and returns its extracted text. The
// declared type is taken from the URL path extension, then the response
// Content-Type; anything unrecognised decodes as raw text.
func (l *Loader) LoadFromURL(ctx context.Context, rawURL string) ([]Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building download request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading document: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading document body: %w", err)
	}

	ext := extensionFor(rawURL, resp.Header.Get("Content-Type"))
	if r, ok := l.readers[ext]; ok {
		docs, err := r.Read(data, rawURL)
		if err == nil {
			l.logger.Printf("loaded %s as %s (%d documents)", rawURL, ext, len(docs))
			return docs, nil
		}
		l.logger.Printf("reader for %s failed on %s: %v, falling back to plain text", ext, rawURL, err)
	}

	return []Document{{
		Text:     string(data),
		Source:   rawURL,
		FileType: ext,
	}}, nil
}

func extensionFor(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); ext != "" {
			return ext
		}
	}
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			if exts, _ := mime.ExtensionsByType(mt); len(exts) > 0 {
				return exts[0]
			}
		}
	}
	return ""
}

// htmlReader extracts the readable article body from HTML pages.
type htmlReader struct{}

func (htmlReader) Read(data []byte, source string) ([]Document, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, err
	}
	article, err := readability.FromReader(bytes.NewReader(data), u)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(article.TextContent) == "" {
		return nil, fmt.Errorf("no readable content in %s", source)
	}
	return []Document{{
		Text:     article.TextContent,
		Source:   source,
		FileType: ".html",
	}}, nil
}
