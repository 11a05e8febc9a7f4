package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"golang.org/x/time/rate"
)

const (
	TypePDF  = "pdf"
	TypeTXT  = "txt"
	TypeHTML = "html"
)

const DefaultMaxBytes = 20 << 20

type LoaderConfig struct {
	MaxBytes  int64
	Timeout   time.Duration
	RateLimit float64 // fetches per second
	UserAgent string
}

// Loader turns uploaded bytes, local files or URLs into documents.
type Loader struct {
	config  LoaderConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewWithConfig(config LoaderConfig) *Loader {
	if config.MaxBytes <= 0 {
		config.MaxBytes = DefaultMaxBytes
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if config.UserAgent == "" {
		config.UserAgent = "docqa/1.0"
	}

	return &Loader{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

func New() *Loader {
	return NewWithConfig(LoaderConfig{})
}

func (l *Loader) Config() LoaderConfig {
	return l.config
}

// TypeFromName maps a file name's extension to a document type, or "".
func TypeFromName(name string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "pdf":
		return TypePDF
	case "txt", "text", "md":
		return TypeTXT
	case "html", "htm":
		return TypeHTML
	default:
		return ""
	}
}

// Load picks the document type from name's extension.
func (l *Loader) Load(name string, data []byte) (*models.Document, error) {
	docType := TypeFromName(name)
	if docType == "" {
		return nil, fmt.Errorf("%w: %q", types.ErrUnsupportedFileType, filepath.Ext(name))
	}
	return l.LoadType(docType, name, data)
}

// LoadType extracts text from data of the declared type.
func (l *Loader) LoadType(docType, name string, data []byte) (*models.Document, error) {
	if int64(len(data)) > l.config.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", types.ErrDocumentTooLarge, len(data), l.config.MaxBytes)
	}

	var (
		content string
		err     error
	)
	kind := strings.ToLower(docType)
	switch kind {
	case TypePDF:
		content, err = extractPDF(data)
	case TypeTXT, "text":
		kind = TypeTXT
		content = sanitizeUTF8(string(data))
	case TypeHTML, "htm":
		kind = TypeHTML
		content, err = extractHTML(data)
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnsupportedFileType, docType)
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: %s", types.ErrEmptyDocument, name)
	}

	return &models.Document{
		Name:    name,
		Type:    kind,
		Content: content,
	}, nil
}

// LoadFile reads and loads a local file.
func (l *Loader) LoadFile(filePath string) (*models.Document, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", filePath, err)
	}
	if info.Size() > l.config.MaxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes", types.ErrDocumentTooLarge, filePath, info.Size())
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	return l.Load(filepath.Base(filePath), data)
}

// IsURL reports whether s looks like an http(s) URL rather than a path.
func IsURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Fetch downloads a single document. Links are not followed.
func (l *Loader) Fetch(ctx context.Context, rawURL string) (*models.Document, error) {
	if !IsURL(rawURL) {
		return nil, fmt.Errorf("%w: not an http(s) url: %s", types.ErrUnsupportedFileType, rawURL)
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", l.config.UserAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, rawURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.config.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > l.config.MaxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", types.ErrDocumentTooLarge, rawURL, l.config.MaxBytes)
	}

	docType := typeFromContentType(resp.Header.Get("Content-Type"))
	if docType == "" {
		docType = TypeFromName(resp.Request.URL.Path)
	}
	if docType == "" {
		return nil, fmt.Errorf("%w: %s (%s)", types.ErrUnsupportedFileType, rawURL, resp.Header.Get("Content-Type"))
	}

	doc, err := l.LoadType(docType, rawURL, data)
	if err != nil {
		return nil, err
	}
	if docType == TypeHTML {
		if title := htmlTitle(data); title != "" {
			doc.Name = title
		}
	} else if base := path.Base(resp.Request.URL.Path); base != "." && base != "/" {
		doc.Name = base
	}
	return doc, nil
}

func typeFromContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch mediaType {
	case "application/pdf":
		return TypePDF
	case "text/plain", "text/markdown":
		return TypeTXT
	case "text/html", "application/xhtml+xml":
		return TypeHTML
	default:
		return ""
	}
}

func extractPDF(data []byte) (text string, err error) {
	// the parser panics on some corrupt inputs
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %v", types.ErrMalformedPDF, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrMalformedPDF, err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", types.ErrMalformedPDF, i, err)
		}
		b.WriteString(sanitizeUTF8(pageText))
		b.WriteString("\n")
	}

	return b.String(), nil
}

var blockElements = "p, div, section, article, main, header, footer, li, tr, h1, h2, h3, h4, h5, h6, pre, blockquote, br"

var noisePatterns = []string{
	"Cookie Policy",
	"Accept Cookies",
	"Privacy Policy",
	"Terms of Service",
}

func extractHTML(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()

	return extractMainContent(doc), nil
}

func extractMainContent(doc *goquery.Document) string {
	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".documentation",
		"#documentation",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = blockText(selected)
			if strings.TrimSpace(content) != "" {
				break
			}
		}
	}

	if strings.TrimSpace(content) == "" {
		content = blockText(doc.Find("body"))
	}

	return cleanContent(content)
}

// blockBreak marks block ends while source newlines are folded into spaces.
const blockBreak = "\uE000"

// blockText returns the selection's text with a line break after every
// block element.
func blockText(sel *goquery.Selection) string {
	sel.Find(blockElements).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(blockBreak)
	})
	text := strings.ReplaceAll(sanitizeUTF8(sel.Text()), "\n", " ")
	return strings.ReplaceAll(text, blockBreak, "\n")
}

// cleanContent collapses whitespace within lines and drops empty lines and
// boilerplate phrases.
func cleanContent(content string) string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		for _, pattern := range noisePatterns {
			line = strings.ReplaceAll(line, pattern, "")
		}
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func htmlTitle(data []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// sanitizeUTF8 drops invalid byte sequences.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
