package websearch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// maxExtractBodyBytes bounds how much of a fetched page is read into memory
// before extraction runs.
const maxExtractBodyBytes = 10 * 1024 * 1024

// maxExtractChars bounds the extracted content web_fetch hands back before
// its own max_chars truncation is applied.
const maxExtractChars = 10000

// blockedTags are stripped from the document before any text extraction
// runs: none of them carry reader-facing content.
var blockedTags = []string{"script", "style", "noscript", "iframe", "nav", "header", "footer", "aside"}

// blockElements are replaced with a newline during text extraction so
// paragraph and list boundaries survive tag stripping.
var blockElements = []string{"p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "li", "br"}

var (
	titleTagRe       = regexp.MustCompile(`(?i)<title[^>]*>(.*?)</title>`)
	ogTitleRe        = regexp.MustCompile(`(?i)<meta[^>]*property=["']og:title["'][^>]*content=["']([^"']*)["']`)
	h1Re             = regexp.MustCompile(`(?i)<h1[^>]*>(.*?)</h1>`)
	metaDescRe       = regexp.MustCompile(`(?i)<meta[^>]*name=["']description["'][^>]*content=["']([^"']*)["']`)
	ogDescRe         = regexp.MustCompile(`(?i)<meta[^>]*property=["']og:description["'][^>]*content=["']([^"']*)["']`)
	bodyRe           = regexp.MustCompile(`(?is)<body[^>]*>(.*?)</body>`)
	anyTagRe         = regexp.MustCompile(`<[^>]*>`)
	collapseSpacesRe = regexp.MustCompile(`[^\S\n]+`)
	collapseBlankRe  = regexp.MustCompile(`\n{3,}`)

	mainContainerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<main[^>]*>(.*?)</main>`),
		regexp.MustCompile(`(?is)<article[^>]*>(.*?)</article>`),
		regexp.MustCompile(`(?is)<div[^>]*class=["'][^"']*content[^"']*["'][^>]*>(.*?)</div>`),
		regexp.MustCompile(`(?is)<div[^>]*class=["'][^"']*article[^"']*["'][^>]*>(.*?)</div>`),
		regexp.MustCompile(`(?is)<div[^>]*id=["']content["'][^>]*>(.*?)</div>`),
		regexp.MustCompile(`(?is)<div[^>]*id=["']main["'][^>]*>(.*?)</div>`),
		regexp.MustCompile(`(?is)<div[^>]*role=["']main["'][^>]*>(.*?)</div>`),
	}
)

// FetchError wraps a failure from one stage of ContentExtractor.Extract,
// giving web_fetch a single error shape to report back to the model
// regardless of whether the target was rejected, unreachable, or
// unreadable, mirroring the conversation agent's own named-error-type
// convention for errors that cross a component boundary.
type FetchError struct {
	URL   string
	Stage string
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Stage, e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// ContentExtractor fetches a page and reduces it to its readable text: a
// title, an optional description, and a best-effort main-content body, with
// boilerplate (nav/script/style/etc.) stripped out. It is the shared
// backend for web_fetch.
type ContentExtractor struct {
	httpClient    *http.Client
	skipSSRFCheck bool
}

// NewContentExtractor builds an extractor with SSRF protection enabled.
func NewContentExtractor() *ContentExtractor {
	return &ContentExtractor{httpClient: &http.Client{Timeout: 15 * time.Second}}
}

// NewContentExtractorForTesting builds an extractor that allows localhost
// targets, for tests driving an httptest.Server.
func NewContentExtractorForTesting() *ContentExtractor {
	return &ContentExtractor{
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		skipSSRFCheck: true,
	}
}

// isPrivateOrReservedIP reports whether ip must not be reachable from this
// process: loopback, link-local, private, unspecified, multicast, or the
// cloud metadata address.
func isPrivateOrReservedIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() || ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}
	return ip.Equal(net.ParseIP("169.254.169.254"))
}

// validateURLForSSRF rejects non-HTTP(S) schemes, localhost-style
// hostnames, and hostnames that resolve to a private or reserved address,
// so web_fetch can't be used to probe the host's internal network.
func validateURLForSSRF(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", parsed.Scheme)
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("URL must have a hostname")
	}
	lowerHost := strings.ToLower(hostname)
	if lowerHost == "localhost" || strings.HasSuffix(lowerHost, ".localhost") {
		return fmt.Errorf("localhost URLs are not allowed")
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		// Resolution failure: let the fetch itself fail rather than guess.
		return nil
	}
	for _, ip := range ips {
		if isPrivateOrReservedIP(ip) {
			return fmt.Errorf("URL resolves to private/reserved IP address")
		}
	}
	return nil
}

// Extract fetches targetURL and returns its readable content, capped at
// maxExtractChars. Every failure is reported as a *FetchError naming the
// pipeline stage it occurred in.
func (e *ContentExtractor) Extract(ctx context.Context, targetURL string) (string, error) {
	if !e.skipSSRFCheck {
		if err := validateURLForSSRF(targetURL); err != nil {
			return "", &FetchError{URL: targetURL, Stage: "validate", Cause: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return "", &FetchError{URL: targetURL, Stage: "build request", Cause: err}
	}
	req.Header.Set("User-Agent", "chatd-agent/1.0 (+web_fetch tool)")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", &FetchError{URL: targetURL, Stage: "request", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &FetchError{URL: targetURL, Stage: "request", Cause: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "text/plain") {
		return "", &FetchError{URL: targetURL, Stage: "content-type", Cause: fmt.Errorf("unsupported content type: %s", contentType)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxExtractBodyBytes))
	if err != nil {
		return "", &FetchError{URL: targetURL, Stage: "read body", Cause: err}
	}

	content := readableContent(string(body))
	if len(content) > maxExtractChars {
		content = content[:maxExtractChars] + "..."
	}
	return content, nil
}

// readableContent runs the simplified readability pipeline: strip
// boilerplate tags, pull title/description, locate the main content block
// (falling back to the whole body), and normalize whitespace.
func readableContent(html string) string {
	for _, tag := range blockedTags {
		html = stripTag(html, tag)
	}

	title := firstMatch(html, titleTagRe, ogTitleRe, h1Re)
	description := firstMatch(html, metaDescRe, ogDescRe)

	content := mainContent(html)
	if content == "" {
		content = bodyContent(html)
	}
	content = normalizeText(content)

	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "Title: %s\n\n", title)
	}
	if description != "" {
		fmt.Fprintf(&b, "Description: %s\n\n", description)
	}
	b.WriteString(content)
	return b.String()
}

func stripTag(html, tag string) string {
	re := regexp.MustCompile(`(?i)<` + tag + `[^>]*>.*?</` + tag + `>`)
	return re.ReplaceAllString(html, "")
}

// firstMatch returns the cleaned text of the first pattern (in order) that
// matches html, or "" if none do.
func firstMatch(html string, patterns ...*regexp.Regexp) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(html); len(m) > 1 {
			return normalizeText(m[1])
		}
	}
	return ""
}

// mainContent looks for a recognizable content container (main, article, a
// content/article class or id) and returns its extracted text, requiring
// at least 200 characters so a near-empty container doesn't win over the
// body fallback.
func mainContent(html string) string {
	for _, re := range mainContainerPatterns {
		m := re.FindStringSubmatch(html)
		if len(m) < 2 {
			continue
		}
		text := stripTags(m[1])
		if len(strings.TrimSpace(text)) > 200 {
			return text
		}
	}
	return ""
}

func bodyContent(html string) string {
	m := bodyRe.FindStringSubmatch(html)
	if len(m) < 2 {
		return ""
	}
	return stripTags(m[1])
}

// stripTags converts block-level tags to newlines and removes everything
// else, leaving plain text with paragraph structure intact.
func stripTags(html string) string {
	for _, tag := range blockElements {
		open := regexp.MustCompile(`(?i)<` + tag + `[^>]*>`)
		html = open.ReplaceAllString(html, "\n")
		closeTag := regexp.MustCompile(`(?i)</` + tag + `>`)
		html = closeTag.ReplaceAllString(html, "\n")
	}
	return anyTagRe.ReplaceAllString(html, "")
}

var htmlEntities = map[string]string{
	"&nbsp;": " ",
	"&amp;":  "&",
	"&lt;":   "<",
	"&gt;":   ">",
	"&quot;": "\"",
	"&#39;":  "'",
	"&apos;": "'",
}

// normalizeText decodes common HTML entities, collapses runs of
// whitespace within a line, caps blank lines at one, and trims the result.
func normalizeText(text string) string {
	for entity, replacement := range htmlEntities {
		text = strings.ReplaceAll(text, entity, replacement)
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(collapseSpacesRe.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")

	text = collapseBlankRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// maxExtractBatchConcurrency limits concurrent extractions in ExtractBatch.
const maxExtractBatchConcurrency = 5

// ExtractBatch extracts content from multiple URLs concurrently, bounded
// by maxExtractBatchConcurrency. URLs that fail to extract are omitted
// from the result rather than surfaced as partial errors.
func (e *ContentExtractor) ExtractBatch(ctx context.Context, urls []string) map[string]string {
	type outcome struct {
		url     string
		content string
	}
	out := make(chan outcome, len(urls))
	sem := make(chan struct{}, maxExtractBatchConcurrency)

	for _, u := range urls {
		sem <- struct{}{}
		go func(targetURL string) {
			defer func() { <-sem }()
			content, err := e.Extract(ctx, targetURL)
			if err != nil {
				content = ""
			}
			out <- outcome{url: targetURL, content: content}
		}(u)
	}

	results := make(map[string]string, len(urls))
	for range urls {
		o := <-out
		if o.content != "" {
			results[o.url] = o.content
		}
	}
	return results
}
