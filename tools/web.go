package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/m4xw311/spark/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	braveSearchURL   = "https://api.search.brave.com/res/v1/web/search"
	defaultFetchMax  = 20000
	maxFetchBodySize = 5 << 20
	userAgent        = "Mozilla/5.0 (compatible; Spark/1.0)"
)

// WebSearchTool queries the Brave Search API.
type WebSearchTool struct {
	apiKey     string
	maxResults int
	endpoint   string
	client     *http.Client
}

func NewWebSearchTool(apiKey string, maxResults int) *WebSearchTool {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &WebSearchTool{
		apiKey:     apiKey,
		maxResults: maxResults,
		endpoint:   braveSearchURL,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Search the web and return results with titles, URLs, and snippets."
}
func (t *WebSearchTool) Parameters() map[string]any {
	return ObjectSchema(map[string]any{
		"query": Prop("string", "Search query"),
		"count": Prop("integer", "Number of results (1-10, default 5)"),
	}, "query")
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, ok := stringArg(args, "query")
	if !ok {
		return "", errors.New("missing or invalid 'query' argument")
	}
	if t.apiKey == "" {
		return "Error: Brave Search API key not configured", nil
	}
	count := min(10, max(1, intArg(args, "count", t.maxResults)))

	q := url.Values{}
	q.Set("q", query)
	q.Set("count", fmt.Sprint(count))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", errors.Wrapf(err, "building search request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Search failed: %s", err), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Sprintf("Search API error: %d", resp.StatusCode), nil
	}

	var data braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return fmt.Sprintf("Search failed: %s", err), nil
	}
	results := data.Web.Results
	if len(results) == 0 {
		return "No results found.", nil
	}
	if len(results) > count {
		results = results[:count]
	}
	var b strings.Builder
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = "No title"
		}
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n\n", i+1, title, r.URL, r.Description)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// WebFetchTool downloads a page and returns its readable text.
type WebFetchTool struct {
	maxChars int
	client   *http.Client
}

func NewWebFetchTool(maxChars int) *WebFetchTool {
	if maxChars <= 0 {
		maxChars = defaultFetchMax
	}
	return &WebFetchTool{maxChars: maxChars, client: &http.Client{Timeout: 30 * time.Second}}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }
func (t *WebFetchTool) Description() string {
	return "Fetch a web page and extract its readable text content."
}
func (t *WebFetchTool) Parameters() map[string]any {
	return ObjectSchema(map[string]any{
		"url":       Prop("string", "URL to fetch"),
		"max_chars": Prop("integer", "Maximum characters to return"),
	}, "url")
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	rawURL, ok := stringArg(args, "url")
	if !ok {
		return "", errors.New("missing or invalid 'url' argument")
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Sprintf("Error: unsupported URL: %s", rawURL), nil
	}
	maxChars := intArg(args, "max_chars", t.maxChars)
	if maxChars <= 0 {
		maxChars = t.maxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", errors.Wrapf(err, "building fetch request")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Fetch failed: %s", err), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Sprintf("HTTP error: %d", resp.StatusCode), nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodySize))
	if err != nil {
		return fmt.Sprintf("Fetch failed: %s", err), nil
	}

	text := string(body)
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "html") {
		text = ExtractText(body)
	}
	if cut, ok := truncateRunes(text, maxChars); ok {
		text = cut + "\n... (truncated)"
	}
	return text, nil
}

var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Svg:      true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Head:     true,
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Header: true, atom.Footer: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Pre: true, atom.Blockquote: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
}

var (
	spaceRun   = regexp.MustCompile(`[ \t\r\f\v]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

// ExtractText returns the visible text of an HTML document.
func ExtractText(raw []byte) string {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}
	var b strings.Builder
	walkText(doc, &b)

	lines := strings.Split(b.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
	}
	return strings.TrimSpace(newlineRun.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

func walkText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if skipElements[n.DataAtom] {
			return
		}
		block := blockElements[n.DataAtom]
		if block {
			b.WriteString("\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walkText(c, b)
		}
		if block || n.DataAtom == atom.Br {
			b.WriteString("\n")
		}
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walkText(c, b)
		}
	}
}
