package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const maxDetailBytes = 64 << 10

// ProviderError is a non-2xx response from an inference provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Detail     string
}

func (e *ProviderError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Detail)
}

func newProviderError(provider string, status int, body io.Reader) *ProviderError {
	b, _ := io.ReadAll(io.LimitReader(body, maxDetailBytes))
	return &ProviderError{Provider: provider, StatusCode: status, Detail: errorDetail(b)}
}

// errorDetail extracts a readable message from an error body: the provider's
// JSON error message, the text of an HTML error page, or the raw body.
func errorDetail(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}
	var eresp struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &eresp) == nil && len(eresp.Error) > 0 {
		var obj struct {
			Message string `json:"message"`
			Status  string `json:"status"`
			Type    string `json:"type"`
		}
		if json.Unmarshal(eresp.Error, &obj) == nil && obj.Message != "" {
			kind := obj.Status
			if kind == "" {
				kind = obj.Type
			}
			if kind != "" {
				return truncate(kind+": "+obj.Message, 512)
			}
			return truncate(obj.Message, 512)
		}
		var s string
		if json.Unmarshal(eresp.Error, &s) == nil && s != "" {
			return truncate(s, 512)
		}
	}
	if looksHTML(trimmed) {
		if txt := htmlText(trimmed); txt != "" {
			return truncate(txt, 512)
		}
	}
	return truncate(trimmed, 512)
}

func looksHTML(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "<!doctype html") || strings.Contains(l, "<html") || strings.Contains(l, "<body")
}

func htmlText(s string) string {
	node, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return ""
	}
	var b strings.Builder
	extractText(node, &b, false)
	return strings.Join(strings.Fields(b.String()), " ")
}

func extractText(n *html.Node, b *strings.Builder, inHidden bool) {
	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "script", "style", "noscript", "head":
			inHidden = true
		case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "title":
			b.WriteString(" ")
		}
	}
	if !inHidden && n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteString(" ")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, b, inHidden)
	}
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
