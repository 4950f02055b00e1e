// Package web fetches a URL and extracts its title and readable text so a
// page can be fed through the indexing pipeline.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/voxidesk/voxidesk/internal/index"
)

// ConnectorID identifies documents ingested by web crawl.
const ConnectorID = "web"

// maxBodyBytes caps the fetched page size.
const maxBodyBytes = 4 << 20

// Fetcher retrieves and extracts web pages.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher with a 30-second request timeout.
func NewFetcher() *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: 30 * time.Second}}
}

// Fetch downloads url and returns a raw document with the page title and
// visible text (script and style content excluded).
func (f *Fetcher) Fetch(ctx context.Context, url string) (index.RawDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return index.RawDocument{}, fmt.Errorf("creating request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", "voxidesk/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return index.RawDocument{}, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return index.RawDocument{}, fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	doc, err := Parse(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return index.RawDocument{}, fmt.Errorf("parsing %s: %w", url, err)
	}

	title := doc.Title
	if title == "" {
		title = url
	}
	return index.RawDocument{
		SourceID: url,
		Title:    title,
		Content:  doc.Text,
		Metadata: map[string]string{"url": url},
	}, nil
}

// Page is the extracted form of an HTML document.
type Page struct {
	Title string
	Text  string
}

// Parse extracts the title and visible text from an HTML stream.
func Parse(r io.Reader) (Page, error) {
	root, err := html.Parse(r)
	if err != nil {
		return Page{}, err
	}

	var page Page
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if page.Title == "" && n.FirstChild != nil {
					page.Title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)

	page.Text = sb.String()
	return page, nil
}
