package network

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/chrisuehlinger/overlaykit/dom"
)

// maxParallelFetches bounds concurrent script downloads for one page.
const maxParallelFetches = 4

// Resource is a loaded page or script.
type Resource struct {
	URL         string
	Content     []byte
	ContentType string
	Charset     string
}

// Loader reads resources by URL. file: URLs come from disk, data: URLs
// are decoded in place and http(s) URLs go through the client.
type Loader struct {
	client *Client
	logger *slog.Logger
}

// NewLoader creates a loader. A nil logger uses slog.Default().
func NewLoader(client *Client, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{client: client, logger: logger}
}

// Load fetches an absolute URL.
func (l *Loader) Load(ctx context.Context, urlStr string) (*Resource, error) {
	if IsDataURL(urlStr) {
		d, err := ParseDataURL(urlStr)
		if err != nil {
			return nil, err
		}
		return &Resource{URL: urlStr, Content: d.Data, ContentType: d.MediaType, Charset: d.Charset}, nil
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", urlStr, err)
	}
	switch u.Scheme {
	case "file":
		content, err := os.ReadFile(u.Path)
		if err != nil {
			return nil, err
		}
		return &Resource{URL: urlStr, Content: content, ContentType: GuessContentType(urlStr)}, nil
	case "http", "https":
		resp, err := l.client.Get(ctx, urlStr)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("GET %s: HTTP %d", urlStr, resp.StatusCode)
		}
		mediaType, charset := ParseContentType(resp.ContentType)
		return &Resource{URL: resp.URL.String(), Content: resp.Body, ContentType: mediaType, Charset: charset}, nil
	default:
		return nil, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
}

// Script is one script element of a page, in document order.
type Script struct {
	// Source names the script in error messages: its URL, or the page URL
	// with an index for inline scripts.
	Source string
	Code   string
	Inline bool
	// Err is set when an external script could not be fetched.
	Err error
}

// Page is a parsed document and its scripts.
type Page struct {
	URL     string
	Doc     *dom.Document
	Scripts []Script
}

// LoadPage fetches and parses a page, then fetches the external scripts it
// references concurrently. Failed script fetches are reported on the
// Script, not as an error.
func (l *Loader) LoadPage(ctx context.Context, urlStr string) (*Page, error) {
	res, err := l.Load(ctx, urlStr)
	if err != nil {
		return nil, err
	}
	doc, err := dom.ParseHTMLReader(bytes.NewReader(res.Content))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", res.URL, err)
	}
	page := &Page{URL: res.URL, Doc: doc}

	type pending struct {
		index int
		url   string
	}
	var fetches []pending
	doc.Lock()
	for _, el := range doc.QuerySelectorAll("script") {
		if !IsJavaScriptType(el.GetAttribute("type")) {
			continue
		}
		src := el.GetAttribute("src")
		if src == "" {
			page.Scripts = append(page.Scripts, Script{
				Source: fmt.Sprintf("%s#script%d", res.URL, len(page.Scripts)),
				Code:   el.TextContent(),
				Inline: true,
			})
			continue
		}
		resolved, err := ResolveURL(res.URL, src)
		page.Scripts = append(page.Scripts, Script{Source: resolved, Err: err})
		if err == nil {
			fetches = append(fetches, pending{index: len(page.Scripts) - 1, url: resolved})
		}
	}
	doc.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetches)
	for _, f := range fetches {
		g.Go(func() error {
			script, err := l.Load(gctx, f.url)
			if err != nil {
				l.logger.Warn("script fetch failed", "url", f.url, "error", err)
				page.Scripts[f.index].Err = err
				return nil
			}
			page.Scripts[f.index].Code = string(script.Content)
			return nil
		})
	}
	_ = g.Wait()

	l.logger.Debug("page loaded", "url", page.URL, "scripts", len(page.Scripts))
	return page, nil
}
