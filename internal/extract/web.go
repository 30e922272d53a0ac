package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/gocolly/colly/v2"
	readability "github.com/go-shiori/go-readability"

	"github.com/quarry-ai/quarry/internal/source"
)

// webExtractor handles KindWebPage sources: it fetches the registered
// page and optionally expands same-host links up to maxDepth, emitting
// one item per fetched page. Article text is distilled with readability
// so navigation chrome stays out of the index.
type webExtractor struct {
	maxDepth int
	maxPages int
	logger   *slog.Logger
}

func (w *webExtractor) extract(ctx context.Context, src source.KnowledgeSource, emit EmitFunc) error {
	rootURL, err := url.Parse(src.Locator)
	if err != nil {
		return fmt.Errorf("parsing web source %s: %w", src.Locator, err)
	}

	c := colly.NewCollector(
		colly.MaxDepth(w.maxDepth),
		colly.AllowedDomains(rootURL.Hostname()),
		colly.UserAgent("quarry/1.0 (+knowledge indexer)"),
		colly.StdlibContext(ctx),
	)

	var (
		mu      sync.Mutex
		pages   int
		emitErr error
		rootErr error
	)

	c.OnResponse(func(r *colly.Response) {
		mu.Lock()
		defer mu.Unlock()
		if emitErr != nil || pages >= w.maxPages {
			return
		}
		if ct := r.Headers.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") && !strings.Contains(ct, "text") {
			return
		}

		pageURL := r.Request.URL.String()
		if !src.Filter.Match(pageURL) {
			return
		}

		article, err := readability.FromReader(bytes.NewReader(r.Body), r.Request.URL)
		if err != nil {
			emitErr = emit(Item{Path: pageURL, Err: &Error{Path: pageURL, Cause: err}})
			return
		}

		text := strings.TrimSpace(article.TextContent)
		if article.Title != "" {
			text = article.Title + "\n\n" + text
		}
		if text == "" {
			return
		}

		pages++
		emitErr = emit(Item{
			Path:        pageURL,
			Text:        text,
			ContentType: source.ContentProse,
			Hash:        HashText(text),
		})
	})

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		mu.Lock()
		stop := emitErr != nil || pages >= w.maxPages
		mu.Unlock()
		if stop || w.maxDepth <= 1 {
			return
		}
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" || strings.Contains(link, "#") {
			return
		}
		// Visit errors (already seen, off-domain, depth) are expected
		// noise during expansion.
		_ = e.Request.Visit(link)
	})

	c.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		defer mu.Unlock()
		pageURL := r.Request.URL.String()
		if pageURL == src.Locator || pageURL == src.Locator+"/" {
			rootErr = err
			return
		}
		if emitErr == nil {
			emitErr = emit(Item{Path: pageURL, Err: &Error{Path: pageURL, Cause: err}})
		}
	})

	if err := c.Visit(src.Locator); err != nil {
		return fmt.Errorf("fetching %s: %w", src.Locator, err)
	}
	c.Wait()

	if rootErr != nil {
		return fmt.Errorf("fetching %s: %w", src.Locator, rootErr)
	}
	return emitErr
}
