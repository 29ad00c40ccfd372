// Package kb is a small local knowledge base of help-center articles, indexed
// from HTML files and searched by keyword overlap.
package kb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/linanwx/supportbot/logger"
)

const snippetLen = 160

// Article is one indexed help-center page.
type Article struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
	Body  string `json:"-"`
}

// Hit is a scored search result.
type Hit struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	URL     string  `json:"url,omitempty"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Index holds articles in memory. Safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	articles map[string]*Article
}

// New creates an empty index.
func New() *Index {
	return &Index{articles: make(map[string]*Article)}
}

// LoadDir indexes every *.html / *.htm file in dir. A missing dir yields an
// empty index.
func LoadDir(dir string) (*Index, error) {
	idx := New()
	if strings.TrimSpace(dir) == "" {
		return idx, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("knowledge base dir missing", "dir", dir)
			return idx, nil
		}
		return nil, fmt.Errorf("read knowledge base dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".html" && ext != ".htm" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read article %s: %w", e.Name(), err)
		}
		a, err := ParseHTML(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())), string(data))
		if err != nil {
			return nil, fmt.Errorf("parse article %s: %w", e.Name(), err)
		}
		idx.Add(a)
	}

	logger.Info("knowledge base loaded", "dir", dir, "articles", idx.Len())
	return idx, nil
}

// ParseHTML builds an article from an HTML document string.
func ParseHTML(id, html string) (*Article, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return articleFromDocument(id, doc), nil
}

func articleFromDocument(id string, doc *goquery.Document) *Article {
	doc.Find("script, style, nav, footer").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = id
	}

	url, _ := doc.Find(`link[rel="canonical"]`).Attr("href")

	content := doc.Find("article").First()
	if content.Length() == 0 {
		content = doc.Find("body")
	}
	var parts []string
	content.Find("h1, h2, h3, p, li, td, pre").Each(func(_ int, s *goquery.Selection) {
		if t := collapseSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	body := strings.Join(parts, "\n")
	if body == "" {
		body = collapseSpace(content.Text())
	}

	return &Article{ID: id, Title: title, URL: url, Body: body}
}

// Add inserts or replaces an article.
func (x *Index) Add(a *Article) {
	if a == nil || a.ID == "" {
		return
	}
	x.mu.Lock()
	x.articles[a.ID] = a
	x.mu.Unlock()
}

// Len returns the number of indexed articles.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.articles)
}

// Search scores articles by query-term overlap. Title matches weigh triple.
// Results are ordered by score, then id; at most limit are returned.
func (x *Index) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := Terms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	x.mu.RLock()
	hits := make([]Hit, 0)
	for _, a := range x.articles {
		title := strings.ToLower(a.Title)
		body := strings.ToLower(a.Body)
		var score float64
		for _, term := range terms {
			score += 3 * float64(strings.Count(title, term))
			score += float64(strings.Count(body, term))
		}
		if score == 0 {
			continue
		}
		hits = append(hits, Hit{
			ID:      a.ID,
			Title:   a.Title,
			URL:     a.URL,
			Snippet: snippet(a.Body, terms),
			Score:   score,
		})
	}
	x.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Terms lowercases and splits a query, dropping one-letter tokens and
// duplicates.
func Terms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func snippet(body string, terms []string) string {
	lower := strings.ToLower(body)
	start := 0
	for _, term := range terms {
		if i := strings.Index(lower, term); i >= 0 {
			start = i
			break
		}
	}
	// Back up to the start of the line so snippets read naturally.
	if nl := strings.LastIndexByte(body[:start], '\n'); nl >= 0 {
		start = nl + 1
	} else {
		start = 0
	}
	s := body[start:]
	if len(s) > snippetLen {
		s = s[:snippetLen]
		if sp := strings.LastIndexByte(s, ' '); sp > snippetLen/2 {
			s = s[:sp]
		}
		s += "..."
	}
	return strings.ReplaceAll(s, "\n", " ")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
