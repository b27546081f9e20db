package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/voxoff/pipeline/internal/config"
)

// LyricsSource fetches plain-text lyrics for a song.
type LyricsSource interface {
	Name() string
	Fetch(ctx context.Context, songID, title, artist string) (string, error)
}

var (
	// Word boundaries keep names like "Daft Punk" and "Maxwell" whole.
	featuringSplit = regexp.MustCompile(`(?i)\s*(?:\bft\b\.?|\bfeat\b\.?|\bfeaturing\b|&|,|/|\+)\s*|\s+x\s+`)
	nonAlnum       = regexp.MustCompile(`[^a-z0-9]`)
	cleanPrefix    = regexp.MustCompile(`(?i)^\[\s*clean[^\]]*\]\s*:? ?`)
)

// scraper holds the HTTP plumbing shared by the page-scraping sources.
type scraper struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

func newScraper(cfg *config.LyricsConfig, baseURL string) scraper {
	return scraper{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  cfg.UserAgent,
	}
}

// page fetches and parses a lyrics page. 404 maps to ErrLyricsNotFound.
func (s scraper) page(ctx context.Context, service, url string) (*html.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", service, ErrLyricsNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Service: service, URL: url, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: parse page: %w", service, err)
	}
	return doc, nil
}

// AZLyricsSource scrapes azlyrics.com.
type AZLyricsSource struct {
	scraper
}

// NewAZLyricsSource creates the primary lyrics source.
func NewAZLyricsSource(cfg *config.LyricsConfig) *AZLyricsSource {
	return &AZLyricsSource{scraper: newScraper(cfg, cfg.AZLyricsURL)}
}

func (s *AZLyricsSource) Name() string { return "azlyrics" }

// URL builds the page address from the main artist and the title.
func (s *AZLyricsSource) URL(title, artist string) string {
	mainArtist := featuringSplit.Split(artist, 2)[0]
	return fmt.Sprintf("%s/lyrics/%s/%s.html", s.baseURL, azSlug(mainArtist), azSlug(title))
}

func azSlug(s string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(s), "")
}

// Fetch returns the lyrics found in the first unattributed div of the page.
func (s *AZLyricsSource) Fetch(ctx context.Context, _, title, artist string) (string, error) {
	doc, err := s.page(ctx, s.Name(), s.URL(title, artist))
	if err != nil {
		return "", err
	}

	var raw string
	walk(doc, func(n *html.Node) bool {
		if n.DataAtom != atom.Div || hasAttr(n, "class") || hasAttr(n, "id") {
			return true
		}
		text := strings.TrimSpace(textContent(n, false))
		if text == "" {
			return true
		}
		raw = text
		return false
	})
	if raw == "" {
		return "", fmt.Errorf("azlyrics: no lyrics div: %w", ErrLyricsNotFound)
	}

	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "[Explicit:]") {
			continue
		}
		lines = append(lines, cleanPrefix.ReplaceAllString(line, ""))
	}
	return strings.Join(lines, "\n"), nil
}

// GeniusSource scrapes genius.com song pages by song id.
type GeniusSource struct {
	scraper
}

// NewGeniusSource creates the fallback lyrics source.
func NewGeniusSource(cfg *config.LyricsConfig) *GeniusSource {
	return &GeniusSource{scraper: newScraper(cfg, cfg.GeniusURL)}
}

func (s *GeniusSource) Name() string { return "genius" }

// URL builds the song page address.
func (s *GeniusSource) URL(songID string) string {
	return fmt.Sprintf("%s/songs/%s", s.baseURL, songID)
}

// Fetch collects every lyrics container, dropping section headers and
// blank lines.
func (s *GeniusSource) Fetch(ctx context.Context, songID, _, _ string) (string, error) {
	doc, err := s.page(ctx, s.Name(), s.URL(songID))
	if err != nil {
		return "", err
	}

	var lines []string
	found := false
	walk(doc, func(n *html.Node) bool {
		if n.DataAtom != atom.Div || attr(n, "data-lyrics-container") != "true" {
			return true
		}
		found = true
		for _, line := range strings.Split(textContent(n, true), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || (strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]")) {
				continue
			}
			lines = append(lines, line)
		}
		return true
	})
	if !found {
		return "", fmt.Errorf("genius: no lyrics container: %w", ErrLyricsNotFound)
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("genius: empty lyrics: %w", ErrLyricsNotFound)
	}
	return strings.Join(lines, "\n"), nil
}

// walk visits element nodes in document order until visit returns false.
func walk(n *html.Node, visit func(*html.Node) bool) bool {
	if n.Type == html.ElementNode && !visit(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, visit) {
			return false
		}
	}
	return true
}

// textContent renders the text of n. With breaks set, <br> becomes a newline.
func textContent(n *html.Node, breaks bool) string {
	var b strings.Builder
	var render func(*html.Node)
	render = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.CommentNode:
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Br:
				if breaks {
					b.WriteString("\n")
				}
				return
			case atom.Script, atom.Style:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			render(c)
		}
	}
	render(n)
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}
