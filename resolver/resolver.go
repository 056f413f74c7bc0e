package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"mvdan.cc/xurls/v2"
)

// MediaRef describes one downloadable asset belonging to a post, as reported
// by the resolution service.
type MediaRef struct {
	URL   string `json:"url"`
	Type  string `json:"type"` // "image" or "video"
	Index int    `json:"index"`
}

// Result is the resolution service's response for a single source link. A
// Status other than "success" means no media; Message explains why.
type Result struct {
	Status    string     `json:"status"`
	Username  string     `json:"username"`
	Caption   string     `json:"caption"`
	Shortcode string     `json:"shortcode"`
	Message   string     `json:"message"`
	Media     []MediaRef `json:"media"`
}

// OK returns true if the resolution succeeded and produced at least one media
// descriptor.
func (r *Result) OK() bool {
	return r.Status == "success" && len(r.Media) > 0
}

// Resolver turns a source link into a set of media descriptors plus post
// metadata. Implementations are external services; the core trusts their
// output format.
type Resolver interface {
	Resolve(ctx context.Context, sourceLink string) (*Result, error)
}

// Client resolves links by querying a resolution service over http.
type Client struct {
	hc       *http.Client
	endpoint string
}

func NewClient(endpoint string) *Client {
	return &Client{
		hc:       &http.Client{},
		endpoint: endpoint,
	}
}

// Resolve queries the resolution service for the given source link. A non-nil
// error means the service could not be reached or returned garbage; a Result
// with Status != "success" means the service answered but found no media.
func (c *Client) Resolve(ctx context.Context, sourceLink string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	u := c.endpoint + "?url=" + url.QueryEscape(sourceLink)
	log.Debugf("resolve: %s", sourceLink)

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}

	rsp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query resolver: %v", err)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode < 200 || rsp.StatusCode >= 300 {
		return nil, fmt.Errorf("resolver error status: %s", rsp.Status)
	}

	r := &Result{}
	err = json.NewDecoder(rsp.Body).Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode resolver response: %w", err)
	}

	return r, nil
}

// ExtractLink pulls the first instagram link out of the given text. Shared
// text typically contains the caption alongside the url, so the input is
// scanned rather than parsed. It returns the empty string if the text contains
// no instagram link.
func ExtractLink(text string) string {
	rx := xurls.Strict()
	for _, link := range rx.FindAllString(text, -1) {
		u, err := url.Parse(link)
		if err != nil {
			continue
		}
		host := strings.TrimPrefix(u.Hostname(), "www.")
		if host == "instagram.com" || strings.HasSuffix(host, ".instagram.com") {
			return link
		}
	}
	return ""
}

var (
	shortcodeRx = regexp.MustCompile(`instagram\.com/(?:p|reel|reels|tv)/([A-Za-z0-9_-]+)`)
	storyRx     = regexp.MustCompile(`instagram\.com/stories/([^/]+)/(\d+)`)
	nonIDRx     = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
)

// PostID derives a stable post identifier from a source link: the shortcode
// for posts and reels, "<username>_<item>" for stories, or a sanitized form of
// the whole url when neither pattern matches.
func PostID(sourceLink string) string {
	if m := shortcodeRx.FindStringSubmatch(sourceLink); m != nil {
		return m[1]
	}
	if m := storyRx.FindStringSubmatch(sourceLink); m != nil {
		return m[1] + "_" + m[2]
	}

	trimmed := strings.TrimPrefix(sourceLink, "https://")
	trimmed = strings.TrimPrefix(trimmed, "http://")
	return strings.Trim(nonIDRx.ReplaceAllString(trimmed, "_"), "_")
}
