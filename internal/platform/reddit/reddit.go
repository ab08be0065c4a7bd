// Package reddit ranks Reddit users by the score of their comments and posts,
// using the public JSON listings.
package reddit

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/impact-crawler/internal/impact"
	"github.com/JakeFAU/impact-crawler/internal/platform/httpjson"
)

// Name is the platform name.
const Name impact.Platform = "reddit"

// Upstream defaults.
const (
	DefaultBaseURL = "https://www.reddit.com"
	DefaultWebURL  = "https://www.reddit.com"
	pageLimit      = 100
	deletedAuthor  = "[deleted]"
)

// Adapter fetches comment and submission listings for Reddit users.
type Adapter struct {
	client   *httpjson.Client
	webURL   string
	maxPages int
}

// New constructs an Adapter. maxPages bounds each listing walk.
func New(client *httpjson.Client, webURL string, maxPages int) *Adapter {
	if webURL == "" {
		webURL = DefaultWebURL
	}
	if maxPages < 1 {
		maxPages = 1
	}
	return &Adapter{client: client, webURL: strings.TrimRight(webURL, "/"), maxPages: maxPages}
}

// Info describes the platform.
func (a *Adapter) Info() impact.PlatformInfo {
	return impact.PlatformInfo{
		Name:             Name,
		Description:      "Reddit user H-index based on comment and post upvotes",
		IndexDescription: "A user has an H-index of N if they have N comments or posts with at least N upvotes",
		EntityName:       "Redditors",
		MetricName:       "upvotes",
		PrimaryColor:     "bg-orange-600",
		SecondaryColor:   "white",
	}
}

type listing struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Data thing `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// thing covers the fields used from both comments (t1) and submissions (t3).
type thing struct {
	Permalink  string  `json:"permalink"`
	Body       string  `json:"body"`
	Title      string  `json:"title"`
	Score      int64   `json:"score"`
	CreatedUTC float64 `json:"created_utc"`
	LinkAuthor string  `json:"link_author"`
}

type about struct {
	Data struct {
		Name       string  `json:"name"`
		CreatedUTC float64 `json:"created_utc"`
	} `json:"data"`
}

// FetchRecords returns one record per comment and per submission.
func (a *Adapter) FetchRecords(ctx context.Context, key string) (impact.EntityInfo, error) {
	if err := httpjson.CheckKey(key); err != nil {
		return impact.EntityInfo{}, err
	}
	var profile about
	if err := a.client.GetJSON(ctx, "user/"+key+"/about.json", nil, &profile); err != nil {
		return impact.EntityInfo{}, fmt.Errorf("reddit about %s: %w", key, err)
	}
	comments, err := a.walk(ctx, "user/"+key+"/comments.json")
	if err != nil {
		return impact.EntityInfo{}, fmt.Errorf("reddit comments %s: %w", key, err)
	}
	posts, err := a.walk(ctx, "user/"+key+"/submitted.json")
	if err != nil {
		return impact.EntityInfo{}, fmt.Errorf("reddit submissions %s: %w", key, err)
	}

	records := make([]impact.Record, 0, len(comments)+len(posts))
	for _, c := range comments {
		records = append(records, a.record(c, c.Body))
	}
	for _, p := range posts {
		records = append(records, a.record(p, p.Title))
	}
	return impact.EntityInfo{
		Records: records,
		Metadata: impact.EntityMetadata{
			Key:       key,
			URL:       a.webURL + "/user/" + key,
			CreatedAt: unix(profile.Data.CreatedUTC),
		},
	}, nil
}

// FetchRelations returns the authors of the posts key has commented on.
// Authors gathered before a failed page are returned with the error.
func (a *Adapter) FetchRelations(ctx context.Context, key string) ([]string, error) {
	if err := httpjson.CheckKey(key); err != nil {
		return nil, err
	}
	comments, err := a.walk(ctx, "user/"+key+"/comments.json")
	seen := make(map[string]struct{}, len(comments))
	out := make([]string, 0, len(comments))
	for _, c := range comments {
		author := c.LinkAuthor
		if author == "" || author == deletedAuthor {
			continue
		}
		if _, dup := seen[author]; dup {
			continue
		}
		seen[author] = struct{}{}
		out = append(out, author)
	}
	if err != nil {
		return out, fmt.Errorf("reddit comments %s: %w", key, err)
	}
	return out, nil
}

// walk follows a listing's after cursor for at most maxPages pages, returning
// what it collected so far on error.
func (a *Adapter) walk(ctx context.Context, path string) ([]thing, error) {
	var out []thing
	after := ""
	for page := 0; page < a.maxPages; page++ {
		q := url.Values{"limit": {strconv.Itoa(pageLimit)}, "raw_json": {"1"}}
		if after != "" {
			q.Set("after", after)
		}
		var l listing
		if err := a.client.GetJSON(ctx, path, q, &l); err != nil {
			return out, err
		}
		for _, child := range l.Data.Children {
			out = append(out, child.Data)
		}
		after = l.Data.After
		if after == "" {
			break
		}
	}
	return out, nil
}

func (a *Adapter) record(t thing, description string) impact.Record {
	return impact.Record{
		Link:        a.webURL + t.Permalink,
		Description: description,
		CreatedAt:   unix(t.CreatedUTC),
		Metric:      t.Score,
		MetricType:  "upvotes",
	}
}

func unix(seconds float64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}
