// Package github ranks GitHub users by the stars on their repositories.
package github

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/impact-crawler/internal/impact"
	"github.com/JakeFAU/impact-crawler/internal/platform/httpjson"
)

// Name is the platform name.
const Name impact.Platform = "github"

// Upstream defaults.
const (
	DefaultBaseURL = "https://api.github.com"
	DefaultWebURL  = "https://github.com"
	perPage        = 100
)

// Adapter fetches repositories and followed users from the GitHub REST API.
type Adapter struct {
	client   *httpjson.Client
	webURL   string
	maxPages int
}

// New constructs an Adapter. maxPages bounds paginated listings; values
// below one mean a single page.
func New(client *httpjson.Client, webURL string, maxPages int) *Adapter {
	if webURL == "" {
		webURL = DefaultWebURL
	}
	if maxPages < 1 {
		maxPages = 1
	}
	return &Adapter{client: client, webURL: strings.TrimRight(webURL, "/"), maxPages: maxPages}
}

// Headers are the request headers the GitHub API expects.
func Headers() map[string]string {
	return map[string]string{
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
	}
}

// Info describes the platform.
func (a *Adapter) Info() impact.PlatformInfo {
	return impact.PlatformInfo{
		Name:             Name,
		Description:      "GitHub user H-index based on repository stars",
		IndexDescription: "A user has an H-index of N if they have N repos with at least N stars",
		EntityName:       "Users",
		MetricName:       "stars",
		PrimaryColor:     "bg-gray-500",
		SecondaryColor:   "black",
	}
}

type user struct {
	Login     string    `json:"login"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
}

type repo struct {
	HTMLURL         string    `json:"html_url"`
	Description     *string   `json:"description"`
	CreatedAt       time.Time `json:"created_at"`
	StargazersCount int64     `json:"stargazers_count"`
}

// FetchRecords returns one record per owned repository.
func (a *Adapter) FetchRecords(ctx context.Context, key string) (impact.EntityInfo, error) {
	if err := httpjson.CheckKey(key); err != nil {
		return impact.EntityInfo{}, err
	}
	var u user
	if err := a.client.GetJSON(ctx, "users/"+key, nil, &u); err != nil {
		return impact.EntityInfo{}, fmt.Errorf("github user %s: %w", key, err)
	}

	var records []impact.Record
	for page := 1; page <= a.maxPages; page++ {
		var repos []repo
		q := url.Values{"per_page": {strconv.Itoa(perPage)}, "page": {strconv.Itoa(page)}, "type": {"owner"}}
		if err := a.client.GetJSON(ctx, "users/"+key+"/repos", q, &repos); err != nil {
			return impact.EntityInfo{}, fmt.Errorf("github repos %s: %w", key, err)
		}
		for _, r := range repos {
			desc := ""
			if r.Description != nil {
				desc = *r.Description
			}
			records = append(records, impact.Record{
				Link:        r.HTMLURL,
				Description: desc,
				CreatedAt:   r.CreatedAt,
				Metric:      r.StargazersCount,
				MetricType:  "stars",
			})
		}
		if len(repos) < perPage {
			break
		}
	}

	return impact.EntityInfo{
		Records: records,
		Metadata: impact.EntityMetadata{
			Key:       key,
			URL:       a.webURL + "/" + key,
			CreatedAt: u.CreatedAt,
		},
	}, nil
}

// FetchRelations returns the logins the user follows. Logins gathered before
// a failed page are returned with the error.
func (a *Adapter) FetchRelations(ctx context.Context, key string) ([]string, error) {
	if err := httpjson.CheckKey(key); err != nil {
		return nil, err
	}
	var out []string
	for page := 1; page <= a.maxPages; page++ {
		var users []user
		q := url.Values{"per_page": {strconv.Itoa(perPage)}, "page": {strconv.Itoa(page)}}
		if err := a.client.GetJSON(ctx, "users/"+key+"/following", q, &users); err != nil {
			return out, fmt.Errorf("github following %s: %w", key, err)
		}
		for _, u := range users {
			out = append(out, u.Login)
		}
		if len(users) < perPage {
			break
		}
	}
	return out, nil
}
