// Package huggingface ranks Hugging Face accounts by model downloads.
package huggingface

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/impact-crawler/internal/impact"
	"github.com/JakeFAU/impact-crawler/internal/platform/httpjson"
)

// Name is the platform name.
const Name impact.Platform = "huggingface"

// Upstream defaults.
const (
	DefaultBaseURL = "https://huggingface.co"
	DefaultWebURL  = "https://huggingface.co"
	modelLimit     = 1000
)

// Adapter fetches models and followed users from the Hugging Face Hub API.
type Adapter struct {
	client *httpjson.Client
	webURL string
	logger *zap.Logger
}

// New constructs an Adapter.
func New(client *httpjson.Client, webURL string, logger *zap.Logger) *Adapter {
	if webURL == "" {
		webURL = DefaultWebURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{client: client, webURL: strings.TrimRight(webURL, "/"), logger: logger}
}

// Info describes the platform.
func (a *Adapter) Info() impact.PlatformInfo {
	return impact.PlatformInfo{
		Name:             Name,
		Description:      "Hugging Face account H-index based on model downloads",
		IndexDescription: "An account has an H-index of N if it has N models with at least N downloads each",
		EntityName:       "Accounts",
		MetricName:       "downloads",
		PrimaryColor:     "gold",
		SecondaryColor:   "white",
	}
}

type model struct {
	ID        string    `json:"id"`
	ModelID   string    `json:"modelId"`
	Downloads int64     `json:"downloads"`
	CreatedAt time.Time `json:"createdAt"`
}

type overview struct {
	CreatedAt time.Time `json:"createdAt"`
}

type follow struct {
	User string `json:"user"`
}

// account resolves key as a user, then as an organization. The models
// endpoint answers unknown authors with an empty list, so this lookup is what
// tells an unknown account apart from one without models.
func (a *Adapter) account(ctx context.Context, key string) (overview, error) {
	var ov overview
	err := a.client.GetJSON(ctx, "api/users/"+key+"/overview", nil, &ov)
	if errors.Is(err, impact.ErrNotFound) {
		err = a.client.GetJSON(ctx, "api/organizations/"+key+"/overview", nil, &ov)
	}
	return ov, err
}

// FetchRecords returns one record per model authored by key.
func (a *Adapter) FetchRecords(ctx context.Context, key string) (impact.EntityInfo, error) {
	if err := httpjson.CheckKey(key); err != nil {
		return impact.EntityInfo{}, err
	}
	ov, err := a.account(ctx, key)
	if err != nil {
		return impact.EntityInfo{}, fmt.Errorf("huggingface account %s: %w", key, err)
	}

	var models []model
	q := url.Values{"author": {key}, "limit": {strconv.Itoa(modelLimit)}}
	if err := a.client.GetJSON(ctx, "api/models", q, &models); err != nil {
		return impact.EntityInfo{}, fmt.Errorf("huggingface models %s: %w", key, err)
	}

	records := make([]impact.Record, 0, len(models))
	for _, m := range models {
		id := m.ID
		if id == "" {
			id = m.ModelID
		}
		records = append(records, impact.Record{
			Link:        a.webURL + "/" + id,
			Description: id,
			CreatedAt:   m.CreatedAt,
			Metric:      m.Downloads,
			MetricType:  "downloads",
		})
	}
	return impact.EntityInfo{
		Records:  records,
		Metadata: impact.EntityMetadata{Key: key, URL: a.webURL + "/" + key, CreatedAt: ov.CreatedAt},
	}, nil
}

// FetchRelations returns the users key follows. The endpoint is unreliable,
// so failures are logged and yield an empty list.
func (a *Adapter) FetchRelations(ctx context.Context, key string) ([]string, error) {
	if err := httpjson.CheckKey(key); err != nil {
		return nil, err
	}
	var follows []follow
	if err := a.client.GetJSON(ctx, "api/users/"+key+"/following", nil, &follows); err != nil {
		a.logger.Debug("huggingface following unavailable", zap.String("identifier", key), zap.Error(err))
		return nil, nil
	}
	out := make([]string, 0, len(follows))
	for _, f := range follows {
		if f.User != "" {
			out = append(out, f.User)
		}
	}
	return out, nil
}
