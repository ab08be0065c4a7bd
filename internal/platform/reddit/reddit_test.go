package reddit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/impact-crawler/internal/impact"
	"github.com/JakeFAU/impact-crawler/internal/platform/httpjson"
)

const commentsPage1 = `{"kind":"Listing","data":{"after":"t1_b","children":[
	{"kind":"t1","data":{"permalink":"/r/golang/comments/x/_/c1/","body":"nice","score":12,"created_utc":1700000000.0,"link_author":"rob"}},
	{"kind":"t1","data":{"permalink":"/r/golang/comments/y/_/c2/","body":"+1","score":-3,"created_utc":1700000100.0,"link_author":"[deleted]"}}
]}}`

const commentsPage2 = `{"kind":"Listing","data":{"after":null,"children":[
	{"kind":"t1","data":{"permalink":"/r/golang/comments/z/_/c3/","body":"agreed","score":4,"created_utc":1700000200.0,"link_author":"rob"}},
	{"kind":"t1","data":{"permalink":"/r/rust/comments/w/_/c4/","body":"hm","score":1,"created_utc":1700000300.0,"link_author":"ken"}}
]}}`

const submitted = `{"kind":"Listing","data":{"after":null,"children":[
	{"kind":"t3","data":{"permalink":"/r/golang/comments/p/generics/","title":"Generics!","score":250,"created_utc":1600000000.5}}
]}}`

func newTestAdapter(t *testing.T, handler http.Handler, maxPages int) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := httpjson.New(httpjson.Config{Platform: "reddit", BaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)
	return New(client, "https://reddit.example", maxPages)
}

func listingMux(t *testing.T) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/user/gopher/about.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"kind":"t2","data":{"name":"gopher","created_utc":1262304000.0}}`))
	})
	mux.HandleFunc("/user/gopher/comments.json", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "t1_b" {
			_, _ = w.Write([]byte(commentsPage2))
			return
		}
		_, _ = w.Write([]byte(commentsPage1))
	})
	mux.HandleFunc("/user/gopher/submitted.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(submitted))
	})
	return mux
}

func TestFetchRecords(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t, listingMux(t), 5)

	info, err := a.FetchRecords(context.Background(), "gopher")
	require.NoError(t, err)
	require.Len(t, info.Records, 5)

	assert.Equal(t, "https://reddit.example/r/golang/comments/x/_/c1/", info.Records[0].Link)
	assert.Equal(t, "nice", info.Records[0].Description)
	assert.EqualValues(t, 12, info.Records[0].Metric)
	assert.EqualValues(t, -3, info.Records[1].Metric)
	assert.Equal(t, "upvotes", info.Records[0].MetricType)

	post := info.Records[4]
	assert.Equal(t, "Generics!", post.Description)
	assert.EqualValues(t, 250, post.Metric)
	assert.Equal(t, time.Unix(1600000000, 500000000).UTC(), post.CreatedAt)

	assert.Equal(t, "https://reddit.example/user/gopher", info.Metadata.URL)
	assert.Equal(t, time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC), info.Metadata.CreatedAt)
}

func TestFetchRecords_PageLimit(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t, listingMux(t), 1)
	info, err := a.FetchRecords(context.Background(), "gopher")
	require.NoError(t, err)
	assert.Len(t, info.Records, 3)
}

func TestFetchRecords_Suspended(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t, http.NotFoundHandler(), 1)
	_, err := a.FetchRecords(context.Background(), "gopher")
	require.ErrorIs(t, err, impact.ErrNotFound)
}

func TestFetchRelations(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t, listingMux(t), 5)
	got, err := a.FetchRelations(context.Background(), "gopher")
	require.NoError(t, err)
	assert.Equal(t, []string{"rob", "ken"}, got)
}

func TestFetchRelations_Partial(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/user/gopher/comments.json", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") != "" {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(commentsPage1))
	})
	a := newTestAdapter(t, mux, 5)

	got, err := a.FetchRelations(context.Background(), "gopher")
	require.ErrorIs(t, err, impact.ErrFetch)
	assert.Equal(t, []string{"rob"}, got)
}
