package repository

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locvowork/appendsheet/internal/database"
	"github.com/locvowork/appendsheet/internal/domain"
	"github.com/locvowork/appendsheet/pkg/appendsheet"
)

const studentHits = `{"took":1,"timed_out":false,"hits":{"total":{"value":2,"relation":"eq"},"hits":[
	{"_index":"students","_id":"1","_source":{"person":"alice","gpa":3.5,"advisor":{"name":"turing"}}},
	{"_index":"students","_id":"2","_source":{"person":"carol","gpa":3.9,"credits":36}}]}}`

// fakeSearchServer answers the few endpoints the search repository uses and
// records every request body by path.
type fakeSearchServer struct {
	mu     sync.Mutex
	bodies map[string][]string
}

func newFakeSearchServer(t *testing.T) (*fakeSearchServer, *httptest.Server) {
	t.Helper()
	f := &fakeSearchServer{bodies: map[string][]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.bodies[r.Method+" "+r.URL.Path] = append(f.bodies[r.Method+" "+r.URL.Path], string(body))
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/students/_search":
			if r.URL.Query().Get("scroll") != "" {
				io.WriteString(w, strings.Replace(studentHits, `{"took"`, `{"_scroll_id":"page-1","took"`, 1))
				return
			}
			io.WriteString(w, studentHits)
		case r.Method == http.MethodPost && r.URL.Path == "/_search/scroll":
			io.WriteString(w, `{"_scroll_id":"page-1","took":1,"hits":{"total":{"value":2,"relation":"eq"},"hits":[]}}`)
		case r.Method == http.MethodDelete && r.URL.Path == "/_search/scroll":
			io.WriteString(w, `{"succeeded":true,"num_freed":1}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":{"type":"not_found"},"status":404}`)
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeSearchServer) requests(key string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[key]
}

func newSearchRepo(t *testing.T) (*fakeSearchServer, domain.BlockRepository) {
	t.Helper()
	fake, srv := newFakeSearchServer(t)
	client, err := database.NewElasticClient(srv.URL)
	require.NoError(t, err)
	t.Cleanup(client.Stop)
	return fake, NewSearchRepository(client)
}

func TestSearchFetchRecordsWithLimit(t *testing.T) {
	fake, repo := newSearchRepo(t)

	records, err := repo.FetchRecords(context.Background(), domain.QuerySpec{
		Source:  domain.SourceElastic,
		Table:   "students",
		Columns: []string{"person", "gpa", "advisor.name", "credits"},
		Filters: []domain.Filter{{Column: "major", Op: "=", Value: "math"}},
		OrderBy: "gpa desc",
		Limit:   2,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, []string{"person", "gpa", "advisor.name", "credits"}, records[0].Names())
	v, _ := records[0].Get("advisor.name")
	assert.Equal(t, appendsheet.Text("turing"), v)
	v, _ = records[0].Get("gpa")
	assert.Equal(t, appendsheet.Decimal(3.5), v)
	v, _ = records[0].Get("credits")
	assert.True(t, v.IsNull())
	v, _ = records[1].Get("credits")
	assert.Equal(t, appendsheet.Integer(36), v)

	bodies := fake.requests("POST /students/_search")
	require.Len(t, bodies, 1)
	assert.Contains(t, bodies[0], `"size":2`)
	assert.Contains(t, bodies[0], `"term":{"major":"math"}`)
	assert.Contains(t, bodies[0], `"gpa":{"order":"desc"}`)
	assert.Contains(t, bodies[0], `"includes":["person","gpa","advisor.name","credits"]`)
	assert.Empty(t, fake.requests("DELETE /_search/scroll"))
}

func TestSearchFetchRecordsScrollsAllPages(t *testing.T) {
	fake, repo := newSearchRepo(t)

	records, err := repo.FetchRecords(context.Background(), domain.QuerySpec{
		Source: domain.SourceElastic, Table: "students", Columns: []string{"person"},
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	v, _ := records[1].Get("person")
	assert.Equal(t, "carol", v.Text())

	assert.Len(t, fake.requests("POST /students/_search"), 1)
	assert.Len(t, fake.requests("POST /_search/scroll"), 1)
	assert.Len(t, fake.requests("DELETE /_search/scroll"), 1)
	assert.Contains(t, fake.requests("POST /students/_search")[0], `"match_all"`)
}

func TestSearchFetchRecordsRejectsBadQueries(t *testing.T) {
	fake, repo := newSearchRepo(t)

	tests := []struct {
		name    string
		q       domain.QuerySpec
		wantErr string
	}{
		{"bad order", domain.QuerySpec{Table: "students", Columns: []string{"person"}, OrderBy: "gpa sideways"}, "invalid order by"},
		{"unknown operator", domain.QuerySpec{Table: "students", Columns: []string{"person"},
			Filters: []domain.Filter{{Column: "gpa", Op: "~", Value: 1}}}, "unsupported operator"},
		{"like on number", domain.QuerySpec{Table: "students", Columns: []string{"person"},
			Filters: []domain.Filter{{Column: "gpa", Op: "like", Value: 3}}}, "needs a text value"},
		{"empty in", domain.QuerySpec{Table: "students", Columns: []string{"person"},
			Filters: []domain.Filter{{Column: "gpa", Op: "in", Value: []interface{}{}}}}, "non-empty list"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.FetchRecords(context.Background(), tt.q)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("FetchRecords() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
	assert.Empty(t, fake.requests("POST /students/_search"))
}

func TestSearchQuery(t *testing.T) {
	q, err := searchQuery([]domain.Filter{
		{Column: "gpa", Op: ">=", Value: json.Number("3")},
		{Column: "major", Op: "<>", Value: "art"},
		{Column: "credits", Op: "IN", Value: []interface{}{json.Number("24"), json.Number("36")}},
		{Column: "advisor", Op: "is  null"},
		{Column: "person", Op: "like", Value: "c_r%"},
		{Column: "email", Op: "is not null"},
	})
	require.NoError(t, err)
	src, err := q.Source()
	require.NoError(t, err)
	raw, err := json.Marshal(src)
	require.NoError(t, err)
	body := string(raw)

	assert.Contains(t, body, `"range":{"gpa":{`)
	assert.Contains(t, body, `"term":{"major":"art"}`)
	assert.Contains(t, body, `"terms":{"credits":[24,36]}`)
	assert.Contains(t, body, `"exists":{"field":"advisor"}`)
	assert.Contains(t, body, `"exists":{"field":"email"}`)
	assert.Contains(t, body, `"wildcard":{"person":{"value":"c?r*"}}`)
	assert.Contains(t, body, `"must_not"`)
}

func TestLikeToWildcard(t *testing.T) {
	tests := []struct{ in, want string }{
		{"%son", "*son"},
		{"b_b", "b?b"},
		{"why?*", `why\?\*`},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := likeToWildcard(tt.in); got != tt.want {
			t.Errorf("likeToWildcard(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLookupPath(t *testing.T) {
	doc := map[string]interface{}{
		"person":  "alice",
		"a.b":     "literal",
		"advisor": map[string]interface{}{"name": "turing", "room": map[string]interface{}{"no": 7}},
	}
	assert.Equal(t, "alice", lookupPath(doc, "person"))
	assert.Equal(t, "literal", lookupPath(doc, "a.b"))
	assert.Equal(t, "turing", lookupPath(doc, "advisor.name"))
	assert.Equal(t, 7, lookupPath(doc, "advisor.room.no"))
	assert.Nil(t, lookupPath(doc, "advisor.phone"))
	assert.Nil(t, lookupPath(doc, "person.name"))
}
