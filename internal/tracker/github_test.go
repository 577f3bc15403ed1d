package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	body   map[string]interface{}
}

type fakeGitHub struct {
	mu       sync.Mutex
	requests []recorded
}

func (f *fakeGitHub) record(r *http.Request) {
	var body map[string]interface{}
	data, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(data, &body)
	f.mu.Lock()
	f.requests = append(f.requests, recorded{method: r.Method, path: r.URL.Path, body: body})
	f.mu.Unlock()
}

func (f *fakeGitHub) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	for i, r := range f.requests {
		out[i] = r.method + " " + r.path
	}
	return out
}

func newTestGitHub(t *testing.T, handler http.Handler) *GitHub {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := github.NewClient(nil)
	u, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = u

	g := newGitHub(client, "acme", "widgets", "", nil)
	g.retry = RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxElapsed: time.Second, MaxRetries: 2}
	return g
}

func TestGitHub_FetchStories(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ralph", r.URL.Query().Get("labels"))
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		fmt.Fprint(w, `[
			{"number": 7, "title": "Add login", "body": "Users log in.\n- [ ] form renders\n- [x] password hashed\n", "html_url": "https://github.com/acme/widgets/issues/7",
			 "labels": [{"name": "ralph"}, {"name": "priority:2"}]},
			{"number": 3, "title": "Add logout", "body": "no checklist"},
			{"number": 9, "title": "a PR", "pull_request": {"url": "x"}}
		]`)
	})
	g := newTestGitHub(t, mux)

	stories, err := g.FetchStories(context.Background())
	require.NoError(t, err)
	require.Len(t, stories, 2)

	assert.Equal(t, "GH-7", stories[0].ID)
	assert.Equal(t, 2, stories[0].Priority)
	assert.Equal(t, []string{"form renders", "password hashed"}, stories[0].AcceptanceCriteria)
	assert.Equal(t, "https://github.com/acme/widgets/issues/7", stories[0].ExternalRef)
	assert.False(t, stories[0].Passes)

	assert.Equal(t, "GH-3", stories[1].ID)
	assert.Equal(t, defaultPriority, stories[1].Priority)
	assert.Equal(t, []string{"Issue #3 is resolved"}, stories[1].AcceptanceCriteria)
}

func TestGitHub_UpdateStoryStatus(t *testing.T) {
	f := &fakeGitHub{}
	g := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		switch {
		case strings.HasSuffix(r.URL.Path, "/labels"):
			fmt.Fprint(w, `[{"name":"blocked"}]`)
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"id": 1}`)
		default:
			fmt.Fprint(w, `{"number": 7}`)
		}
	}))

	require.NoError(t, g.UpdateStoryStatus(context.Background(), StatusUpdate{StoryID: "GH-7", Status: StatusPassed, Iteration: 4, Summary: "All 3 gates passed"}))
	require.NoError(t, g.UpdateStoryStatus(context.Background(), StatusUpdate{StoryID: "GH-7", Status: StatusBlocked}))

	assert.Equal(t, []string{
		"POST /repos/acme/widgets/issues/7/comments",
		"PATCH /repos/acme/widgets/issues/7",
		"POST /repos/acme/widgets/issues/7/comments",
		"POST /repos/acme/widgets/issues/7/labels",
	}, f.paths())
	assert.Contains(t, f.requests[0].body["body"], "All 3 gates passed")
	assert.Equal(t, "closed", f.requests[1].body["state"])
}

func TestGitHub_UpdateStoryStatus_ForeignStory(t *testing.T) {
	f := &fakeGitHub{}
	g := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { f.record(r) }))

	require.NoError(t, g.UpdateStoryStatus(context.Background(), StatusUpdate{StoryID: "S-1", Status: StatusPassed}))
	assert.Empty(t, f.paths())
}

func TestGitHub_CreateIssue(t *testing.T) {
	f := &fakeGitHub{}
	g := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"number": 42, "html_url": "https://github.com/acme/widgets/issues/42"}`)
	}))

	ref, err := g.CreateIssue(context.Background(), IssueRequest{StoryID: "S-1", Title: "S-1 blocked", Body: "gates failing", Labels: []string{"blocked"}})
	require.NoError(t, err)
	assert.Equal(t, "GH-42", ref.ID)
	assert.Equal(t, "https://github.com/acme/widgets/issues/42", ref.URL)
	assert.Equal(t, []interface{}{"ralph", "blocked"}, f.requests[0].body["labels"])
}

func TestGitHub_RetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	g := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"message": "bad gateway"}`)
			return
		}
		fmt.Fprint(w, `[]`)
	}))

	stories, err := g.FetchStories(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stories)
	assert.Equal(t, 3, calls)
}

func TestGitHub_Unauthorized(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	g := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message": "Bad credentials"}`)
	}))

	_, err := g.FetchStories(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrAuthentication, KindOf(err))
	assert.Equal(t, 1, calls, "4xx is not retried")
}

func TestIssueNumber(t *testing.T) {
	n, ok := issueNumber("GH-12", "")
	assert.True(t, ok)
	assert.Equal(t, 12, n)

	n, ok = issueNumber("S-1", "https://github.com/acme/widgets/issues/5")
	assert.True(t, ok)
	assert.Equal(t, 5, n)

	_, ok = issueNumber("S-1", "")
	assert.False(t, ok)
}
