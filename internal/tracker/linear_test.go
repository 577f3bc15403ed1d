package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ralph/internal/config"
)

type gqlCall struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

func newTestLinear(t *testing.T, handler func(w http.ResponseWriter, call gqlCall)) (*Linear, *[]gqlCall) {
	t.Helper()
	var mu sync.Mutex
	var calls []gqlCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "lin_api_test", r.Header.Get("Authorization"))
		var c gqlCall
		require.NoError(t, json.NewDecoder(r.Body).Decode(&c))
		mu.Lock()
		calls = append(calls, c)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		handler(w, c)
	}))
	t.Cleanup(srv.Close)

	cfg := config.TrackerConfig{Provider: ProviderLinear}
	cfg.Linear.TeamID = "team-1"
	cfg.Linear.DoneStateID = "state-done"
	cfg.Linear.Endpoint = srv.URL
	cfg.Linear.RateLimit = 100
	require.NoError(t, cfg.Linear.APIKey.UnmarshalText([]byte("lin_api_test")))

	tr, err := NewLinear(Options{Config: cfg})
	require.NoError(t, err)
	l := tr.(*Linear)
	l.retry = RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxElapsed: time.Second, MaxRetries: 2}
	return l, &calls
}

func TestLinear_FetchStories_Paginates(t *testing.T) {
	l, calls := newTestLinear(t, func(w http.ResponseWriter, c gqlCall) {
		if c.Variables["after"] == nil {
			w.Write([]byte(`{"data":{"issues":{"nodes":[
				{"id":"u-2","identifier":"ENG-2","title":"Second","description":"- [ ] works","priority":3}
			],"pageInfo":{"hasNextPage":true,"endCursor":"c1"}}}}`))
			return
		}
		w.Write([]byte(`{"data":{"issues":{"nodes":[
			{"id":"u-1","identifier":"ENG-1","title":"First","description":"","priority":0}
		],"pageInfo":{"hasNextPage":false,"endCursor":""}}}}`))
	})

	stories, err := l.FetchStories(context.Background())
	require.NoError(t, err)
	require.Len(t, stories, 2)

	assert.Equal(t, "ENG-2", stories[0].ID, "priority 3 sorts before unset")
	assert.Equal(t, 3, stories[0].Priority)
	assert.Equal(t, []string{"works"}, stories[0].AcceptanceCriteria)
	assert.Equal(t, "u-2", stories[0].ExternalRef)
	assert.Equal(t, defaultPriority, stories[1].Priority)

	require.Len(t, *calls, 2)
	assert.Equal(t, "team-1", (*calls)[0].Variables["teamId"])
	assert.Equal(t, "c1", (*calls)[1].Variables["after"])
}

func TestLinear_UpdateStoryStatus_UsesVariables(t *testing.T) {
	l, calls := newTestLinear(t, func(w http.ResponseWriter, c gqlCall) {
		w.Write([]byte(`{"data":{"commentCreate":{"success":true},"issueUpdate":{"success":true}}}`))
	})

	summary := `quotes " and braces } must not break the query`
	err := l.UpdateStoryStatus(context.Background(), StatusUpdate{StoryID: "ENG-1", ExternalRef: "u-1", Status: StatusPassed, Summary: summary})
	require.NoError(t, err)

	require.Len(t, *calls, 2)
	assert.Contains(t, (*calls)[0].Query, "commentCreate")
	assert.NotContains(t, (*calls)[0].Query, summary)
	assert.Contains(t, (*calls)[0].Variables["body"], summary)
	assert.Equal(t, "u-1", (*calls)[1].Variables["id"])
	assert.Equal(t, "state-done", (*calls)[1].Variables["stateId"])
}

func TestLinear_UpdateStoryStatus_BlockedOnlyComments(t *testing.T) {
	l, calls := newTestLinear(t, func(w http.ResponseWriter, c gqlCall) {
		w.Write([]byte(`{"data":{"commentCreate":{"success":true}}}`))
	})
	require.NoError(t, l.UpdateStoryStatus(context.Background(), StatusUpdate{StoryID: "ENG-1", ExternalRef: "u-1", Status: StatusBlocked}))
	assert.Len(t, *calls, 1)

	require.NoError(t, l.UpdateStoryStatus(context.Background(), StatusUpdate{StoryID: "S-1", Status: StatusBlocked}))
	assert.Len(t, *calls, 1, "stories without a Linear id are skipped")
}

func TestLinear_CreateIssue(t *testing.T) {
	l, calls := newTestLinear(t, func(w http.ResponseWriter, c gqlCall) {
		w.Write([]byte(`{"data":{"issueCreate":{"success":true,"issue":{"id":"u-9","identifier":"ENG-9","url":"https://linear.app/acme/issue/ENG-9"}}}}`))
	})

	ref, err := l.CreateIssue(context.Background(), IssueRequest{Title: "S-1 blocked", Body: "details"})
	require.NoError(t, err)
	assert.Equal(t, "ENG-9", ref.ID)
	input := (*calls)[0].Variables["input"].(map[string]interface{})
	assert.Equal(t, "team-1", input["teamId"])
	assert.Equal(t, "S-1 blocked", input["title"])
}

func TestLinear_GraphQLErrors(t *testing.T) {
	l, _ := newTestLinear(t, func(w http.ResponseWriter, c gqlCall) {
		w.Write([]byte(`{"errors":[{"message":"slow down","extensions":{"code":"RATELIMITED"}}]}`))
	})
	_, err := l.FetchStories(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrRateLimit, KindOf(err))
	assert.Contains(t, err.Error(), "slow down")
}

func TestLinear_HTTPErrors(t *testing.T) {
	var mu sync.Mutex
	status := http.StatusServiceUnavailable
	l, calls := newTestLinear(t, func(w http.ResponseWriter, c gqlCall) {
		mu.Lock()
		defer mu.Unlock()
		w.WriteHeader(status)
	})

	_, err := l.FetchStories(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrAPI, KindOf(err))
	assert.Len(t, *calls, 3, "5xx is retried")

	mu.Lock()
	status = http.StatusUnauthorized
	mu.Unlock()
	*calls = nil
	_, err = l.FetchStories(context.Background())
	assert.Equal(t, ErrAuthentication, KindOf(err))
	assert.Len(t, *calls, 1)
}
