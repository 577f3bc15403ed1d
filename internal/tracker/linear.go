package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/ralph/internal/ledger"
)

const (
	defaultLinearEndpoint = "https://api.linear.app/graphql"
	linearPageSize        = 50
	linearMaxPages        = 20
	linearMaxBody         = 4 << 20
)

const linearIssuesQuery = `
query TeamIssues($teamId: ID!, $first: Int!, $after: String) {
  issues(
    first: $first
    after: $after
    filter: {
      team: { id: { eq: $teamId } }
      state: { type: { in: ["backlog", "unstarted", "started"] } }
    }
  ) {
    nodes { id identifier title description url priority }
    pageInfo { hasNextPage endCursor }
  }
}`

const linearCommentMutation = `
mutation Comment($issueId: String!, $body: String!) {
  commentCreate(input: { issueId: $issueId, body: $body }) { success }
}`

const linearUpdateMutation = `
mutation Done($id: String!, $stateId: String!) {
  issueUpdate(id: $id, input: { stateId: $stateId }) { success }
}`

const linearCreateMutation = `
mutation Create($input: IssueCreateInput!) {
  issueCreate(input: $input) {
    success
    issue { id identifier url }
  }
}`

// Linear maps a team's open issues to stories over the GraphQL API.
type Linear struct {
	endpoint    string
	apiKey      string
	teamID      string
	doneStateID string
	http        *http.Client
	limiter     *rate.Limiter
	retry       RetryPolicy
	logger      *zap.Logger
}

var _ Tracker = (*Linear)(nil)

// NewLinear builds the linear provider. The key and team fall back to
// LINEAR_API_KEY and LINEAR_TEAM_ID during config loading.
func NewLinear(opts Options) (Tracker, error) {
	cfg := opts.Config.Linear
	if !cfg.APIKey.IsSet() {
		return nil, &Error{Kind: ErrAuthentication, Provider: ProviderLinear, Message: "api key not set (tracker.linear.api_key or LINEAR_API_KEY)"}
	}
	if cfg.TeamID == "" {
		return nil, &Error{Kind: ErrConfig, Provider: ProviderLinear, Message: "team id not set (tracker.linear.team_id or LINEAR_TEAM_ID)"}
	}
	l := &Linear{
		endpoint:    cfg.Endpoint,
		apiKey:      cfg.APIKey.Value(),
		teamID:      cfg.TeamID,
		doneStateID: cfg.DoneStateID,
		http:        &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		retry:       DefaultRetryPolicy(),
		logger:      opts.Logger,
	}
	if l.endpoint == "" {
		l.endpoint = defaultLinearEndpoint
	}
	if cfg.RateLimit <= 0 {
		l.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	return l, nil
}

func (l *Linear) Name() string { return ProviderLinear }

type linearIssue struct {
	ID          string  `json:"id"`
	Identifier  string  `json:"identifier"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	URL         string  `json:"url"`
	Priority    float64 `json:"priority"`
}

func (l *Linear) FetchStories(ctx context.Context) ([]ledger.Story, error) {
	var stories []ledger.Story
	var cursor string
	for page := 0; page < linearMaxPages; page++ {
		vars := map[string]interface{}{"teamId": l.teamID, "first": linearPageSize}
		if cursor != "" {
			vars["after"] = cursor
		}
		var data struct {
			Issues struct {
				Nodes    []linearIssue `json:"nodes"`
				PageInfo struct {
					HasNextPage bool   `json:"hasNextPage"`
					EndCursor   string `json:"endCursor"`
				} `json:"pageInfo"`
			} `json:"issues"`
		}
		if err := l.execute(ctx, linearIssuesQuery, vars, &data); err != nil {
			return nil, err
		}
		for _, is := range data.Issues.Nodes {
			stories = append(stories, storyFromLinear(is))
		}
		if !data.Issues.PageInfo.HasNextPage {
			break
		}
		cursor = data.Issues.PageInfo.EndCursor
	}
	sortStories(stories)
	l.logger.Debug("fetched linear stories", zap.String("team", l.teamID), zap.Int("count", len(stories)))
	return stories, nil
}

// UpdateStoryStatus comments on the issue and, when the story passed and a
// done state is configured, moves it there.
func (l *Linear) UpdateStoryStatus(ctx context.Context, u StatusUpdate) error {
	issueID := u.ExternalRef
	if issueID == "" {
		return nil
	}
	body := fmt.Sprintf("ralph: story **%s** is now `%s` (iteration %d).", u.StoryID, u.Status, u.Iteration)
	if u.Summary != "" {
		body += "\n\n" + u.Summary
	}

	var comment struct {
		CommentCreate struct {
			Success bool `json:"success"`
		} `json:"commentCreate"`
	}
	if err := l.execute(ctx, linearCommentMutation, map[string]interface{}{"issueId": issueID, "body": body}, &comment); err != nil {
		return err
	}
	if !comment.CommentCreate.Success {
		return &Error{Kind: ErrAPI, Provider: ProviderLinear, Message: "commentCreate was not successful"}
	}

	if u.Status != StatusPassed || l.doneStateID == "" {
		return nil
	}
	var update struct {
		IssueUpdate struct {
			Success bool `json:"success"`
		} `json:"issueUpdate"`
	}
	if err := l.execute(ctx, linearUpdateMutation, map[string]interface{}{"id": issueID, "stateId": l.doneStateID}, &update); err != nil {
		return err
	}
	if !update.IssueUpdate.Success {
		return &Error{Kind: ErrAPI, Provider: ProviderLinear, Message: "issueUpdate was not successful"}
	}
	return nil
}

func (l *Linear) CreateIssue(ctx context.Context, req IssueRequest) (IssueRef, error) {
	input := map[string]interface{}{
		"teamId":      l.teamID,
		"title":       req.Title,
		"description": req.Body,
	}
	var data struct {
		IssueCreate struct {
			Success bool        `json:"success"`
			Issue   linearIssue `json:"issue"`
		} `json:"issueCreate"`
	}
	if err := l.execute(ctx, linearCreateMutation, map[string]interface{}{"input": input}, &data); err != nil {
		return IssueRef{}, err
	}
	if !data.IssueCreate.Success {
		return IssueRef{}, &Error{Kind: ErrAPI, Provider: ProviderLinear, Message: "issueCreate was not successful"}
	}
	return IssueRef{ID: data.IssueCreate.Issue.Identifier, URL: data.IssueCreate.Issue.URL}, nil
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message    string `json:"message"`
		Extensions struct {
			Code string `json:"code"`
		} `json:"extensions"`
	} `json:"errors"`
}

// statusError carries a non-2xx HTTP status through the retry loop.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

// execute posts one GraphQL request, retrying transient failures, and
// decodes data into out.
func (l *Linear) execute(ctx context.Context, query string, vars map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return &Error{Kind: ErrAPI, Provider: ProviderLinear, Message: "encode request", Err: err}
	}

	var gql graphQLResponse
	err = retry(ctx, l.retry, linearRetryable, func() error {
		if err := l.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", l.apiKey)

		resp, err := l.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, linearMaxBody))
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &statusError{code: resp.StatusCode, body: truncate(string(body), 256)}
		}
		gql = graphQLResponse{}
		return json.Unmarshal(body, &gql)
	})
	if err != nil {
		return classifyLinear(err)
	}

	if len(gql.Errors) > 0 {
		msgs := make([]string, len(gql.Errors))
		kind := ErrAPI
		for i, e := range gql.Errors {
			msgs[i] = e.Message
			switch strings.ToUpper(e.Extensions.Code) {
			case "RATELIMITED":
				kind = ErrRateLimit
			case "AUTHENTICATION_ERROR", "FORBIDDEN":
				kind = ErrAuthentication
			}
		}
		return &Error{Kind: kind, Provider: ProviderLinear, Message: "GraphQL errors: " + strings.Join(msgs, "; ")}
	}
	if out != nil && len(gql.Data) > 0 {
		if err := json.Unmarshal(gql.Data, out); err != nil {
			return &Error{Kind: ErrAPI, Provider: ProviderLinear, Message: "decode response", Err: err}
		}
	}
	return nil
}

func linearRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func classifyLinear(err error) *Error {
	e := &Error{Kind: ErrAPI, Provider: ProviderLinear, Message: "request failed", Err: err}
	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.code == http.StatusUnauthorized || se.code == http.StatusForbidden:
			e.Kind, e.Message = ErrAuthentication, "not authorized"
		case se.code == http.StatusTooManyRequests:
			e.Kind, e.Message = ErrRateLimit, "rate limited"
		}
	}
	return e
}

func storyFromLinear(is linearIssue) ledger.Story {
	s := ledger.Story{
		ID:          is.Identifier,
		Title:       is.Title,
		Description: is.Description,
		Priority:    defaultPriority,
		ExternalRef: is.ID,
	}
	// Linear: 0 none, 1 urgent .. 4 low.
	if p := int(is.Priority); p > 0 {
		s.Priority = p
	}
	for _, line := range strings.Split(is.Description, "\n") {
		if m := checklistItem.FindStringSubmatch(line); m != nil {
			s.AcceptanceCriteria = append(s.AcceptanceCriteria, m[1])
		}
	}
	if len(s.AcceptanceCriteria) == 0 {
		s.AcceptanceCriteria = []string{is.Identifier + " is resolved"}
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
