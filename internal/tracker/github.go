package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/ralph/internal/ledger"
	"github.com/fyrsmithlabs/ralph/internal/workspace"
)

const (
	githubIDPrefix      = "GH-"
	defaultGitHubLabel  = "ralph"
	blockedLabel        = "blocked"
	defaultPriority     = 100
	githubPageSize      = 100
	githubMaxPages      = 20
	priorityLabelPrefix = "priority:"
)

var checklistItem = regexp.MustCompile(`^\s*[-*]\s+\[[ xX]\]\s+(.+?)\s*$`)

// GitHub maps labelled repository issues to stories.
type GitHub struct {
	client *github.Client
	owner  string
	repo   string
	label  string
	retry  RetryPolicy
	logger *zap.Logger
}

var _ Tracker = (*GitHub)(nil)

// NewGitHub builds the github provider. Owner and repo default to the
// workspace's origin remote.
func NewGitHub(opts Options) (Tracker, error) {
	cfg := opts.Config.GitHub
	if !cfg.Token.IsSet() {
		return nil, &Error{Kind: ErrAuthentication, Provider: ProviderGitHub, Message: "token not set (tracker.github.token or GITHUB_TOKEN)"}
	}
	owner, repo := cfg.Owner, cfg.Repo
	if owner == "" || repo == "" {
		o, r, err := workspace.GitHubRemote(opts.Dir)
		if err != nil {
			return nil, &Error{Kind: ErrConfig, Provider: ProviderGitHub, Message: "owner/repo not set and not inferable", Err: err}
		}
		owner, repo = o, r
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
	client := github.NewClient(oauth2.NewClient(context.Background(), ts))
	return newGitHub(client, owner, repo, cfg.Label, opts.Logger), nil
}

func newGitHub(client *github.Client, owner, repo, label string, logger *zap.Logger) *GitHub {
	if label == "" {
		label = defaultGitHubLabel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitHub{
		client: client,
		owner:  owner,
		repo:   repo,
		label:  label,
		retry:  DefaultRetryPolicy(),
		logger: logger,
	}
}

func (g *GitHub) Name() string { return ProviderGitHub }

// FetchStories lists open issues carrying the configured label.
func (g *GitHub) FetchStories(ctx context.Context) ([]ledger.Story, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		Labels:      []string{g.label},
		ListOptions: github.ListOptions{PerPage: githubPageSize},
	}

	var stories []ledger.Story
	for page := 0; page < githubMaxPages; page++ {
		var issues []*github.Issue
		var resp *github.Response
		err := g.do(ctx, func() error {
			var err error
			issues, resp, err = g.client.Issues.ListByRepo(ctx, g.owner, g.repo, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, is := range issues {
			if is.IsPullRequest() {
				continue
			}
			stories = append(stories, storyFromIssue(is))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	sortStories(stories)

	g.logger.Debug("fetched github stories",
		zap.String("repo", g.owner+"/"+g.repo),
		zap.Int("count", len(stories)),
	)
	return stories, nil
}

// UpdateStoryStatus comments on the backing issue, closing it on pass and
// labelling it on block. Stories that did not come from GitHub are ignored.
func (g *GitHub) UpdateStoryStatus(ctx context.Context, u StatusUpdate) error {
	number, ok := issueNumber(u.StoryID, u.ExternalRef)
	if !ok {
		return nil
	}

	body := fmt.Sprintf("ralph: story **%s** is now `%s` (iteration %d).", u.StoryID, u.Status, u.Iteration)
	if u.Summary != "" {
		body += "\n\n" + u.Summary
	}
	if err := g.do(ctx, func() error {
		_, _, err := g.client.Issues.CreateComment(ctx, g.owner, g.repo, number, &github.IssueComment{Body: github.String(body)})
		return err
	}); err != nil {
		return err
	}

	switch u.Status {
	case StatusPassed:
		return g.do(ctx, func() error {
			_, _, err := g.client.Issues.Edit(ctx, g.owner, g.repo, number, &github.IssueRequest{
				State:       github.String("closed"),
				StateReason: github.String("completed"),
			})
			return err
		})
	case StatusBlocked:
		return g.do(ctx, func() error {
			_, _, err := g.client.Issues.AddLabelsToIssue(ctx, g.owner, g.repo, number, []string{blockedLabel})
			return err
		})
	}
	return nil
}

// CreateIssue opens an issue with the ralph label plus req.Labels.
func (g *GitHub) CreateIssue(ctx context.Context, req IssueRequest) (IssueRef, error) {
	labels := append([]string{g.label}, req.Labels...)
	var issue *github.Issue
	err := g.do(ctx, func() error {
		var err error
		issue, _, err = g.client.Issues.Create(ctx, g.owner, g.repo, &github.IssueRequest{
			Title:  github.String(req.Title),
			Body:   github.String(req.Body),
			Labels: &labels,
		})
		return err
	})
	if err != nil {
		return IssueRef{}, err
	}
	return IssueRef{
		ID:  githubIDPrefix + strconv.Itoa(issue.GetNumber()),
		URL: issue.GetHTMLURL(),
	}, nil
}

// do retries op on transient errors and classifies the final error.
func (g *GitHub) do(ctx context.Context, op func() error) error {
	err := retry(ctx, g.retry, githubRetryable, op)
	if err == nil {
		return nil
	}
	return classifyGitHub(err)
}

func githubRetryable(err error) bool {
	var rl *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &rl) || errors.As(err, &abuse) {
		return true
	}
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		code := er.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= 500
	}
	// Transport errors.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func classifyGitHub(err error) *Error {
	e := &Error{Kind: ErrAPI, Provider: ProviderGitHub, Message: "request failed", Err: err}
	var rl *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	var er *github.ErrorResponse
	switch {
	case errors.As(err, &rl), errors.As(err, &abuse):
		e.Kind, e.Message = ErrRateLimit, "rate limited"
	case errors.As(err, &er) && er.Response != nil:
		switch er.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			e.Kind, e.Message = ErrAuthentication, "not authorized"
		case http.StatusTooManyRequests:
			e.Kind, e.Message = ErrRateLimit, "rate limited"
		default:
			e.Message = fmt.Sprintf("status %d", er.Response.StatusCode)
		}
	}
	return e
}

func storyFromIssue(is *github.Issue) ledger.Story {
	s := ledger.Story{
		ID:          githubIDPrefix + strconv.Itoa(is.GetNumber()),
		Title:       is.GetTitle(),
		Description: is.GetBody(),
		Priority:    defaultPriority,
		ExternalRef: is.GetHTMLURL(),
	}
	for _, l := range is.Labels {
		name := l.GetName()
		if strings.HasPrefix(name, priorityLabelPrefix) {
			if p, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(name, priorityLabelPrefix))); err == nil {
				s.Priority = p
			}
		}
	}
	for _, line := range strings.Split(is.GetBody(), "\n") {
		if m := checklistItem.FindStringSubmatch(line); m != nil {
			s.AcceptanceCriteria = append(s.AcceptanceCriteria, m[1])
		}
	}
	if len(s.AcceptanceCriteria) == 0 {
		s.AcceptanceCriteria = []string{"Issue #" + strconv.Itoa(is.GetNumber()) + " is resolved"}
	}
	return s
}

// issueNumber resolves the issue behind a story id (GH-12) or an issue URL.
func issueNumber(storyID, ref string) (int, bool) {
	if strings.HasPrefix(storyID, githubIDPrefix) {
		if n, err := strconv.Atoi(strings.TrimPrefix(storyID, githubIDPrefix)); err == nil {
			return n, true
		}
	}
	if i := strings.LastIndex(ref, "/issues/"); i >= 0 {
		if n, err := strconv.Atoi(ref[i+len("/issues/"):]); err == nil {
			return n, true
		}
	}
	return 0, false
}

// sortStories orders fetched stories the way the ledger selects them.
func sortStories(stories []ledger.Story) {
	sort.SliceStable(stories, func(i, j int) bool {
		if stories[i].Priority != stories[j].Priority {
			return stories[i].Priority < stories[j].Priority
		}
		return stories[i].ID < stories[j].ID
	})
}
