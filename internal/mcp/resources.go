package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/ralph/internal/progress"
)

const (
	// StoriesURI serves the committed ledger as JSON.
	StoriesURI = "ralph://stories"
	// ProgressURI serves the whole progress log as JSON.
	ProgressURI = "ralph://progress"

	jsonMIME = "application/json"
)

func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		URI:         StoriesURI,
		Name:        "stories",
		Description: "The story ledger as last committed by the loop",
		MIMEType:    jsonMIME,
	}, s.readStories)

	s.mcp.AddResource(&mcp.Resource{
		URI:         ProgressURI,
		Name:        "progress",
		Description: "Every recorded iteration outcome, oldest first",
		MIMEType:    jsonMIME,
	}, s.readProgress)
}

func (s *Server) readStories(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return jsonResource(StoriesURI, s.ctrl.Ledger())
}

func (s *Server) readProgress(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	outcomes, err := s.ctrl.Progress(0)
	if err != nil {
		return nil, err
	}
	if outcomes == nil {
		outcomes = []progress.Outcome{}
	}
	return jsonResource(ProgressURI, s.scrubOutcomes(outcomes))
}

func jsonResource(uri string, v interface{}) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: jsonMIME,
			Text:     string(data),
		}},
	}, nil
}
