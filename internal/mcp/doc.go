// Package mcp exposes a running loop over the Model Context Protocol.
//
// The server speaks MCP on stdio (github.com/modelcontextprotocol/go-sdk/mcp)
// and registers six tools: start, stop, status, list_stories, get_progress
// and reset_story. It also serves two read-only resources, ralph://stories
// and ralph://progress.
//
// Read tools answer from the orchestrator's last committed snapshot and
// never wait for the loop. Failed calls return an IsError result whose
// structured content is {kind, message}, with kind taken from the failure
// taxonomy. Agent and gate text in progress results is passed through the
// secret scrubber before it leaves the process.
package mcp
