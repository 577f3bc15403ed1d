package mcp

import (
	"sort"
	"sync"
)

// ToolCategory groups tools by what they do to the loop.
type ToolCategory string

const (
	// CategoryControl tools change loop state.
	CategoryControl ToolCategory = "control"
	// CategoryQuery tools only read the last committed snapshot.
	CategoryQuery ToolCategory = "query"
	// CategoryAudit tools inspect the workspace without touching the loop.
	CategoryAudit ToolCategory = "audit"
)

// ToolMetadata describes a registered tool.
type ToolMetadata struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    ToolCategory `json:"category"`

	// Mutating tools write the ledger or start and stop the loop.
	Mutating bool `json:"mutating"`

	// Idempotent tools leave the loop unchanged when repeated with the same
	// arguments, e.g. start on a running loop.
	Idempotent bool `json:"idempotent"`
}

// ToolRegistry records metadata about every tool the server exposes.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*ToolMetadata
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*ToolMetadata),
	}
}

// Register adds a tool. Nil or unnamed tools are ignored; a second
// registration under the same name replaces the first.
func (r *ToolRegistry) Register(tool *ToolMetadata) {
	if tool == nil || tool.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Get returns the metadata for a tool.
func (r *ToolRegistry) Get(name string) (*ToolMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all tools sorted by name.
func (r *ToolRegistry) List() []*ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*ToolMetadata, 0, len(r.tools))
	for _, tool := range r.tools {
		result = append(result, tool)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// ListNames returns all tool names, sorted.
func (r *ToolRegistry) ListNames() []string {
	tools := r.List()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

// ListByCategory returns the tools in category, sorted by name.
func (r *ToolRegistry) ListByCategory(category ToolCategory) []*ToolMetadata {
	var result []*ToolMetadata
	for _, tool := range r.List() {
		if tool.Category == category {
			result = append(result, tool)
		}
	}
	return result
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
