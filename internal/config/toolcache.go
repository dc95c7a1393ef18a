package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tiktoken-go/tokenizer"
)

const ToolCacheVersion = 2

// ToolCache stores the last tool listing seen for each configured server,
// with the token cost of each definition. It lives next to the config file.
type ToolCache struct {
	path  string
	cache toolCacheFile
	mu    sync.RWMutex
}

type toolCacheFile struct {
	Version int                        `json:"version"`
	Servers map[string]ServerToolCache `json:"servers"`
}

// ServerToolCache stores cached tool data for a single server.
type ServerToolCache struct {
	ProtocolVersion string       `json:"protocolVersion,omitempty"`
	Tools           []CachedTool `json:"tools"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// TotalTokens sums the token counts of every tool.
func (s ServerToolCache) TotalTokens() int {
	total := 0
	for _, t := range s.Tools {
		total += t.TokenCount
	}
	return total
}

// CachedTool stores a tool definition with its precomputed token count.
type CachedTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	TokenCount  int             `json:"tokenCount"`
}

// ToolCachePath returns the cache file path co-located with the config file.
// An empty configPath means the default config location.
func ToolCachePath(configPath string) (string, error) {
	if configPath == "" {
		var err error
		configPath, err = ConfigPath()
		if err != nil {
			return "", err
		}
	}
	expanded, err := expandHome(configPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(expanded), "toolcache.json"), nil
}

// NewToolCache creates or loads a tool cache for the given config path.
func NewToolCache(configPath string) (*ToolCache, error) {
	path, err := ToolCachePath(configPath)
	if err != nil {
		return nil, err
	}
	tc := &ToolCache{
		path: path,
		cache: toolCacheFile{
			Version: ToolCacheVersion,
			Servers: make(map[string]ServerToolCache),
		},
	}
	tc.load()
	return tc, nil
}

// Path returns the cache file location.
func (tc *ToolCache) Path() string { return tc.path }

// CachedToolInput is the input for updating cached tools (keeps config free of mcp types).
type CachedToolInput struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Update caches tools for a server, computing token counts.
func (tc *ToolCache) Update(server, protocolVersion string, tools []CachedToolInput) (ServerToolCache, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	cached := make([]CachedTool, len(tools))
	for i, t := range tools {
		cached[i] = CachedTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			TokenCount:  CountToolTokens(t.Name, t.Description, t.InputSchema),
		}
	}
	entry := ServerToolCache{
		ProtocolVersion: protocolVersion,
		Tools:           cached,
		UpdatedAt:       time.Now(),
	}
	tc.cache.Servers[server] = entry
	return entry, tc.save()
}

// Get retrieves cached tools for a server.
func (tc *ToolCache) Get(server string) (ServerToolCache, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	entry, ok := tc.cache.Servers[server]
	return entry, ok
}

// Delete removes a server from the cache.
func (tc *ToolCache) Delete(server string) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if _, ok := tc.cache.Servers[server]; !ok {
		return nil
	}
	delete(tc.cache.Servers, server)
	return tc.save()
}

func (tc *ToolCache) load() {
	data, err := os.ReadFile(tc.path)
	if err != nil {
		return
	}

	var file toolCacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		return
	}

	// Version mismatch: discard stale cache
	if file.Version != ToolCacheVersion {
		return
	}

	if file.Servers == nil {
		file.Servers = make(map[string]ServerToolCache)
	}
	tc.cache = file
}

func (tc *ToolCache) save() error {
	if err := os.MkdirAll(filepath.Dir(tc.path), 0700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	data, err := json.MarshalIndent(tc.cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tool cache: %w", err)
	}

	tmpFile := tc.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("write temp cache: %w", err)
	}

	if err := os.Rename(tmpFile, tc.path); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("rename cache: %w", err)
	}

	return nil
}

// CountToolTokens estimates the tokens a tool definition costs a model,
// counting its name, description and input schema with cl100k_base.
func CountToolTokens(name, description string, inputSchema json.RawMessage) int {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return estimateFallback(name, description, inputSchema)
	}

	total := countOrZero(codec, name)
	if description != "" {
		total += countOrZero(codec, description)
	}
	if len(inputSchema) > 0 {
		total += countOrZero(codec, string(inputSchema))
	}
	return total
}

func countOrZero(codec tokenizer.Codec, text string) int {
	tokens, _, err := codec.Encode(text)
	if err != nil {
		return len(text) / 4
	}
	return len(tokens)
}

func estimateFallback(name, desc string, schema json.RawMessage) int {
	return (len(name) + len(desc) + len(schema)) / 4
}
