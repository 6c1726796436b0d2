package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	ResourceConfig     = "stockdesk://config"
	ResourceCacheStats = "stockdesk://cache/stats"
	ResourceVendors    = "stockdesk://vendors"
)

func (s *Server) registerResources() {
	s.mcp.AddResource(mcp.NewResource(ResourceConfig, "config",
		mcp.WithResourceDescription("Effective configuration with secrets redacted"),
		mcp.WithMIMEType("application/json"),
	), s.jsonResource(func() any { return s.info.Config().Redacted() }))

	s.mcp.AddResource(mcp.NewResource(ResourceCacheStats, "cache stats",
		mcp.WithResourceDescription("Vendor cache hits, misses, stale serves and evictions"),
		mcp.WithMIMEType("application/json"),
	), s.jsonResource(func() any { return s.info.Stats() }))

	s.mcp.AddResource(mcp.NewResource(ResourceVendors, "vendors",
		mcp.WithResourceDescription("Vendor fallback order per tool"),
		mcp.WithMIMEType("application/json"),
	), s.jsonResource(func() any { return s.info.ResolutionTable() }))
}

func (s *Server) jsonResource(get func() any) func(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return func(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		body, err := json.MarshalIndent(get(), "", "  ")
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(body),
			},
		}, nil
	}
}
