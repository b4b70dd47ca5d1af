package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hunianlab/rumahcari/internal/agent"
	"github.com/hunianlab/rumahcari/internal/backend"
	"github.com/hunianlab/rumahcari/internal/knowledge"
	"github.com/hunianlab/rumahcari/internal/property"
	"github.com/hunianlab/rumahcari/internal/search"
	"github.com/hunianlab/rumahcari/internal/validation"
	"github.com/hunianlab/rumahcari/pkg/version"
)

// Server bridges MCP clients with the retrieval engine. It serves the
// same four read-only tools the chat agent plans over, against the same
// collaborators.
type Server struct {
	mcp       *mcp.Server
	searcher  agent.Searcher
	fetcher   agent.PropertyFetcher
	knowledge knowledge.Index
	geocoder  agent.Geocoder
	logger    *slog.Logger

	// knowledgeLimit caps get_knowledge results per call.
	knowledgeLimit int
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithKnowledgeLimit caps get_knowledge results per call.
func WithKnowledgeLimit(limit int) Option {
	return func(s *Server) {
		if limit > 0 {
			s.knowledgeLimit = limit
		}
	}
}

// NewServer wires the tool surface. All collaborators are required.
func NewServer(searcher agent.Searcher, fetcher agent.PropertyFetcher, know knowledge.Index, geocoder agent.Geocoder, opts ...Option) (*Server, error) {
	if searcher == nil {
		return nil, errors.New("mcp server requires a searcher")
	}
	if fetcher == nil {
		return nil, errors.New("mcp server requires a property fetcher")
	}
	if know == nil {
		return nil, errors.New("mcp server requires a knowledge index")
	}
	if geocoder == nil {
		return nil, errors.New("mcp server requires a geocoder")
	}

	s := &Server{
		searcher:       searcher,
		fetcher:        fetcher,
		knowledge:      know,
		geocoder:       geocoder,
		logger:         slog.Default(),
		knowledgeLimit: knowledge.DefaultLimit,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "rumahcari",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// registerTools registers the four tools.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_properties",
		Description: "Search Medan property listings and developer projects with structured filters plus an optional free-text query. Returns compact rows with slugs for follow-up lookups.",
	}, s.searchPropertiesHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_property",
		Description: "Fetch the full detail of one property by slug, as returned by search_properties.",
	}, s.getPropertyHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_knowledge",
		Description: "Look up real-estate domain knowledge: certificates, financing (KPR), taxes, fees, negotiation, market context for Medan.",
	}, s.getKnowledgeHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "geocode",
		Description: "Resolve a Medan place or landmark name to coordinates. Use it to confirm a location exists before filtering by radius.",
	}, s.geocodeHandler)

	s.logger.Debug("mcp tools registered", slog.Int("count", 4))
}

func (s *Server) searchPropertiesHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchPropertiesInput) (
	*mcp.CallToolResult,
	SearchPropertiesOutput,
	error,
) {
	// Round-trip through the criteria parser so MCP input gets the
	// same synonym mapping and validation as agent tool calls.
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, SearchPropertiesOutput{}, NewInvalidParamsError(err.Error())
	}
	parsed, err := property.ParseCriteriaJSON(raw)
	if err != nil {
		return nil, SearchPropertiesOutput{}, MapError(err)
	}
	if parsed.NeedsClarification() {
		return nil, SearchPropertiesOutput{Clarification: parsed.Clarify}, nil
	}

	start := time.Now()
	res, err := s.searcher.Retrieve(ctx, parsed.Criteria, search.RetrieveOptions{})
	if err != nil {
		s.logger.Error("mcp search failed",
			slog.Duration("took", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, SearchPropertiesOutput{}, MapError(err)
	}

	out := SearchPropertiesOutput{
		Properties: make([]PropertyView, 0, len(res.Properties)),
		Total:      res.Total,
		MethodUsed: res.MethodUsed,
		TookMS:     res.TookMS,
	}
	for i := range res.Properties {
		out.Properties = append(out.Properties, viewOf(&res.Properties[i]))
	}

	s.logger.Info("mcp search completed",
		slog.Int("returned", len(out.Properties)),
		slog.Int("total", out.Total),
		slog.String("method", out.MethodUsed))
	return nil, out, nil
}

func (s *Server) getPropertyHandler(ctx context.Context, _ *mcp.CallToolRequest, input GetPropertyInput) (
	*mcp.CallToolResult,
	GetPropertyOutput,
	error,
) {
	if err := validation.Slug(input.Slug); err != nil {
		return nil, GetPropertyOutput{}, MapError(err)
	}
	kind, err := validation.SourceKind(input.SourceKind)
	if err != nil {
		return nil, GetPropertyOutput{}, MapError(err)
	}
	if input.SourceKind == "" {
		kind = "" // empty kind: the fetcher tries listings, then projects
	}

	p, err := s.fetcher.GetBySlug(ctx, kind, input.Slug)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, GetPropertyOutput{}, NewInvalidParamsError(
				"no property with slug " + input.Slug)
		}
		return nil, GetPropertyOutput{}, MapError(err)
	}
	return nil, GetPropertyOutput{Property: p}, nil
}

func (s *Server) getKnowledgeHandler(ctx context.Context, _ *mcp.CallToolRequest, input GetKnowledgeInput) (
	*mcp.CallToolResult,
	GetKnowledgeOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, GetKnowledgeOutput{}, NewInvalidParamsError("query is required")
	}
	limit := s.knowledgeLimit
	if input.Limit > 0 && input.Limit < limit {
		limit = input.Limit
	}

	results, err := s.knowledge.Search(ctx, input.Query, input.Category, limit)
	if err != nil {
		return nil, GetKnowledgeOutput{}, MapError(err)
	}

	out := GetKnowledgeOutput{Entries: make([]KnowledgeEntry, 0, len(results))}
	for _, res := range results {
		out.Entries = append(out.Entries, KnowledgeEntry{
			Title:    res.Snippet.Title,
			Category: res.Snippet.Category,
			Content:  res.Snippet.Content,
			Score:    res.Score,
		})
	}
	return nil, out, nil
}

func (s *Server) geocodeHandler(ctx context.Context, _ *mcp.CallToolRequest, input GeocodeInput) (
	*mcp.CallToolResult,
	GeocodeOutput,
	error,
) {
	if strings.TrimSpace(input.Place) == "" {
		return nil, GeocodeOutput{}, NewInvalidParamsError("place is required")
	}

	pt, found, err := s.geocoder.Geocode(ctx, input.Place)
	if err != nil {
		return nil, GeocodeOutput{}, MapError(err)
	}
	out := GeocodeOutput{Place: input.Place, Found: found}
	if found {
		out.Lat = pt.Lat
		out.Lng = pt.Lng
	}
	return nil, out, nil
}

// Serve runs the server over stdio until the context is canceled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server", slog.String("transport", "stdio"))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}
