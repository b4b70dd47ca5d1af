package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hunianlab/rumahcari/internal/backend"
	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
	"github.com/hunianlab/rumahcari/internal/geo"
	"github.com/hunianlab/rumahcari/internal/knowledge"
	"github.com/hunianlab/rumahcari/internal/llm"
	"github.com/hunianlab/rumahcari/internal/property"
	"github.com/hunianlab/rumahcari/internal/search"
)

// Tool names exposed to the model. The set is closed: the model cannot
// reach anything that is not declared here.
const (
	ToolSearchProperties = "search_properties"
	ToolGetProperty      = "get_property"
	ToolGetKnowledge     = "get_knowledge"
	ToolGeocode          = "geocode"
)

const (
	// DefaultToolDeadline bounds one tool execution.
	DefaultToolDeadline = 20 * time.Second

	// maxParallelTools bounds concurrent executions within one round.
	maxParallelTools = 4

	// descriptionLimit caps the free-text description inside a
	// get_property result so one verbose listing cannot crowd the
	// model's context.
	descriptionLimit = 2000
)

// Searcher is the retrieval surface the search tool drives.
// *search.Retriever satisfies it.
type Searcher interface {
	Retrieve(ctx context.Context, criteria *property.SearchCriteria, opts search.RetrieveOptions) (*search.RetrievalResult, error)
}

// PropertyFetcher resolves one record by slug. *backend.Client
// satisfies it.
type PropertyFetcher interface {
	GetBySlug(ctx context.Context, kind property.SourceKind, slug string) (*property.Property, error)
}

// Geocoder resolves a place name to coordinates. *geo.Service
// satisfies it.
type Geocoder interface {
	Geocode(ctx context.Context, place string) (geo.Point, bool, error)
}

// TurnContext carries per-turn identity and the optional retrieval
// method override into tool execution.
type TurnContext struct {
	UserID   string
	ThreadID string
	Method   property.SearchMethod
}

// SearchSummary is the retrieval metadata of the most recent search in
// a turn, surfaced verbatim in chat response metadata.
type SearchSummary struct {
	Method     string `json:"method_used"`
	TotalFound int    `json:"total_found"`
	Returned   int    `json:"returned"`
	HasMore    bool   `json:"has_more"`
}

// Outcome is one executed tool call. Content is what the model reads
// next round; execution failures land there too, phrased so the model
// can adjust or report instead of the whole turn aborting.
type Outcome struct {
	Content string
	Search  *SearchSummary
}

// RegistryConfig tunes tool execution.
type RegistryConfig struct {
	// ToolDeadline bounds each call. Zero uses DefaultToolDeadline.
	ToolDeadline time.Duration

	// KnowledgeLimit caps get_knowledge results per call. Zero uses
	// knowledge.DefaultLimit.
	KnowledgeLimit int
}

func (c RegistryConfig) withDefaults() RegistryConfig {
	if c.ToolDeadline <= 0 {
		c.ToolDeadline = DefaultToolDeadline
	}
	if c.KnowledgeLimit <= 0 {
		c.KnowledgeLimit = knowledge.DefaultLimit
	}
	if c.KnowledgeLimit > knowledge.MaxLimit {
		c.KnowledgeLimit = knowledge.MaxLimit
	}
	return c
}

// Registry owns the bounded tool set and executes calls against the
// injected collaborators. Tools never mutate anything: every handler
// is a read.
type Registry struct {
	searcher  Searcher
	fetcher   PropertyFetcher
	knowledge knowledge.Index
	geocoder  Geocoder
	logger    *slog.Logger
	cfg       RegistryConfig
}

// NewRegistry wires the four tools. All collaborators are required.
func NewRegistry(searcher Searcher, fetcher PropertyFetcher, know knowledge.Index, geocoder Geocoder, cfg RegistryConfig, logger *slog.Logger) (*Registry, error) {
	if searcher == nil {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid, "tool registry requires a searcher", nil)
	}
	if fetcher == nil {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid, "tool registry requires a property fetcher", nil)
	}
	if know == nil {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid, "tool registry requires a knowledge index", nil)
	}
	if geocoder == nil {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid, "tool registry requires a geocoder", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		searcher:  searcher,
		fetcher:   fetcher,
		knowledge: know,
		geocoder:  geocoder,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}, nil
}

// Declarations returns the tool definitions sent with every planning
// request.
func (r *Registry) Declarations() []llm.Tool {
	return []llm.Tool{
		llm.NewTool(ToolSearchProperties,
			"Search properties with structured filters plus an optional free-text query. Returns a compact JSON list of matches with slugs for follow-up lookups.",
			searchPropertiesSchema),
		llm.NewTool(ToolGetProperty,
			"Fetch the full detail of one property by slug, as returned by search_properties.",
			getPropertySchema),
		llm.NewTool(ToolGetKnowledge,
			"Look up real-estate domain knowledge: certificates, financing (KPR), taxes, fees, negotiation, market context for Medan.",
			getKnowledgeSchema),
		llm.NewTool(ToolGeocode,
			"Resolve a Medan place or landmark name to coordinates. Use it to confirm a location exists before filtering by radius.",
			geocodeSchema),
	}
}

var searchPropertiesSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "Free-text wishes in Indonesian or English, e.g. 'rumah asri dekat sekolah'. Omit for purely structured searches."},
		"property_type": {"type": "string", "description": "house|shophouse|land|apartment|warehouse|office|villa; Indonesian synonyms (rumah, ruko, tanah, ...) accepted."},
		"listing_type": {"type": "string", "description": "sale or rent; dijual/disewa accepted."},
		"source_kind": {"type": "string", "enum": ["listing", "project"], "description": "Restrict to secondary-market listings or developer projects."},
		"price_min": {"type": "number", "description": "Minimum price in IDR."},
		"price_max": {"type": "number", "description": "Maximum price in IDR."},
		"bedrooms_min": {"type": "integer"},
		"bedrooms_max": {"type": "integer"},
		"bathrooms_min": {"type": "integer"},
		"bathrooms_max": {"type": "integer"},
		"floors_min": {"type": "integer"},
		"floors_max": {"type": "integer"},
		"min_land_area": {"type": "number", "description": "Minimum land area in square meters."},
		"min_building_area": {"type": "number", "description": "Minimum building area in square meters."},
		"location_keyword": {"type": "string", "description": "District, area, or complex name to match textually."},
		"latitude": {"type": "number", "description": "Center latitude for radius search. Requires longitude."},
		"longitude": {"type": "number", "description": "Center longitude for radius search. Requires latitude."},
		"radius_km": {"type": "number", "description": "Radius in km around latitude/longitude. Default 2."},
		"in_complex": {"type": "boolean", "description": "Only properties inside a housing complex."},
		"facing": {"type": "string", "description": "Cardinal facing, e.g. 'timur'."},
		"amenities": {"type": "array", "items": {"type": "string"}, "description": "Required amenities, e.g. ['kolam renang']."},
		"page": {"type": "integer", "description": "1-based result page."},
		"limit": {"type": "integer", "description": "Results per page, max 50."}
	},
	"additionalProperties": false
}`)

var getPropertySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"slug": {"type": "string", "description": "Property slug from a search_properties result."},
		"source_kind": {"type": "string", "enum": ["listing", "project"], "description": "Where the slug lives. Omit to try both."}
	},
	"required": ["slug"],
	"additionalProperties": false
}`)

var getKnowledgeSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "What to look up, e.g. 'perbedaan SHM dan HGB'."},
		"category": {"type": "string", "description": "Optional category filter, e.g. 'legal', 'financing', 'tax'."}
	},
	"required": ["query"],
	"additionalProperties": false
}`)

var geocodeSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"place": {"type": "string", "description": "Place or landmark name, e.g. 'USU' or 'Ringroad'."}
	},
	"required": ["place"],
	"additionalProperties": false
}`)

// Execute runs one tool call under the per-tool deadline and returns
// its outcome. It never returns an error: anything that goes wrong is
// reported to the model through the result content.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall, tc TurnContext) Outcome {
	start := time.Now()
	name := call.Function.Name

	ctx, cancel := context.WithTimeout(ctx, r.cfg.ToolDeadline)
	defer cancel()

	var out Outcome
	switch name {
	case ToolSearchProperties:
		out = r.searchProperties(ctx, call.Function.Arguments, tc)
	case ToolGetProperty:
		out = r.getProperty(ctx, call.Function.Arguments)
	case ToolGetKnowledge:
		out = r.getKnowledge(ctx, call.Function.Arguments)
	case ToolGeocode:
		out = r.geocode(ctx, call.Function.Arguments)
	default:
		out = Outcome{Content: fmt.Sprintf("Unknown tool %q. Available tools: %s, %s, %s, %s.",
			name, ToolSearchProperties, ToolGetProperty, ToolGetKnowledge, ToolGeocode)}
	}

	r.logger.Debug("tool executed",
		slog.String("tool", name),
		slog.String("thread_id", tc.ThreadID),
		slog.Duration("took", time.Since(start)))
	return out
}

func (r *Registry) searchProperties(ctx context.Context, args string, tc TurnContext) Outcome {
	parsed, err := property.ParseCriteriaJSON([]byte(args))
	if err != nil {
		return Outcome{Content: "search_properties arguments are not valid JSON: " + err.Error()}
	}
	if parsed.NeedsClarification() {
		return Outcome{Content: "Search not executed: " + parsed.Clarify +
			" Ask the user one short follow-up question to pin this down."}
	}

	res, err := r.searcher.Retrieve(ctx, parsed.Criteria, search.RetrieveOptions{
		UserID:   tc.UserID,
		ThreadID: tc.ThreadID,
		Method:   tc.Method,
	})
	if err != nil {
		return Outcome{Content: "Search failed: " + err.Error() +
			" Tell the user and suggest retrying or simplifying the request."}
	}

	return Outcome{
		Content: formatSearchResult(res),
		Search: &SearchSummary{
			Method:     res.MethodUsed,
			TotalFound: res.Total,
			Returned:   len(res.Properties),
			HasMore:    res.Total > len(res.Properties),
		},
	}
}

type getPropertyArgs struct {
	Slug       string `json:"slug"`
	SourceKind string `json:"source_kind"`
}

func (r *Registry) getProperty(ctx context.Context, args string) Outcome {
	var in getPropertyArgs
	if err := json.Unmarshal([]byte(args), &in); err != nil {
		return Outcome{Content: "get_property arguments are not valid JSON: " + err.Error()}
	}
	if strings.TrimSpace(in.Slug) == "" {
		return Outcome{Content: "get_property requires a slug. Use a slug from an earlier search_properties result."}
	}

	// An empty kind is fine: the fetcher tries listings, then projects.
	kind := property.SourceKind(strings.ToLower(strings.TrimSpace(in.SourceKind)))
	p, err := r.fetcher.GetBySlug(ctx, kind, in.Slug)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return Outcome{Content: fmt.Sprintf("No property with slug %q exists. It may have been removed; run search_properties again for fresh results.", in.Slug)}
		}
		return Outcome{Content: "Property lookup failed: " + err.Error()}
	}
	return Outcome{Content: formatPropertyDetail(p)}
}

type getKnowledgeArgs struct {
	Query    string `json:"query"`
	Category string `json:"category"`
}

func (r *Registry) getKnowledge(ctx context.Context, args string) Outcome {
	var in getKnowledgeArgs
	if err := json.Unmarshal([]byte(args), &in); err != nil {
		return Outcome{Content: "get_knowledge arguments are not valid JSON: " + err.Error()}
	}

	results, err := r.knowledge.Search(ctx, in.Query, in.Category, r.cfg.KnowledgeLimit)
	if err != nil {
		return Outcome{Content: "Knowledge lookup failed: " + err.Error()}
	}
	if len(results) == 0 {
		return Outcome{Content: fmt.Sprintf("No knowledge entries matched %q. Answer from general knowledge and say the answer is not Medan-specific.", in.Query)}
	}

	type entry struct {
		Title    string `json:"title"`
		Category string `json:"category,omitempty"`
		Content  string `json:"content"`
	}
	entries := make([]entry, len(results))
	for i, res := range results {
		entries[i] = entry{
			Title:    res.Snippet.Title,
			Category: res.Snippet.Category,
			Content:  res.Snippet.Content,
		}
	}
	body, err := json.Marshal(entries)
	if err != nil {
		return Outcome{Content: "Knowledge lookup failed: " + err.Error()}
	}
	return Outcome{Content: fmt.Sprintf("Found %d knowledge entries:\n%s", len(entries), body)}
}

type geocodeArgs struct {
	Place string `json:"place"`
}

func (r *Registry) geocode(ctx context.Context, args string) Outcome {
	var in geocodeArgs
	if err := json.Unmarshal([]byte(args), &in); err != nil {
		return Outcome{Content: "geocode arguments are not valid JSON: " + err.Error()}
	}
	if strings.TrimSpace(in.Place) == "" {
		return Outcome{Content: "geocode requires a place name."}
	}

	pt, found, err := r.geocoder.Geocode(ctx, in.Place)
	if err != nil {
		return Outcome{Content: "Geocoding failed: " + err.Error()}
	}
	if !found {
		return Outcome{Content: fmt.Sprintf("Place %q could not be located. Ask the user for a nearby district or landmark instead.", in.Place)}
	}

	body, err := json.Marshal(struct {
		Place string  `json:"place"`
		Lat   float64 `json:"lat"`
		Lng   float64 `json:"lng"`
	}{Place: in.Place, Lat: pt.Lat, Lng: pt.Lng})
	if err != nil {
		return Outcome{Content: "Geocoding failed: " + err.Error()}
	}
	return Outcome{Content: string(body)}
}

// propertyView is the model-facing projection of a result row: enough
// to compare and recommend, small enough to stack a page of results in
// one context window.
type propertyView struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Kind        string `json:"kind"`
	Type        string `json:"property_type"`
	Listing     string `json:"listing_type"`
	PriceIDR    string `json:"price_idr,omitempty"`
	Bedrooms    string `json:"bedrooms,omitempty"`
	Bathrooms   string `json:"bathrooms,omitempty"`
	Floors      string `json:"floors,omitempty"`
	LandM2      string `json:"land_area_m2,omitempty"`
	BuildingM2  string `json:"building_area_m2,omitempty"`
	Location    string `json:"location,omitempty"`
	Certificate string `json:"certificate,omitempty"`
	Developer   string `json:"developer,omitempty"`
}

func viewOf(p *property.Property) propertyView {
	v := propertyView{
		Slug:        p.Slug,
		Title:       p.Title,
		Kind:        string(p.SourceKind),
		Type:        string(p.PropertyType),
		Listing:     string(p.ListingType),
		Location:    p.LocationText(),
		Certificate: p.CertificateType,
		Developer:   p.Developer,
	}
	if !p.Price.IsZero() {
		v.PriceIDR = p.Price.String()
	}
	if !p.Bedrooms.IsZero() {
		v.Bedrooms = p.Bedrooms.String()
	}
	if !p.Bathrooms.IsZero() {
		v.Bathrooms = p.Bathrooms.String()
	}
	if !p.Floors.IsZero() {
		v.Floors = p.Floors.String()
	}
	if !p.LandArea.IsZero() {
		v.LandM2 = p.LandArea.String()
	}
	if !p.BuildingArea.IsZero() {
		v.BuildingM2 = p.BuildingArea.String()
	}
	return v
}

func formatSearchResult(res *search.RetrievalResult) string {
	if len(res.Properties) == 0 {
		return "No properties matched these criteria. Suggest relaxing one constraint (wider price range, nearby districts) or ask the user which filter to drop."
	}

	views := make([]propertyView, len(res.Properties))
	for i := range res.Properties {
		views[i] = viewOf(&res.Properties[i])
	}
	body, err := json.Marshal(views)
	if err != nil {
		return "Search result could not be rendered: " + err.Error()
	}
	return fmt.Sprintf("Found %d matching properties, showing %d (method %s):\n%s",
		res.Total, len(views), res.MethodUsed, body)
}

func formatPropertyDetail(p *property.Property) string {
	view := struct {
		propertyView
		Status      string   `json:"status,omitempty"`
		Facing      string   `json:"facing,omitempty"`
		InComplex   bool     `json:"in_complex,omitempty"`
		Features    []string `json:"features,omitempty"`
		Amenities   []string `json:"amenities,omitempty"`
		Description string   `json:"description,omitempty"`
		Additional  string   `json:"additional_info,omitempty"`
	}{
		propertyView: viewOf(p),
		Status:       string(p.Status),
		Facing:       p.Facing,
		InComplex:    p.InComplex,
		Features:     p.Features,
		Amenities:    p.Amenities,
		Description:  truncateText(p.Description, descriptionLimit),
		Additional:   truncateText(p.AdditionalInfo, descriptionLimit),
	}
	body, err := json.Marshal(view)
	if err != nil {
		return "Property detail could not be rendered: " + err.Error()
	}
	return "Property detail:\n" + string(body)
}

// truncateText cuts s at the first rune boundary at or before limit
// bytes, marking the cut.
func truncateText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + " [...]"
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
