package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hunianlab/rumahcari/internal/output"
	"github.com/hunianlab/rumahcari/internal/property"
	"github.com/hunianlab/rumahcari/internal/search"
	"github.com/hunianlab/rumahcari/pkg/retrieval"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	propertyType string
	listingType  string
	priceMin     float64
	priceMax     float64
	bedrooms     int
	location     string
	limit        int
	method       string
	jsonOutput   bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Run one retrieval against the live engine",
		Long: `Run a single property search and print the results.

The free-text query feeds the semantic leg; the flags feed the
structured filters. Indonesian spellings are accepted wherever the chat
agent accepts them ("rumah", "dijual", "di bawah 2M" belongs in the
query text).`,
		Example: `  rumahcari search "rumah asri dekat sekolah" --max-price 2000000000
  rumahcari search --type ruko --location "Ringroad" --limit 5
  rumahcari search "gudang dekat pelabuhan" --method vector_only --json`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.propertyType, "type", "t", "", "Property type (house, shophouse, land, ... or Indonesian synonyms)")
	cmd.Flags().StringVar(&opts.listingType, "listing", "", "Listing type: sale or rent")
	cmd.Flags().Float64Var(&opts.priceMin, "min-price", 0, "Minimum price in IDR")
	cmd.Flags().Float64Var(&opts.priceMax, "max-price", 0, "Maximum price in IDR")
	cmd.Flags().IntVar(&opts.bedrooms, "bedrooms", 0, "Minimum bedrooms")
	cmd.Flags().StringVar(&opts.location, "location", "", "Location keyword (district, area, complex)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum results")
	cmd.Flags().StringVar(&opts.method, "method", "", "Force a retrieval method: hybrid, api_only, vector_only")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup, err := setupLogging(cfg, false)
	if err != nil {
		return err
	}
	defer cleanup()

	raw := map[string]any{}
	if query != "" {
		raw["query"] = query
	}
	if opts.propertyType != "" {
		raw["property_type"] = opts.propertyType
	}
	if opts.listingType != "" {
		raw["listing_type"] = opts.listingType
	}
	if opts.priceMin > 0 {
		raw["price_min"] = opts.priceMin
	}
	if opts.priceMax > 0 {
		raw["price_max"] = opts.priceMax
	}
	if opts.bedrooms > 0 {
		raw["bedrooms_min"] = opts.bedrooms
	}
	if opts.location != "" {
		raw["location_keyword"] = opts.location
	}
	if opts.limit > 0 {
		raw["limit"] = opts.limit
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	parsed, err := property.ParseCriteriaJSON(payload)
	if err != nil {
		return err
	}
	if parsed.NeedsClarification() {
		return fmt.Errorf("criteria too ambiguous: %s", parsed.Clarify)
	}

	retrieveOpts := search.RetrieveOptions{UserID: "cli"}
	if opts.method != "" {
		method, err := property.ParseMethod(opts.method)
		if err != nil {
			return err
		}
		retrieveOpts.Method = method
	}

	ctx := cmd.Context()
	stack, err := retrieval.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	res, err := stack.Retriever.Retrieve(ctx, parsed.Criteria, retrieveOpts)
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	out := output.New(cmd.OutOrStdout())
	if len(res.Properties) == 0 {
		out.Println("No properties matched.")
		return nil
	}
	for i := range res.Properties {
		out.Println(output.PropertyLine(&res.Properties[i]))
	}
	out.Newline()
	out.Printf("%d shown, %d matched  •  method=%s  •  %dms\n",
		len(res.Properties), res.Total, res.MethodUsed, res.TookMS)
	return nil
}
