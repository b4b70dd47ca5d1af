//go:build ignore

// Package main generates a synthetic gold set plus a matching property
// fixture corpus for evaluation runs against a stub backend.
// Usage: go run scripts/generate-gold.go -questions 30 -properties 200 -output testdata/gold
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/hunianlab/rumahcari/internal/eval"
	"github.com/hunianlab/rumahcari/internal/property"
)

var (
	numQuestions  = flag.Int("questions", 30, "Number of gold questions to generate")
	numProperties = flag.Int("properties", 200, "Number of fixture properties to generate")
	outputDir     = flag.String("output", "testdata/gold", "Output directory")
	seed          = flag.Int64("seed", 42, "Random seed for reproducibility")
)

// Medan districts with rough center coordinates.
var districts = []struct {
	Name     string
	Lat, Lng float64
}{
	{"Medan Johor", 3.5358, 98.6832},
	{"Medan Selayang", 3.5452, 98.6301},
	{"Medan Tuntungan", 3.5101, 98.6114},
	{"Medan Helvetia", 3.6194, 98.6430},
	{"Medan Denai", 3.5700, 98.7120},
	{"Medan Amplas", 3.5432, 98.7174},
	{"Medan Sunggal", 3.5903, 98.6205},
	{"Medan Marelan", 3.6920, 98.6520},
}

var complexNames = []string{
	"Citra Garden", "Taman Setia Budi Indah", "Royal Sumatra",
	"Griya Riatur", "De Green Residence", "Bumi Asri",
}

var features = []string{
	"carport", "taman", "dapur bersih", "air PAM", "listrik 2200W",
	"one gate system", "dekat sekolah", "row jalan lebar", "sumur bor",
}

// Price bands in IDR by property and listing type.
func priceBand(pt property.PropertyType, lt property.ListingType) (float64, float64) {
	if lt == property.ListingRent {
		switch pt {
		case property.TypeShophouse:
			return 40_000_000, 150_000_000
		case property.TypeApartment:
			return 25_000_000, 80_000_000
		default:
			return 15_000_000, 60_000_000
		}
	}
	switch pt {
	case property.TypeShophouse:
		return 800_000_000, 4_000_000_000
	case property.TypeLand:
		return 200_000_000, 2_000_000_000
	case property.TypeApartment:
		return 300_000_000, 1_200_000_000
	default:
		return 400_000_000, 3_000_000_000
	}
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
		os.Exit(1)
	}

	props := generateProperties(rng, *numProperties)
	if err := writeProperties(filepath.Join(*outputDir, "properties.jsonl"), props); err != nil {
		fmt.Fprintf(os.Stderr, "write properties: %v\n", err)
		os.Exit(1)
	}

	gold := generateGold(rng, *numQuestions)
	if err := writeGold(filepath.Join(*outputDir, "gold.json"), gold); err != nil {
		fmt.Fprintf(os.Stderr, "write gold set: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %d properties and %d questions in %s\n",
		len(props), len(gold.Questions), *outputDir)
}

func generateProperties(rng *rand.Rand, n int) []property.Property {
	types := []property.PropertyType{
		property.TypeHouse, property.TypeHouse, property.TypeHouse,
		property.TypeShophouse, property.TypeLand, property.TypeApartment,
	}

	props := make([]property.Property, 0, n)
	for i := 0; i < n; i++ {
		pt := types[rng.Intn(len(types))]
		lt := property.ListingSale
		if rng.Float64() < 0.2 {
			lt = property.ListingRent
		}
		d := districts[rng.Intn(len(districts))]

		lo, hi := priceBand(pt, lt)
		price := lo + rng.Float64()*(hi-lo)
		price = float64(int64(price/10_000_000)) * 10_000_000

		bedrooms := float64(2 + rng.Intn(4))
		floors := float64(1 + rng.Intn(2))
		if pt == property.TypeShophouse {
			floors = float64(2 + rng.Intn(2))
		}
		if pt == property.TypeLand {
			bedrooms, floors = 0, 0
		}

		lat := d.Lat + (rng.Float64()-0.5)*0.02
		lng := d.Lng + (rng.Float64()-0.5)*0.02

		p := property.Property{
			SourceKind:      property.SourceListing,
			ID:              int64(i + 1),
			Slug:            fmt.Sprintf("%s-%s-%d", pt, slugify(d.Name), i+1),
			PropertyType:    pt,
			ListingType:     lt,
			Status:          property.StatusActive,
			Price:           property.Single(price),
			Bedrooms:        property.Single(bedrooms),
			Bathrooms:       property.Single(max(1, bedrooms-1)),
			Floors:          property.Single(floors),
			LandArea:        property.Single(float64(72 + rng.Intn(400))),
			BuildingArea:    property.Single(float64(45 + rng.Intn(250))),
			City:            "Medan",
			District:        d.Name,
			Latitude:        &lat,
			Longitude:       &lng,
			Title:           title(pt, lt, d.Name, int(bedrooms)),
			Features:        pick(rng, features, 2+rng.Intn(3)),
			CertificateType: []string{"SHM", "HGB"}[rng.Intn(2)],
		}
		if rng.Float64() < 0.3 {
			p.ComplexName = complexNames[rng.Intn(len(complexNames))]
			p.InComplex = true
		}
		props = append(props, p)
	}
	return props
}

func title(pt property.PropertyType, lt property.ListingType, district string, bedrooms int) string {
	verb := "Dijual"
	if lt == property.ListingRent {
		verb = "Disewakan"
	}
	switch pt {
	case property.TypeHouse:
		return fmt.Sprintf("%s Rumah %d Kamar di %s", verb, bedrooms, district)
	case property.TypeShophouse:
		return fmt.Sprintf("%s Ruko Strategis di %s", verb, district)
	case property.TypeLand:
		return fmt.Sprintf("%s Tanah Kavling di %s", verb, district)
	case property.TypeApartment:
		return fmt.Sprintf("%s Apartemen %d Kamar di %s", verb, bedrooms, district)
	default:
		return fmt.Sprintf("%s Properti di %s", verb, district)
	}
}

func generateGold(rng *rand.Rand, n int) *eval.GoldSet {
	gold := &eval.GoldSet{
		ThresholdT:     eval.DefaultThresholdT,
		PriceTolerance: eval.DefaultPriceTolerance,
	}

	add := func(q eval.GoldQuestion) {
		q.ID = fmt.Sprintf("q%03d", len(gold.Questions)+1)
		gold.Questions = append(gold.Questions, q)
	}

	// Constraint-rich has_data questions drawn from the same
	// distributions the fixture corpus is generated from.
	for len(gold.Questions) < n-3 {
		d := districts[rng.Intn(len(districts))]
		bedrooms := float64(2 + rng.Intn(3))
		maxPrice := float64(800_000_000 + rng.Intn(4)*400_000_000)

		add(eval.GoldQuestion{
			Question: fmt.Sprintf("Cari rumah dijual di %s dengan minimal %.0f kamar tidur di bawah %s",
				d.Name, bedrooms, rupiah(maxPrice)),
			Category:       "structured",
			ExpectedResult: eval.ExpectHasData,
			Constraints: eval.Constraints{
				PropertyType: string(property.TypeHouse),
				ListingType:  string(property.ListingSale),
				Price:        &eval.PriceConstraint{Max: &maxPrice},
				Bedrooms:     &eval.CountConstraint{Min: &bedrooms},
				Location:     &eval.LocationConstraint{Keywords: []string{d.Name}},
			},
		})
	}

	// Questions the corpus cannot answer.
	add(eval.GoldQuestion{
		Question:       "Ada kastil dijual di Medan?",
		Category:       "no_data",
		ExpectedResult: eval.ExpectNoData,
		Notes:          "No such property type exists in the corpus.",
	})
	tiny := 5_000_000.0
	add(eval.GoldQuestion{
		Question:       "Cari rumah dijual di bawah 5 juta",
		Category:       "no_data",
		ExpectedResult: eval.ExpectNoData,
		Constraints: eval.Constraints{
			PropertyType: string(property.TypeHouse),
			ListingType:  string(property.ListingSale),
			Price:        &eval.PriceConstraint{Max: &tiny},
		},
	})

	// One deferred-judgment question to exercise the manual flow.
	add(eval.GoldQuestion{
		Question:       "Rumah mana yang paling cocok untuk keluarga muda dengan dua anak?",
		Category:       "subjective",
		ExpectedResult: eval.ExpectHasData,
		EvaluationMode: eval.ModeManual,
		Notes:          "Needs human judgment; no checkable constraints.",
	})

	return gold
}

func writeProperties(path string, props []property.Property) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, p := range props {
		if err := enc.Encode(p); err != nil {
			return err
		}
	}
	return nil
}

func writeGold(path string, gold *eval.GoldSet) error {
	data, err := json.MarshalIndent(gold, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func rupiah(v float64) string {
	if v >= 1_000_000_000 {
		return fmt.Sprintf("%.1f miliar", v/1_000_000_000)
	}
	return fmt.Sprintf("%.0f juta", v/1_000_000)
}

func slugify(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r == ' ' || r == '-':
			out = append(out, '-')
		}
	}
	return string(out)
}

func pick(rng *rand.Rand, pool []string, n int) []string {
	idx := rng.Perm(len(pool))
	if n > len(pool) {
		n = len(pool)
	}
	out := make([]string, 0, n)
	for _, i := range idx[:n] {
		out = append(out, pool[i])
	}
	return out
}
