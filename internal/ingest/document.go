package ingest

import (
	"strings"

	"github.com/hunianlab/rumahcari/internal/property"
)

// The tables and section layout below are load-bearing: every stored
// vector was produced from exactly this text. Changing a label, a
// phrase, or the section order silently strands old vectors next to new
// ones - after any edit, run a full reindex (reset-ingest).

// propertyTypeLabels spells canonical types the way Medan listings
// write them.
var propertyTypeLabels = map[property.PropertyType]string{
	property.TypeHouse:     "rumah",
	property.TypeShophouse: "ruko",
	property.TypeLand:      "tanah kavling",
	property.TypeApartment: "apartemen",
	property.TypeWarehouse: "gudang",
	property.TypeOffice:    "kantor",
	property.TypeVilla:     "villa",
}

// certificateLabels expands backend certificate codes to full
// certificate names. Unmapped codes pass through as sent.
var certificateLabels = map[string]string{
	"SHM":    "Sertifikat Hak Milik",
	"SHGB":   "Sertifikat Hak Guna Bangunan",
	"HGB":    "Hak Guna Bangunan",
	"SHMSRS": "Sertifikat Hak Milik atas Satuan Rumah Susun",
	"STRATA": "Sertifikat Strata Title",
	"HP":     "Hak Pakai",
	"AJB":    "Akta Jual Beli",
	"PPJB":   "Perjanjian Pengikatan Jual Beli",
	"GIRIK":  "Girik",
}

// amenityLabels translates internal amenity codes into the phrases
// buyers actually type. Codes missing here fall back to the code with
// underscores spaced out, so an unmapped amenity degrades instead of
// vanishing.
var amenityLabels = map[string]string{
	"swimming_pool":   "kolam renang",
	"security_24h":    "keamanan 24 jam",
	"one_gate_system": "sistem satu gerbang",
	"cctv":            "CCTV",
	"carport":         "carport",
	"garage":          "garasi",
	"garden":          "taman",
	"playground":      "taman bermain anak",
	"gym":             "pusat kebugaran",
	"jogging_track":   "jogging track",
	"club_house":      "club house",
	"mosque":          "masjid",
	"kitchen_set":     "kitchen set",
	"water_heater":    "pemanas air",
	"air_conditioner": "AC",
	"furnished":       "full furnished",
	"semi_furnished":  "semi furnished",
	"water_pam":       "air PAM",
	"deep_well":       "air sumur bor",
	"smart_home":      "smart home",
	"balcony":         "balkon",
	"rooftop":         "rooftop",
	"near_school":     "dekat sekolah",
	"near_hospital":   "dekat rumah sakit",
	"near_mall":       "dekat pusat perbelanjaan",
	"near_toll":       "dekat pintu tol",
	"near_airport":    "dekat bandara",
}

// BuildDocument renders the deterministic embedding text for one
// property: title, transaction phrasing, unit ranges for projects, the
// stripped rich-text fields, location, and the translated attribute
// lines. Numeric filter fields stay out of the document; the retriever
// filters on index metadata, not on embedded text.
func BuildDocument(p *property.Property) string {
	sections := make([]string, 0, 9)

	if t := strings.TrimSpace(p.Title); t != "" {
		sections = append(sections, t)
	}
	sections = append(sections, transactionPhrase(p))
	if p.SourceKind == property.SourceProject {
		if units := unitRanges(p); units != "" {
			sections = append(sections, units)
		}
	}
	if d := StripHTML(p.Description); d != "" {
		sections = append(sections, d)
	}
	if d := StripHTML(p.AdditionalInfo); d != "" {
		sections = append(sections, d)
	}
	if loc := p.LocationText(); loc != "" {
		sections = append(sections, "Lokasi: "+loc)
	}
	sections = append(sections, "Tipe properti: "+typeLabel(p.PropertyType))
	if cert := certificateLabel(p.CertificateType); cert != "" {
		sections = append(sections, "Sertifikat: "+cert)
	}
	if amen := amenityPhrases(p.Amenities); amen != "" {
		sections = append(sections, "Fasilitas: "+amen)
	}

	return strings.Join(sections, "\n")
}

// transactionPhrase renders the market side of the record: projects
// sell primary-market units from a developer, listings are the
// secondary market, and rentals read the same either way.
func transactionPhrase(p *property.Property) string {
	if p.ListingType == property.ListingRent {
		return "disewakan"
	}
	if p.SourceKind == property.SourceProject {
		return "dijual dari developer, pasar primer"
	}
	return "dijual, pasar sekunder"
}

// unitRanges enumerates what a project actually offers. Degenerate
// intervals read as plain numbers ("2 lantai"), ranges as spans
// ("luas bangunan 36-90 m²").
func unitRanges(p *property.Property) string {
	parts := make([]string, 0, 5)
	if !p.Bedrooms.IsZero() {
		parts = append(parts, p.Bedrooms.String()+" kamar tidur")
	}
	if !p.Bathrooms.IsZero() {
		parts = append(parts, p.Bathrooms.String()+" kamar mandi")
	}
	if !p.Floors.IsZero() {
		parts = append(parts, p.Floors.String()+" lantai")
	}
	if !p.BuildingArea.IsZero() {
		parts = append(parts, "luas bangunan "+p.BuildingArea.String()+" m²")
	}
	if !p.LandArea.IsZero() {
		parts = append(parts, "luas tanah "+p.LandArea.String()+" m²")
	}
	if len(parts) == 0 {
		return ""
	}
	return "Pilihan unit: " + strings.Join(parts, ", ")
}

func typeLabel(t property.PropertyType) string {
	if label, ok := propertyTypeLabels[t]; ok {
		return label
	}
	return string(t)
}

func certificateLabel(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	if label, ok := certificateLabels[strings.ToUpper(code)]; ok {
		return label
	}
	return code
}

func amenityPhrases(codes []string) string {
	phrases := make([]string, 0, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		key := strings.ToLower(code)
		if label, ok := amenityLabels[key]; ok {
			phrases = append(phrases, label)
			continue
		}
		phrases = append(phrases, strings.ReplaceAll(key, "_", " "))
	}
	return strings.Join(phrases, ", ")
}
