package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hunianlab/rumahcari/internal/property"
)

func TestBuildDocumentListing(t *testing.T) {
	p := &property.Property{
		SourceKind:      property.SourceListing,
		ID:              41,
		Slug:            "rumah-tasbi-41",
		PropertyType:    property.TypeHouse,
		ListingType:     property.ListingSale,
		Status:          property.StatusActive,
		Price:           property.Single(1_850_000_000),
		Bedrooms:        property.Single(3),
		City:            "Medan",
		District:        "Medan Selayang",
		Area:            "Tanjung Sari",
		ComplexName:     "Taman Setiabudi Indah",
		Title:           "Rumah cantik dua lantai Taman Setiabudi",
		Description:     "<p>Rumah siap huni dekat <b>kampus USU</b></p>",
		AdditionalInfo:  "Nego sampai jadi",
		Amenities:       []string{"carport", "security_24h"},
		CertificateType: "SHM",
	}

	want := strings.Join([]string{
		"Rumah cantik dua lantai Taman Setiabudi",
		"dijual, pasar sekunder",
		"Rumah siap huni dekat kampus USU",
		"Nego sampai jadi",
		"Lokasi: Taman Setiabudi Indah, Tanjung Sari, Medan Selayang, Medan",
		"Tipe properti: rumah",
		"Sertifikat: Sertifikat Hak Milik",
		"Fasilitas: carport, keamanan 24 jam",
	}, "\n")

	assert.Equal(t, want, BuildDocument(p))
}

func TestBuildDocumentProjectEnumeratesUnits(t *testing.T) {
	p := &property.Property{
		SourceKind:   property.SourceProject,
		ID:           7,
		Slug:         "grand-kalimaya",
		PropertyType: property.TypeHouse,
		ListingType:  property.ListingSale,
		Bedrooms:     property.Range(2, 4),
		Bathrooms:    property.Range(2, 3),
		Floors:       property.Single(2),
		BuildingArea: property.Range(45, 120),
		LandArea:     property.Range(72, 150),
		City:         "Medan",
		Area:         "Medan Johor",
		Title:        "Grand Kalimaya Residence",
		Developer:    "PT Kalimaya Land",
		Amenities:    []string{"one_gate_system", "playground"},
	}

	want := strings.Join([]string{
		"Grand Kalimaya Residence",
		"dijual dari developer, pasar primer",
		"Pilihan unit: 2-4 kamar tidur, 2-3 kamar mandi, 2 lantai, luas bangunan 45-120 m², luas tanah 72-150 m²",
		"Lokasi: Medan Johor, Medan",
		"Tipe properti: rumah",
		"Fasilitas: sistem satu gerbang, taman bermain anak",
	}, "\n")

	assert.Equal(t, want, BuildDocument(p))
}

func TestTransactionPhrase(t *testing.T) {
	tests := []struct {
		name string
		kind property.SourceKind
		lt   property.ListingType
		want string
	}{
		{"listing sale is secondary market", property.SourceListing, property.ListingSale, "dijual, pasar sekunder"},
		{"project sale is primary market", property.SourceProject, property.ListingSale, "dijual dari developer, pasar primer"},
		{"listing rent", property.SourceListing, property.ListingRent, "disewakan"},
		{"project rent", property.SourceProject, property.ListingRent, "disewakan"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &property.Property{SourceKind: tt.kind, ListingType: tt.lt}
			assert.Equal(t, tt.want, transactionPhrase(p))
		})
	}
}

// Listings carry their numerics as metadata only; the document must not
// leak them. Projects are the one exception, covered above.
func TestBuildDocumentExcludesListingNumerics(t *testing.T) {
	p := &property.Property{
		SourceKind:   property.SourceListing,
		PropertyType: property.TypeWarehouse,
		ListingType:  property.ListingSale,
		Price:        property.Single(2_500_000_000),
		Bedrooms:     property.Single(3),
		LandArea:     property.Single(200),
		Title:        "Gudang strategis KIM",
	}

	doc := BuildDocument(p)

	assert.Contains(t, doc, "Tipe properti: gudang")
	assert.NotContains(t, doc, "Pilihan unit")
	assert.NotContains(t, doc, "kamar tidur")
	assert.NotContains(t, doc, "2500000000")
	assert.NotContains(t, doc, "200")
}

func TestBuildDocumentSkipsEmptySections(t *testing.T) {
	p := &property.Property{
		SourceKind:   property.SourceListing,
		PropertyType: property.TypeShophouse,
		ListingType:  property.ListingRent,
		Title:        "Ruko gandeng",
	}

	want := "Ruko gandeng\ndisewakan\nTipe properti: ruko"
	assert.Equal(t, want, BuildDocument(p))
}

func TestBuildDocumentDeterministic(t *testing.T) {
	p := &property.Property{
		SourceKind:   property.SourceProject,
		PropertyType: property.TypeApartment,
		ListingType:  property.ListingSale,
		Bedrooms:     property.Range(1, 3),
		Title:        "Podomoro City Deli",
		City:         "Medan",
		Amenities:    []string{"gym", "swimming_pool"},
	}

	assert.Equal(t, BuildDocument(p), BuildDocument(p))
}

func TestAmenityPhrasesTranslateAndFallBack(t *testing.T) {
	got := amenityPhrases([]string{"ROOFTOP_GARDEN", " cctv ", "", "kolam_ikan", "swimming_pool"})
	assert.Equal(t, "rooftop garden, CCTV, kolam ikan, kolam renang", got)
}

func TestCertificateLabelSpellsOutCodes(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"SHM", "Sertifikat Hak Milik"},
		{"shgb", "Sertifikat Hak Guna Bangunan"},
		{" ajb ", "Akta Jual Beli"},
		{"SHMSRS", "Sertifikat Hak Milik atas Satuan Rumah Susun"},
		{"SPPT", "SPPT"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, certificateLabel(tt.code), "code %q", tt.code)
	}
}
