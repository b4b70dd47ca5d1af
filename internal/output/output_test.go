package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hunianlab/rumahcari/internal/property"
)

func TestWriterStatusPrintsIconAndMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Status("🔍", "mencari properti")

	assert.Equal(t, "🔍 mencari properti\n", buf.String())
}

func TestWriterStatusWithoutIconIndents(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Status("", "lanjutan")

	assert.Equal(t, "   lanjutan\n", buf.String())
}

func TestWriterSuccessWarningError(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Successf("indexed %d listings", 3)
	w.Warning("geocoder unavailable")
	w.Errorf("sync failed: %s", "timeout")

	out := buf.String()
	assert.Contains(t, out, "✅ indexed 3 listings")
	assert.Contains(t, out, "⚠️  geocoder unavailable")
	assert.Contains(t, out, "❌ sync failed: timeout")
}

func TestWriterProgressPlainOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf) // a bytes.Buffer is never a TTY

	for i := 1; i <= 20; i++ {
		w.Progress(i, 20, "embedding")
	}

	out := buf.String()
	// Plain mode prints every tenth step plus completion, no carriage
	// returns.
	assert.NotContains(t, out, "\r")
	assert.Contains(t, out, "10/20 (50%) embedding")
	assert.Contains(t, out, "20/20 (100%) embedding")
}

func TestWriterProgressZeroTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Progress(1, 0, "noop")

	assert.Empty(t, buf.String())
}

func TestRenderProgressBar(t *testing.T) {
	assert.Equal(t, strings.Repeat("█", 15)+strings.Repeat("░", 15), renderProgressBar(1, 2, 30))
	assert.Equal(t, strings.Repeat("█", 30), renderProgressBar(5, 5, 30))
	assert.Equal(t, strings.Repeat("░", 30), renderProgressBar(0, 5, 30))
	assert.Equal(t, strings.Repeat("░", 30), renderProgressBar(3, 0, 30))
}

func TestFormatIDR(t *testing.T) {
	tests := []struct {
		amount float64
		want   string
	}{
		{1_500_000_000, "Rp 1,5 M"},
		{2_000_000_000, "Rp 2 M"},
		{750_000_000, "Rp 750 jt"},
		{1_200_000, "Rp 1,2 jt"},
		{500_000, "Rp 500000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatIDR(tt.amount), "amount %v", tt.amount)
	}
}

func TestFormatPriceInterval(t *testing.T) {
	assert.Equal(t, "Rp 1,5 M", FormatPriceInterval(property.Single(1_500_000_000)))
	assert.Equal(t, "Rp 800 jt – Rp 1,2 M",
		FormatPriceInterval(property.Range(800_000_000, 1_200_000_000)))
}

func TestPropertyLine(t *testing.T) {
	p := &property.Property{
		Slug:         "rumah-taman-asri",
		PropertyType: property.TypeHouse,
		Price:        property.Single(1_500_000_000),
		Bedrooms:     property.Single(3),
		Area:         "Taman Setia Budi",
		City:         "Medan",
	}

	line := PropertyLine(p)
	assert.Contains(t, line, "rumah-taman-asri")
	assert.Contains(t, line, "house")
	assert.Contains(t, line, "Rp 1,5 M")
	assert.Contains(t, line, "3KT")
	assert.Contains(t, line, "Taman Setia Budi")
}
