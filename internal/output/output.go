// Package output provides consistent CLI output formatting: status lines
// with icons, progress, and the domain spellings (rupiah amounts, property
// summary lines) the search and sync commands print.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/hunianlab/rumahcari/internal/property"
)

// Writer provides formatted output for CLI commands.
type Writer struct {
	out   io.Writer
	isTTY bool
}

// New creates a Writer. TTY detection picks between in-place progress
// updates and plain line output.
func New(out io.Writer) *Writer {
	w := &Writer{out: out}
	if f, ok := out.(*os.File); ok {
		w.isTTY = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return w
}

// IsTTY reports whether the destination is an interactive terminal.
func (w *Writer) IsTTY() bool {
	return w.isTTY
}

// Status prints a status message with an icon. Write errors are
// intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with a checkmark.
func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status("❌", msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Println prints a plain line.
func (w *Writer) Println(msg string) {
	_, _ = fmt.Fprintln(w.out, msg)
}

// Printf prints without any decoration.
func (w *Writer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, format, args...)
}

// Progress prints an in-place progress bar on a TTY and periodic plain
// lines otherwise.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	pct := float64(current) / float64(total) * 100

	if !w.isTTY {
		if current == total || current%10 == 0 {
			_, _ = fmt.Fprintf(w.out, "%d/%d (%.0f%%) %s\n", current, total, pct, msg)
		}
		return
	}

	bar := renderProgressBar(current, total, 30)
	_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s", bar, pct, msg)
	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

// renderProgressBar creates a text progress bar.
func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	filled := int(float64(current) / float64(total) * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// FormatIDR renders a rupiah amount the way local listings spell it:
// "Rp 1,5 M" (miliar) past a billion, "Rp 750 jt" (juta) past a
// million, plain rupiah below that.
func FormatIDR(amount float64) string {
	switch {
	case amount >= 1_000_000_000:
		return "Rp " + trimDecimal(amount/1_000_000_000) + " M"
	case amount >= 1_000_000:
		return "Rp " + trimDecimal(amount/1_000_000) + " jt"
	default:
		return fmt.Sprintf("Rp %.0f", amount)
	}
}

// trimDecimal renders one decimal place with an Indonesian comma,
// dropping it when whole: 1.5 → "1,5", 2.0 → "2".
func trimDecimal(v float64) string {
	s := fmt.Sprintf("%.1f", v)
	s = strings.TrimSuffix(s, ".0")
	return strings.ReplaceAll(s, ".", ",")
}

// FormatPriceInterval renders a listing price or a project range.
func FormatPriceInterval(iv property.Interval) string {
	if iv.Min == iv.Max {
		return FormatIDR(iv.Min)
	}
	return FormatIDR(iv.Min) + " – " + FormatIDR(iv.Max)
}

// PropertyLine is the one-line summary the search command prints per
// result: slug, type, price, bedrooms, location.
func PropertyLine(p *property.Property) string {
	var b strings.Builder
	b.WriteString(p.Slug)
	b.WriteString("  ")
	b.WriteString(string(p.PropertyType))
	if !p.Price.IsZero() {
		b.WriteString("  ")
		b.WriteString(FormatPriceInterval(p.Price))
	}
	if p.Bedrooms.Max > 0 {
		b.WriteString(fmt.Sprintf("  %sKT", bedroomRange(p.Bedrooms)))
	}
	if loc := p.LocationText(); loc != "" {
		b.WriteString("  ")
		b.WriteString(loc)
	}
	return b.String()
}

func bedroomRange(iv property.Interval) string {
	if iv.Min == iv.Max {
		return fmt.Sprintf("%.0f", iv.Min)
	}
	return fmt.Sprintf("%.0f–%.0f", iv.Min, iv.Max)
}
