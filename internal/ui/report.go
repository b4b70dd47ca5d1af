package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hunianlab/rumahcari/internal/eval"
)

// RenderReport renders an evaluation report as styled terminal tables:
// headline metrics, the confusion matrix, per-constraint accuracy, and
// the per-category breakdown.
func RenderReport(r *eval.Report, styles Styles) string {
	var b strings.Builder

	title := fmt.Sprintf("Evaluation %s • method=%s • T=%.2f", r.RunID, r.Method, r.ThresholdT)
	b.WriteString(styles.Header.Render(title))
	b.WriteString("\n\n")

	b.WriteString(renderMetrics(&r.Metrics, styles))
	b.WriteString("\n")
	b.WriteString(renderConfusion(&r.Metrics, styles))

	if len(r.PerConstraint) > 0 {
		b.WriteString("\n")
		b.WriteString(renderConstraints(r.PerConstraint, styles))
	}
	if len(r.Categories) > 0 {
		b.WriteString("\n")
		b.WriteString(renderCategories(r.Categories, styles))
	}

	if r.PendingManual > 0 {
		b.WriteString("\n")
		b.WriteString(styles.Warning.Render(
			fmt.Sprintf("⚠ %d questions await manual judgment; scores are provisional", r.PendingManual)))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderComparison renders several reports side by side, one column per
// retrieval method. Used by eval --method all.
func RenderComparison(reports []*eval.Report, styles Styles) string {
	if len(reports) == 0 {
		return ""
	}

	headers := []string{"metric"}
	for _, r := range reports {
		headers = append(headers, r.Method)
	}

	rows := [][]string{
		metricRow("accuracy", reports, func(m *eval.Metrics) float64 { return m.Accuracy }),
		metricRow("precision", reports, func(m *eval.Metrics) float64 { return m.Precision }),
		metricRow("recall", reports, func(m *eval.Metrics) float64 { return m.Recall }),
		metricRow("f1", reports, func(m *eval.Metrics) float64 { return m.F1 }),
		metricRow("mean CPR", reports, func(m *eval.Metrics) float64 { return m.MeanCPR }),
	}
	countRow := []string{"strict"}
	for _, r := range reports {
		countRow = append(countRow, fmt.Sprintf("%d/%d", r.Metrics.StrictSuccesses, r.Metrics.Questions))
	}
	rows = append(rows, countRow)

	var b strings.Builder
	b.WriteString(styles.Header.Render("Method comparison"))
	b.WriteString("\n\n")
	b.WriteString(renderTable(headers, rows, styles))
	return b.String()
}

func metricRow(label string, reports []*eval.Report, pick func(*eval.Metrics) float64) []string {
	row := []string{label}
	for _, r := range reports {
		row = append(row, fmt.Sprintf("%.3f", pick(&r.Metrics)))
	}
	return row
}

func renderMetrics(m *eval.Metrics, styles Styles) string {
	headers := []string{"questions", "accuracy", "precision", "recall", "f1", "mean CPR", "strict"}
	rows := [][]string{{
		fmt.Sprintf("%d", m.Questions),
		fmt.Sprintf("%.3f", m.Accuracy),
		fmt.Sprintf("%.3f", m.Precision),
		fmt.Sprintf("%.3f", m.Recall),
		fmt.Sprintf("%.3f", m.F1),
		fmt.Sprintf("%.3f", m.MeanCPR),
		fmt.Sprintf("%d/%d", m.StrictSuccesses, m.Questions),
	}}
	return renderTable(headers, rows, styles)
}

func renderConfusion(m *eval.Metrics, styles Styles) string {
	headers := []string{"", "answered", "empty"}
	rows := [][]string{
		{"has_data", fmt.Sprintf("TP %d", m.TruePositive), fmt.Sprintf("FN %d", m.FalseNegative)},
		{"no_data", fmt.Sprintf("FP %d", m.FalsePositive), fmt.Sprintf("TN %d", m.TrueNegative)},
	}
	return renderTable(headers, rows, styles)
}

func renderConstraints(kinds []eval.KindAccuracy, styles Styles) string {
	headers := []string{"constraint", "passed", "applicable", "accuracy"}
	rows := make([][]string, 0, len(kinds))
	for _, k := range kinds {
		if k.Applicable == 0 {
			continue
		}
		rows = append(rows, []string{
			string(k.Kind),
			fmt.Sprintf("%d", k.Passed),
			fmt.Sprintf("%d", k.Applicable),
			fmt.Sprintf("%.3f", k.Accuracy),
		})
	}
	return renderTable(headers, rows, styles)
}

func renderCategories(cats map[string]eval.Metrics, styles Styles) string {
	names := make([]string, 0, len(cats))
	for name := range cats {
		names = append(names, name)
	}
	sort.Strings(names)

	headers := []string{"category", "questions", "accuracy", "mean CPR"}
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		m := cats[name]
		rows = append(rows, []string{
			name,
			fmt.Sprintf("%d", m.Questions),
			fmt.Sprintf("%.3f", m.Accuracy),
			fmt.Sprintf("%.3f", m.MeanCPR),
		})
	}
	return renderTable(headers, rows, styles)
}

// renderTable lays out a simple aligned table with a styled header row
// and a rule beneath it.
func renderTable(headers []string, rows [][]string, styles Styles) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	var b strings.Builder
	for i, h := range headers {
		b.WriteString(styles.Label.Render(pad(h, widths[i])))
		if i < len(headers)-1 {
			b.WriteString("  ")
		}
	}
	b.WriteString("\n")

	total := 0
	for _, w := range widths {
		total += w + 2
	}
	b.WriteString(styles.Border.Render(strings.Repeat("─", total-2)))
	b.WriteString("\n")

	for _, row := range rows {
		for i, cell := range row {
			b.WriteString(pad(cell, widths[i]))
			if i < len(row)-1 {
				b.WriteString("  ")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func pad(s string, width int) string {
	if n := width - lipgloss.Width(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}
