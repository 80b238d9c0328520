package commands

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/inferloop/aidrin/pkg/models"
)

func writeReport(stdout io.Writer, path, format string, report *models.RiskReport) error {
	w := stdout
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report.Record())
	}
	return writeText(w, report)
}

func writeText(w io.Writer, report *models.RiskReport) error {
	var b strings.Builder

	title := fmt.Sprintf("%s report", report.Metric)
	if report.Dataset != "" {
		title += " for " + report.Dataset
	}
	fmt.Fprintf(&b, "%s\n%s\n", title, strings.Repeat("=", len(title)))

	if report.Failed() {
		fmt.Fprintf(&b, "\n%s: %s\n", report.ErrorType, report.Error)
		fmt.Fprintf(&b, "%s\n", report.Interpretation)
		_, err := io.WriteString(w, b.String())
		return err
	}

	if key := report.Metric.HeadlineKey(); key != "" && report.Headline != nil {
		fmt.Fprintf(&b, "\n%s: %g\n", key, *report.Headline)
	}
	fmt.Fprintf(&b, "Rows used: %d (dropped %d)\n", report.RowsUsed, report.RowsDropped)

	if s := report.DescriptiveStatistics; s != nil {
		b.WriteString("\nDescriptive statistics:\n")
		writeStats(&b, "", *s)
	}
	if len(report.FeatureStatistics) > 0 {
		b.WriteString("\nDescriptive statistics of the risk scores:\n")
		features := report.Features
		if len(features) == 0 {
			for name := range report.FeatureStatistics {
				features = append(features, name)
			}
			sort.Strings(features)
		}
		for _, name := range features {
			if s, ok := report.FeatureStatistics[name]; ok {
				writeStats(&b, name+" ", s)
			}
		}
	}

	if report.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", report.Description)
	}
	if report.Interpretation != "" {
		fmt.Fprintf(&b, "\n%s\n", report.Interpretation)
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(&b, "\nWarning: %s\n", warning)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeStats(b *strings.Builder, prefix string, s models.DescriptiveStatistics) {
	fmt.Fprintf(b, "  %smean=%g std=%g min=%g 25%%=%g 50%%=%g 75%%=%g max=%g\n",
		prefix, s.Mean, s.Std, s.Min, s.P25, s.Median, s.P75, s.Max)
}

// writePlot decodes the base64 PNG carried by the report.
func writePlot(path string, report *models.RiskReport) error {
	if report.Visualization == "" {
		return fmt.Errorf("report has no visualization")
	}
	png, err := base64.StdEncoding.DecodeString(report.Visualization)
	if err != nil {
		return fmt.Errorf("failed to decode visualization: %w", err)
	}
	return os.WriteFile(path, png, 0644)
}

type progressPrinter struct {
	w       io.Writer
	enabled bool
	mu      sync.Mutex
	last    string
}

func newProgressPrinter(w io.Writer, enabled bool) *progressPrinter {
	return &progressPrinter{w: w, enabled: enabled}
}

func (p *progressPrinter) update(fraction float64, message string) {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	percent := int(fraction*100 + 0.5)
	line := fmt.Sprintf("[%3d%%] %s", percent, message)
	if line == p.last {
		return
	}
	p.last = line
	fmt.Fprintln(p.w, line)
}

func (p *progressPrinter) done() {
	p.update(1, "Done")
}
