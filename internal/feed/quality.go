package feed

import (
	"fmt"
	"math"

	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

// Issue severities
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
)

// DataIssue is one problem found in a tick series
type DataIssue struct {
	Type      string `json:"type"`
	Severity  string `json:"severity"`
	Index     int    `json:"index"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

// QualityReport summarizes a tick series before it is backtested
type QualityReport struct {
	Symbol       string      `json:"symbol"`
	TotalTicks   int         `json:"totalTicks"`
	Issues       []DataIssue `json:"issues"`
	QualityScore int         `json:"qualityScore"`
	IsUsable     bool        `json:"isUsable"`
}

// QualityValidator checks tick series integrity
type QualityValidator struct {
	MaxTickMove float64 // largest accepted relative move between consecutive ticks
}

// NewQualityValidator returns a validator with crypto defaults
func NewQualityValidator() *QualityValidator {
	return &QualityValidator{MaxTickMove: 0.20}
}

// Validate runs every check on ticks
func (v *QualityValidator) Validate(symbol string, ticks []types.Tick) *QualityReport {
	report := &QualityReport{Symbol: symbol, TotalTicks: len(ticks), Issues: []DataIssue{}}
	if len(ticks) == 0 {
		report.Issues = append(report.Issues, DataIssue{Type: "NO_DATA", Severity: SeverityCritical, Message: "No data provided"})
		return report
	}

	for i, t := range ticks {
		if t.Price <= 0 || math.IsNaN(t.Price) || math.IsInf(t.Price, 0) {
			report.Issues = append(report.Issues, v.issue("BAD_PRICE", SeverityCritical, i, t,
				fmt.Sprintf("Invalid price %v", t.Price)))
			continue
		}
		if t.Volume < 0 || math.IsNaN(t.Volume) {
			report.Issues = append(report.Issues, v.issue("BAD_VOLUME", SeverityCritical, i, t,
				fmt.Sprintf("Invalid volume %v", t.Volume)))
		}
		if i == 0 {
			continue
		}

		prev := ticks[i-1]
		switch {
		case t.Timestamp < prev.Timestamp:
			report.Issues = append(report.Issues, v.issue("OUT_OF_ORDER", SeverityCritical, i, t,
				"Tick is out of chronological order"))
		case t.Timestamp == prev.Timestamp && t.Price == prev.Price && t.Volume == prev.Volume:
			report.Issues = append(report.Issues, v.issue("DUPLICATE", SeverityMedium, i, t,
				"Duplicate tick"))
		}
		if prev.Price > 0 {
			if move := math.Abs(t.Price/prev.Price - 1); move > v.MaxTickMove {
				report.Issues = append(report.Issues, v.issue("EXTREME_MOVE", SeverityHigh, i, t,
					fmt.Sprintf("Extreme move: %.2f%%", move*100)))
			}
		}
	}

	report.QualityScore = qualityScore(len(ticks), report.Issues)
	report.IsUsable = report.QualityScore >= 70 && !hasCritical(report.Issues)
	return report
}

func (v *QualityValidator) issue(kind, severity string, i int, t types.Tick, msg string) DataIssue {
	return DataIssue{Type: kind, Severity: severity, Index: i, Timestamp: t.Timestamp, Message: msg}
}

// qualityScore returns 0-100, tolerating more minor issues on longer series
func qualityScore(total int, issues []DataIssue) int {
	penalty := 0.0
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityCritical:
			penalty += 10
		case SeverityHigh:
			penalty += 5
		case SeverityMedium:
			penalty += 2
		}
	}
	normalized := penalty / math.Max(1, float64(total)/100) * 10
	return int(math.Max(0, 100-math.Min(normalized, 100)))
}

func hasCritical(issues []DataIssue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
