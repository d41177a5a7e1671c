// Package stats reduces a batch of detections into summary figures.
package stats

import (
	"fmt"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/samber/lo"

	"github.com/ayusman/krypton/internal/detection"
)

// Summary describes one batch of detections.
type Summary struct {
	TotalObjects      int            `json:"total_objects"`
	UniqueClasses     int            `json:"unique_classes"`
	ClassDistribution map[string]int `json:"class_distribution"`
	AverageConfidence float64        `json:"average_confidence"`
	MinConfidence     float64        `json:"min_confidence"`
	MaxConfidence     float64        `json:"max_confidence"`
}

// ClassCount is one row of a ranked class distribution.
type ClassCount struct {
	ClassName string `json:"class_name"`
	Count     int    `json:"count"`
}

// Compute summarizes detections. An empty batch yields a zero Summary with
// an empty, non-nil distribution.
func Compute(detections []detection.Detection) Summary {
	if len(detections) == 0 {
		return Summary{ClassDistribution: map[string]int{}}
	}

	dist := lo.CountValuesBy(detections, func(d detection.Detection) string {
		return d.ClassName
	})

	scores := stats.Float64Data(lo.Map(detections, func(d detection.Detection, _ int) float64 {
		return d.Confidence
	}))

	// The data set is non-empty, so these cannot fail.
	mean, _ := stats.Mean(scores)
	lowest, _ := stats.Min(scores)
	highest, _ := stats.Max(scores)

	return Summary{
		TotalObjects:      len(detections),
		UniqueClasses:     len(dist),
		ClassDistribution: dist,
		AverageConfidence: mean,
		MinConfidence:     lowest,
		MaxConfidence:     highest,
	}
}

// Ranked returns the class distribution ordered by count, highest first.
// Ties are ordered by class name.
func (s Summary) Ranked() []ClassCount {
	ranked := make([]ClassCount, 0, len(s.ClassDistribution))
	for name, count := range s.ClassDistribution {
		ranked = append(ranked, ClassCount{ClassName: name, Count: count})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].ClassName < ranked[j].ClassName
	})

	return ranked
}

// Render formats the distribution as a text histogram with bars scaled to
// width characters for the whole batch.
func Render(s Summary, width int) string {
	if width <= 0 {
		width = 30
	}

	var b strings.Builder
	b.WriteString("Class Distribution:\n")
	b.WriteString(strings.Repeat("=", 40))
	b.WriteString("\n")

	if s.TotalObjects == 0 {
		b.WriteString("no objects detected\n")
		return b.String()
	}

	for _, row := range s.Ranked() {
		bar := strings.Repeat("█", row.Count*width/s.TotalObjects)
		fmt.Fprintf(&b, "%-20s %s %d\n", row.ClassName, bar, row.Count)
	}

	return b.String()
}
