package timeline

import (
	"sort"
	"time"

	"github.com/threatline/threatline/internal/analysis"
)

// computeStats summarizes a merged, sorted timeline. Source and category
// buckets only count non-empty values; hour buckets floor the timestamp
// to the hour.
func computeStats(events []analysis.TimelineEvent) analysis.TimelineStats {
	stats := analysis.TimelineStats{
		TotalEvents: len(events),
		ByType:      make(map[string]int),
		BySeverity:  make(map[string]int),
		BySource:    make(map[string]int),
		ByCategory:  make(map[string]int),
		ByHour:      make(map[string]int),
	}
	if len(events) == 0 {
		return stats
	}

	first := events[0].Timestamp
	last := events[len(events)-1].Timestamp
	stats.FirstEvent = &first
	stats.LastEvent = &last
	stats.TimeRange = last.Sub(first).String()

	tagCounts := make(map[string]int)
	var tagOrder []string

	for _, ev := range events {
		stats.ByType[string(ev.Type)]++
		stats.BySeverity[string(ev.Severity)]++
		if ev.Source != "" {
			stats.BySource[ev.Source]++
		}
		if ev.Category != "" {
			stats.ByCategory[ev.Category]++
		}
		hour := ev.Timestamp.Truncate(time.Hour).Format("2006-01-02 15:00")
		stats.ByHour[hour]++
		if ev.Anomalous {
			stats.AnomalousCount++
		}
		for _, tag := range ev.Tags {
			if _, seen := tagCounts[tag]; !seen {
				tagOrder = append(tagOrder, tag)
			}
			tagCounts[tag]++
		}
	}

	stats.TopTags = topTags(tagOrder, tagCounts)
	return stats
}

// topTags returns up to ten tags by descending frequency; ties keep
// first-seen order.
func topTags(order []string, counts map[string]int) []analysis.TagCount {
	ranked := make([]analysis.TagCount, 0, len(order))
	for _, tag := range order {
		ranked = append(ranked, analysis.TagCount{Tag: tag, Count: counts[tag]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	if len(ranked) > 10 {
		ranked = ranked[:10]
	}
	return ranked
}
