package restaurants

import (
	"math"
	"strings"
	"unicode/utf8"
)

const (
	previewMaxRunes = 50
	previewEllipsis = "..."
)

// collectPreviews folds ranked review rows (grouped by restaurant, newest first) into one
// entry per requested id. Ids without rows get an empty entry. The preview text comes from
// the newest row only.
func collectPreviews(ids []uint, rows []latestReviewRow, imageCap int) map[uint]Preview {
	previews := make(map[uint]Preview, len(ids))
	for _, id := range ids {
		previews[id] = Preview{Images: []string{}}
	}

	seen := make(map[uint]struct{}, len(ids))
	for _, row := range rows {
		entry, ok := previews[row.RestaurantID]
		if !ok {
			entry = Preview{Images: []string{}}
		}
		_, visited := seen[row.RestaurantID]
		seen[row.RestaurantID] = struct{}{}
		for _, image := range row.Images {
			if len(entry.Images) >= imageCap {
				break
			}
			entry.Images = append(entry.Images, image)
		}
		if !visited && strings.TrimSpace(row.Content) != "" {
			text := truncatePreview(row.Content)
			entry.PreviewText = &text
		}
		previews[row.RestaurantID] = entry
	}
	return previews
}

// truncatePreview keeps at most 50 characters and appends "..." when it had to cut.
func truncatePreview(text string) string {
	if utf8.RuneCountInString(text) <= previewMaxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewMaxRunes]) + previewEllipsis
}

func roundOneDecimal(value float64) float64 {
	return math.Round(value*10) / 10
}
