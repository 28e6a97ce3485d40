package xenocanto

import (
	"slices"
)

// UnknownLabel is the normalized label the API uses for recordings whose
// species could not be identified.
const UnknownLabel = "identity_unknown"

// LabelCount is the number of recordings carrying a label
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// CountLabels counts recordings per label, most frequent first. Labels with
// the same count keep the order in which they first appear in the page.
func CountLabels(page *Page) []LabelCount {
	index := make(map[string]int)
	var counts []LabelCount
	for _, r := range page.Recordings {
		i, ok := index[r.En]
		if !ok {
			i = len(counts)
			index[r.En] = i
			counts = append(counts, LabelCount{Label: r.En})
		}
		counts[i].Count++
	}
	slices.SortStableFunc(counts, func(a, b LabelCount) int {
		return b.Count - a.Count
	})
	return counts
}

// FilterTopK returns a new page holding only the recordings of the k most
// frequent species. When excludeUnknown is set and UnknownLabel ranks within
// the top k, it is dropped before the cut so the next species moves up.
// page is left untouched.
func FilterTopK(page *Page, k int, excludeUnknown bool) *Page {
	k = max(k, 0)
	counts := CountLabels(page)

	if excludeUnknown {
		top := counts[:min(k, len(counts))]
		if i := slices.IndexFunc(top, func(c LabelCount) bool { return c.Label == UnknownLabel }); i >= 0 {
			counts = slices.Delete(slices.Clone(counts), i, i+1)
		}
	}

	keep := make(map[string]struct{})
	for _, c := range counts[:min(k, len(counts))] {
		keep[c.Label] = struct{}{}
	}

	recordings := make([]Recording, 0, len(page.Recordings))
	for _, r := range page.Recordings {
		if _, ok := keep[r.En]; ok {
			recordings = append(recordings, r)
		}
	}

	return &Page{
		NumRecordings: len(recordings),
		NumSpecies:    len(keep),
		Page:          page.Page,
		NumPages:      page.NumPages,
		Recordings:    recordings,
	}
}

// Share is the fraction of recordings carrying a label, in percent
type Share struct {
	Label   string  `json:"label"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// OtherLabel collects the species below the Distribution threshold
const OtherLabel = "other"

// Distribution returns the share of each species, most frequent first.
// Species below thresholdPercent are summed into a trailing OtherLabel entry.
func Distribution(page *Page, thresholdPercent float64) []Share {
	total := len(page.Recordings)
	if total == 0 {
		return nil
	}

	var shares []Share
	other := Share{Label: OtherLabel}
	for _, c := range CountLabels(page) {
		pct := float64(c.Count) / float64(total) * 100
		if pct >= thresholdPercent {
			shares = append(shares, Share{Label: c.Label, Count: c.Count, Percent: pct})
			continue
		}
		other.Count += c.Count
		other.Percent += pct
	}
	if other.Count > 0 {
		shares = append(shares, other)
	}
	return shares
}
