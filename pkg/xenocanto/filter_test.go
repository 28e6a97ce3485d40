package xenocanto

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pageOf builds a page whose recordings carry the given labels in order
func pageOf(labels ...string) *Page {
	p := &Page{Page: 1, NumPages: 1}
	species := make(map[string]bool)
	for i, l := range labels {
		p.Recordings = append(p.Recordings, Recording{
			ID:       fmt.Sprint(i + 1),
			En:       l,
			FileName: fmt.Sprintf("XC%d.mp3", i+1),
		})
		species[l] = true
	}
	p.NumRecordings = len(labels)
	p.NumSpecies = len(species)
	return p
}

func repeat(label string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = label
	}
	return out
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func labelsOf(p *Page) map[string]int {
	out := make(map[string]int)
	for _, r := range p.Recordings {
		out[r.En]++
	}
	return out
}

func TestFilterTopKKeepsMostFrequent(t *testing.T) {
	p := pageOf(concat(repeat("c", 2), repeat("a", 8), repeat("b", 5))...)

	got := FilterTopK(p, 2, false)

	assert.Equal(t, map[string]int{"a": 8, "b": 5}, labelsOf(got))
	assert.Equal(t, 2, got.NumSpecies)
	assert.Equal(t, 13, got.NumRecordings)
	assert.Len(t, got.Recordings, 13)
}

func TestFilterTopKDoesNotMutateInput(t *testing.T) {
	p := pageOf(concat(repeat("a", 3), repeat("b", 1))...)
	before := *p
	before.Recordings = append([]Recording(nil), p.Recordings...)

	_ = FilterTopK(p, 1, true)

	assert.Equal(t, before, *p)
}

func TestFilterTopKExcludesUnknown(t *testing.T) {
	p := pageOf(concat(
		repeat(UnknownLabel, 9),
		repeat("a", 8),
		repeat("b", 5),
		repeat("c", 2),
	)...)

	got := FilterTopK(p, 2, true)
	assert.Equal(t, map[string]int{"a": 8, "b": 5}, labelsOf(got))
	assert.Equal(t, 2, got.NumSpecies)

	kept := FilterTopK(p, 2, false)
	assert.Equal(t, map[string]int{UnknownLabel: 9, "a": 8}, labelsOf(kept))
}

func TestFilterTopKUnknownOutsideTopK(t *testing.T) {
	p := pageOf(concat(repeat("a", 8), repeat("b", 5), repeat(UnknownLabel, 1))...)

	got := FilterTopK(p, 2, true)
	assert.Equal(t, map[string]int{"a": 8, "b": 5}, labelsOf(got))
}

func TestFilterTopKTiesUseFirstSeenOrder(t *testing.T) {
	p := pageOf("x", "y", "z", "y", "x", "z")

	got := FilterTopK(p, 2, false)
	assert.Equal(t, map[string]int{"x": 2, "y": 2}, labelsOf(got))

	for i := 0; i < 20; i++ {
		assert.Equal(t, labelsOf(got), labelsOf(FilterTopK(p, 2, false)))
	}
}

func TestFilterTopKBounds(t *testing.T) {
	p := pageOf("a", "b", "b")

	empty := FilterTopK(p, 0, false)
	assert.Empty(t, empty.Recordings)
	assert.Equal(t, 0, empty.NumSpecies)
	assert.Equal(t, 0, empty.NumRecordings)

	assert.Empty(t, FilterTopK(p, -1, true).Recordings)

	all := FilterTopK(p, 10, false)
	assert.Len(t, all.Recordings, 3)
	assert.Equal(t, 2, all.NumSpecies)
}

func TestFilterTopKFrequencyProperty(t *testing.T) {
	p := pageOf(concat(
		repeat("a", 4), repeat("b", 7), repeat("c", 1), repeat("d", 7), repeat("e", 3),
	)...)
	all := CountLabels(p)

	for k := 0; k <= 6; k++ {
		got := FilterTopK(p, k, false)
		kept := labelsOf(got)
		assert.LessOrEqual(t, len(kept), k)

		for _, c := range all {
			if _, ok := kept[c.Label]; ok {
				continue
			}
			for label, n := range kept {
				assert.GreaterOrEqual(t, n, c.Count, "k=%d kept %s below dropped %s", k, label, c.Label)
			}
		}
	}
}

func TestCountLabels(t *testing.T) {
	p := pageOf("b", "a", "a", "c", "b", "a")
	assert.Equal(t, []LabelCount{
		{Label: "a", Count: 3},
		{Label: "b", Count: 2},
		{Label: "c", Count: 1},
	}, CountLabels(p))
}

func TestDistribution(t *testing.T) {
	p := pageOf(concat(repeat("a", 6), repeat("b", 3), repeat("c", 1))...)

	shares := Distribution(p, 20)
	require.Len(t, shares, 3)
	assert.Equal(t, "a", shares[0].Label)
	assert.InDelta(t, 60.0, shares[0].Percent, 1e-9)
	assert.Equal(t, "b", shares[1].Label)
	assert.Equal(t, OtherLabel, shares[2].Label)
	assert.Equal(t, 1, shares[2].Count)
	assert.InDelta(t, 10.0, shares[2].Percent, 1e-9)

	assert.Len(t, Distribution(p, 0), 3)
	assert.Nil(t, Distribution(&Page{}, 5))
}
