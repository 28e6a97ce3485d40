package xenocanto

// SpeciesMap assigns class ids to species labels. Build it once per run with
// BuildSpeciesMap and hand the same value to every later stage.
type SpeciesMap struct {
	ids    map[string]int
	labels []string
}

// BuildSpeciesMap numbers the distinct labels of page 0..n-1 in the order
// they first appear.
func BuildSpeciesMap(page *Page) SpeciesMap {
	m := SpeciesMap{ids: make(map[string]int)}
	for _, r := range page.Recordings {
		if _, ok := m.ids[r.En]; ok {
			continue
		}
		m.ids[r.En] = len(m.labels)
		m.labels = append(m.labels, r.En)
	}
	return m
}

// ID returns the class id of label
func (m SpeciesMap) ID(label string) (int, bool) {
	id, ok := m.ids[label]
	return id, ok
}

// Labels returns the labels ordered by class id
func (m SpeciesMap) Labels() []string {
	return append([]string(nil), m.labels...)
}

func (m SpeciesMap) Len() int {
	return len(m.labels)
}

// Map returns a copy of the label to id assignment
func (m SpeciesMap) Map() map[string]int {
	out := make(map[string]int, len(m.ids))
	for k, v := range m.ids {
		out[k] = v
	}
	return out
}
