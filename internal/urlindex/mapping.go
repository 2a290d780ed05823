package urlindex

import (
	"cmp"
	"slices"

	"github.com/starford/codex/internal/models"
)

// Mapping is the serialized URL index. Every URL keeps all candidate
// pointers that claim it, best first; the first candidate owns the URL and
// the others are duplicates that surface again if the owner goes away.
//
// Parents records the parent pointer of every indexed element, with or
// without URLs, so an update reaches children the children caches miss.
type Mapping struct {
	URLs    map[string][]models.URLPointer `json:"urls"`
	Parents map[string]string              `json:"parents"`

	byElement map[string][]string // element id -> urls it has candidates at
	byParent  map[string][]string // parent id -> indexed children
}

func newMapping() *Mapping {
	return &Mapping{
		URLs:      map[string][]models.URLPointer{},
		Parents:   map[string]string{},
		byElement: map[string][]string{},
		byParent:  map[string][]string{},
	}
}

// reindex rebuilds the lookups after decoding.
func (m *Mapping) reindex() {
	if m.URLs == nil {
		m.URLs = map[string][]models.URLPointer{}
	}
	m.byElement = map[string][]string{}
	for url, cands := range m.URLs {
		for _, p := range cands {
			if !slices.Contains(m.byElement[p.Element], url) {
				m.byElement[p.Element] = append(m.byElement[p.Element], url)
			}
		}
	}
	m.byParent = map[string][]string{}
	for id, parent := range m.Parents {
		m.byParent[parent] = append(m.byParent[parent], id)
	}
}

// childrenOf returns the indexed elements whose parent pointer is parent.
func (m *Mapping) childrenOf(parent string) []string {
	if parent == "" {
		return nil
	}
	return slices.Clone(m.byParent[parent])
}

// setParent records the parent pointer of id.
func (m *Mapping) setParent(id, parent string) {
	m.dropParent(id)
	m.Parents[id] = parent
	m.byParent[parent] = append(m.byParent[parent], id)
}

// dropParent forgets the parent pointer of id.
func (m *Mapping) dropParent(id string) {
	old, ok := m.Parents[id]
	if !ok {
		return
	}
	delete(m.Parents, id)
	siblings := slices.DeleteFunc(m.byParent[old], func(c string) bool { return c == id })
	if len(siblings) == 0 {
		delete(m.byParent, old)
		return
	}
	m.byParent[old] = siblings
}

// Len returns the number of indexed URLs.
func (m *Mapping) Len() int { return len(m.URLs) }

// Pointer returns the pointer that owns url.
func (m *Mapping) Pointer(url string) (models.URLPointer, bool) {
	cands := m.URLs[models.NormalizeURL(url)]
	if len(cands) == 0 {
		return models.URLPointer{}, false
	}
	return cands[0].Clone(), true
}

// PointersFor returns the pointers owned by element, sorted by URL.
func (m *Mapping) PointersFor(element string) []models.URLPointer {
	var out []models.URLPointer
	for _, url := range m.byElement[element] {
		cands := m.URLs[url]
		if len(cands) > 0 && cands[0].Element == element {
			for _, p := range cands {
				if p.Element == element {
					out = append(out, p.Clone())
				}
			}
		}
	}
	slices.SortFunc(out, comparePointerKey)
	return out
}

// candidatesFor returns every candidate pointer of element, owned or not.
func (m *Mapping) candidatesFor(element string) []models.URLPointer {
	var out []models.URLPointer
	for _, url := range m.byElement[element] {
		for _, p := range m.URLs[url] {
			if p.Element == element {
				out = append(out, p)
			}
		}
	}
	slices.SortFunc(out, comparePointerKey)
	return out
}

// Duplicates returns, per contested URL, the ids of all elements claiming it
// with the owner first.
func (m *Mapping) Duplicates() map[string][]string {
	out := map[string][]string{}
	for url, cands := range m.URLs {
		var elems []string
		for _, p := range cands {
			if !slices.Contains(elems, p.Element) {
				elems = append(elems, p.Element)
			}
		}
		if len(elems) > 1 {
			out[url] = elems
		}
	}
	return out
}

// add inserts p. Candidates of the same element with the same flags are
// merged by language.
func (m *Mapping) add(p models.URLPointer) {
	cands := m.URLs[p.URL]
	for i := range cands {
		c := &cands[i]
		if c.Element == p.Element && c.Default == p.Default && c.Deprecated == p.Deprecated {
			for _, lang := range p.Languages {
				if !slices.Contains(c.Languages, lang) {
					c.Languages = append(c.Languages, lang)
				}
			}
			slices.Sort(c.Languages)
			return
		}
	}
	p = p.Clone()
	slices.Sort(p.Languages)
	cands = append(cands, p)
	slices.SortFunc(cands, comparePreference)
	m.URLs[p.URL] = cands
	if !slices.Contains(m.byElement[p.Element], p.URL) {
		m.byElement[p.Element] = append(m.byElement[p.Element], p.URL)
	}
}

// removeElements drops every candidate of the given elements.
func (m *Mapping) removeElements(ids map[string]bool) {
	for id := range ids {
		for _, url := range m.byElement[id] {
			cands := slices.DeleteFunc(m.URLs[url], func(p models.URLPointer) bool {
				return ids[p.Element]
			})
			if len(cands) == 0 {
				delete(m.URLs, url)
				continue
			}
			m.URLs[url] = cands
		}
		delete(m.byElement, id)
	}
}

// elementsUnder returns the elements holding a candidate strictly below one
// of the given URLs.
func (m *Mapping) elementsUnder(urls []string) []string {
	var out []string
	for url, cands := range m.URLs {
		for _, prefix := range urls {
			if !isBelow(url, prefix) {
				continue
			}
			for _, p := range cands {
				if !slices.Contains(out, p.Element) {
					out = append(out, p.Element)
				}
			}
			break
		}
	}
	slices.Sort(out)
	return out
}

func isBelow(url, prefix string) bool {
	if prefix == "/" {
		return url != "/"
	}
	return len(url) > len(prefix) && url[:len(prefix)] == prefix && url[len(prefix)] == '/'
}

// comparePreference orders candidates of one URL: live before deprecated,
// default before non-default, then by element id so the order does not
// depend on insertion history.
func comparePreference(a, b models.URLPointer) int {
	if a.Deprecated != b.Deprecated {
		if !a.Deprecated {
			return -1
		}
		return 1
	}
	if a.Default != b.Default {
		if a.Default {
			return -1
		}
		return 1
	}
	return comparePointerKey(a, b)
}

func comparePointerKey(a, b models.URLPointer) int {
	return cmp.Or(
		cmp.Compare(a.URL, b.URL),
		cmp.Compare(a.Element, b.Element),
		boolCompare(a.Default, b.Default),
		boolCompare(a.Deprecated, b.Deprecated),
	)
}

func boolCompare(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	default:
		return -1
	}
}
