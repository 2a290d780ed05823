// Package urlindex maintains the derived mapping from relative site URLs to
// the elements that own them.
//
// The mapping is computed top-down: an element's URLs are the URLs of its
// parent joined with its own slugs, for every reachable version. It is a
// cache of element data and can be rebuilt from the store at any time; a
// full rebuild and an incremental update of the same ids always agree.
package urlindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"sync"

	"github.com/starford/codex/internal/apperr"
	"github.com/starford/codex/internal/models"
	"github.com/starford/codex/internal/storage"
)

// Conflict describes a slug that would produce a URL owned by another
// element.
type Conflict struct {
	Slug    models.Slug `json:"slug"`
	URL     string      `json:"url"`
	Element string      `json:"element"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("url %s (%s) already belongs to element %s", c.URL, c.Slug.Language, c.Element)
}

// Index reads and maintains the URL mapping stored under
// meta/url_element_mapping.
type Index struct {
	store  *storage.Store
	logger *slog.Logger

	mu sync.Mutex
}

// errLegacyMapping marks a stored mapping without parent pointers.
var errLegacyMapping = errors.New("mapping without parent pointers")

// New returns an Index over store.
func New(store *storage.Store, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{store: store, logger: logger}
}

// URLMapping returns the stored mapping, building it first when it is
// missing or unreadable.
func (ix *Index) URLMapping(ctx context.Context) (*Mapping, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.load(ctx)
}

func (ix *Index) load(ctx context.Context) (*Mapping, error) {
	var m Mapping
	err := ix.store.LoadMeta(ctx, models.MetaURLMappingKey, &m)
	if err == nil && m.Parents == nil {
		err = errLegacyMapping
	}
	switch {
	case err == nil:
		m.reindex()
		return &m, nil
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrCorruptRecord), errors.Is(err, errLegacyMapping):
		ix.logger.Info("urlindex: mapping missing, rebuilding", slog.String("reason", err.Error()))
		return ix.create(ctx)
	default:
		return nil, fmt.Errorf("urlindex: load mapping: %w", err)
	}
}

// CreateURLMapping rebuilds the whole mapping from the stored elements and
// persists it.
func (ix *Index) CreateURLMapping(ctx context.Context) (*Mapping, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.create(ctx)
}

func (ix *Index) create(ctx context.Context) (*Mapping, error) {
	ids, err := ix.store.EnumAllElementIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("urlindex: list elements: %w", err)
	}
	m := newMapping()
	if err := ix.recompute(ctx, m, ids); err != nil {
		return nil, err
	}
	if err := ix.save(ctx, m); err != nil {
		return nil, err
	}
	ix.logger.Info("urlindex: mapping rebuilt", slog.Int("elements", len(ids)), slog.Int("urls", m.Len()))
	return m, nil
}

// UpdateURLMappingFor recomputes the URLs of the given elements and of all
// their descendants. Ids of deleted elements drop out of the mapping.
func (ix *Index) UpdateURLMappingFor(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var m Mapping
	err := ix.store.LoadMeta(ctx, models.MetaURLMappingKey, &m)
	if err == nil && m.Parents == nil {
		err = errLegacyMapping
	}
	if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrCorruptRecord) || errors.Is(err, errLegacyMapping) {
		_, err = ix.create(ctx)
		return err
	}
	if err != nil {
		return fmt.Errorf("urlindex: load mapping: %w", err)
	}
	m.reindex()
	if err := ix.recompute(ctx, &m, ids); err != nil {
		return err
	}
	if err := ix.save(ctx, &m); err != nil {
		return err
	}
	ix.logger.Debug("urlindex: mapping updated", slog.Int("seeds", len(ids)), slog.Int("urls", m.Len()))
	return nil
}

// InvalidateURLMapping drops the stored mapping; the next read rebuilds it.
func (ix *Index) InvalidateURLMapping(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.store.DeleteMeta(ctx, models.MetaURLMappingKey); err != nil {
		return fmt.Errorf("urlindex: invalidate: %w", err)
	}
	return nil
}

// RecreateCacheData drops every cached record and rebuilds the mapping.
func (ix *Index) RecreateCacheData(ctx context.Context) error {
	ix.store.Purge()
	_, err := ix.CreateURLMapping(ctx)
	return err
}

// LoadURLPointerByURL returns the pointer owning url.
func (ix *Index) LoadURLPointerByURL(ctx context.Context, url string) (models.URLPointer, error) {
	m, err := ix.URLMapping(ctx)
	if err != nil {
		return models.URLPointer{}, err
	}
	p, ok := m.Pointer(url)
	if !ok {
		return models.URLPointer{}, fmt.Errorf("urlindex: url %s: %w", models.NormalizeURL(url), apperr.ErrNotFound)
	}
	return p, nil
}

// LoadURLPointersByElement returns the URLs owned by element.
func (ix *Index) LoadURLPointersByElement(ctx context.Context, element string) ([]models.URLPointer, error) {
	m, err := ix.URLMapping(ctx)
	if err != nil {
		return nil, err
	}
	return m.PointersFor(element), nil
}

// CheckSlugs reports the slugs that, placed under parent, would produce a
// URL already owned by an element other than existing. Deprecated slugs
// and deprecated candidates never conflict. parent "" means the site root.
func (ix *Index) CheckSlugs(ctx context.Context, parent string, slugs []models.Slug, existing string) ([]Conflict, error) {
	m, err := ix.URLMapping(ctx)
	if err != nil {
		return nil, err
	}
	return checkSlugs(m, parent, slugs, existing), nil
}

func checkSlugs(m *Mapping, parent string, slugs []models.Slug, existing string) []Conflict {
	var out []Conflict
	for _, s := range slugs {
		if s.Deprecated {
			continue
		}
		for _, pp := range parentPaths(m, parent, s.Language) {
			url := models.JoinURL(pp.url, s.URL)
			for _, c := range m.URLs[url] {
				if c.Element == existing || c.Deprecated {
					continue
				}
				out = append(out, Conflict{Slug: s, URL: url, Element: c.Element})
				break
			}
		}
	}
	return out
}

var suffixRe = regexp.MustCompile(`^(.*)_([0-9]+)$`)

// maxSuggestAttempts bounds the suffix search of SuggestSlug.
const maxSuggestAttempts = 1000

// SuggestSlug returns slug.URL when it is free under parent, or the first
// free variant with a numeric suffix (_2, _3, ...). An existing suffix is
// incremented rather than extended. taken lists segments already reserved
// by the caller.
func (ix *Index) SuggestSlug(ctx context.Context, parent string, slug models.Slug, existing string, taken ...string) (string, error) {
	m, err := ix.URLMapping(ctx)
	if err != nil {
		return "", err
	}
	return suggestSlug(m, parent, slug, existing, taken)
}

func suggestSlug(m *Mapping, parent string, slug models.Slug, existing string, taken []string) (string, error) {
	seg := models.NormalizeSegment(slug.URL)
	free := func(candidate string) bool {
		if slices.Contains(taken, candidate) {
			return false
		}
		s := slug
		s.URL = candidate
		s.Deprecated = false
		return len(checkSlugs(m, parent, []models.Slug{s}, existing)) == 0
	}
	if free(seg) {
		return seg, nil
	}

	stem, n := seg, 2
	if sm := suffixRe.FindStringSubmatch(seg); sm != nil {
		if v, err := strconv.Atoi(sm[2]); err == nil {
			stem, n = sm[1], v+1
		}
	}
	for i := 0; i < maxSuggestAttempts; i++ {
		candidate := stem + "_" + strconv.Itoa(n+i)
		if free(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("urlindex: no free slug for %q: %w", seg, apperr.ErrConflict)
}

func (ix *Index) save(ctx context.Context, m *Mapping) error {
	if err := ix.store.StoreMeta(ctx, models.MetaURLMappingKey, m); err != nil {
		return fmt.Errorf("urlindex: store mapping: %w", err)
	}
	for url, elems := range m.Duplicates() {
		ix.logger.Warn("urlindex: duplicate url", slog.String("url", url), slog.Any("elements", elems))
	}
	return nil
}

type parentPath struct {
	url       string
	isDefault bool
}

// parentPaths returns the live URLs of parent in lang. The site root has
// the single default path "/".
func parentPaths(m *Mapping, parent, lang string) []parentPath {
	if parent == "" {
		return []parentPath{{url: "/", isDefault: true}}
	}
	var out []parentPath
	for _, p := range m.candidatesFor(parent) {
		if p.Deprecated || !p.HasLanguage(lang) {
			continue
		}
		i := slices.IndexFunc(out, func(pp parentPath) bool { return pp.url == p.URL })
		if i >= 0 {
			out[i].isDefault = out[i].isDefault || p.Default
			continue
		}
		out = append(out, parentPath{url: p.URL, isDefault: p.Default})
	}
	return out
}

// recompute replaces the candidates of seeds and their descendants. It is
// the single code path for full rebuilds (all ids as seeds, empty mapping)
// and incremental updates.
func (ix *Index) recompute(ctx context.Context, m *Mapping, seeds []string) error {
	type item struct {
		id  string
		via string // parent that listed id as a child; "" for seeds
	}

	loaded := map[string]*models.Element{}
	visited := map[string]bool{}
	var order []string

	queue := make([]item, 0, len(seeds))
	for _, id := range seeds {
		queue = append(queue, item{id: id})
	}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		if visited[it.id] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		e, err := ix.store.LoadElement(ctx, it.id)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			if it.via != "" {
				continue
			}
		case err != nil:
			return fmt.Errorf("urlindex: load %s: %w", it.id, err)
		case it.via != "" && e.Parent != it.via:
			// Stale children cache entry.
			continue
		}
		visited[it.id] = true

		// Elements currently indexed below this one depend on it even if
		// no children cache lists them any more.
		var urls []string
		for _, p := range m.candidatesFor(it.id) {
			urls = append(urls, p.URL)
		}
		for _, d := range m.elementsUnder(urls) {
			queue = append(queue, item{id: d})
		}
		// The parent pointer is authoritative; the children cache may miss
		// elements moved or created below this one.
		for _, c := range m.childrenOf(it.id) {
			queue = append(queue, item{id: c, via: it.id})
		}

		if e == nil {
			continue
		}
		loaded[it.id] = e
		order = append(order, it.id)
		for _, c := range e.ChildIDs() {
			queue = append(queue, item{id: c, via: it.id})
		}
	}

	m.removeElements(visited)
	for id := range visited {
		if e := loaded[id]; e != nil {
			m.setParent(id, e.Parent)
		} else {
			m.dropParent(id)
		}
	}

	// Parents first. An element whose parent is being recomputed waits for
	// it; anything left when no progress is made sits on a parent cycle.
	done := map[string]bool{}
	pending := order
	for len(pending) > 0 {
		var next []string
		for _, id := range pending {
			e := loaded[id]
			if e.Parent != "" && loaded[e.Parent] != nil && !done[e.Parent] {
				next = append(next, id)
				continue
			}
			addElement(m, e)
			done[id] = true
		}
		if len(next) == len(pending) {
			ix.logger.Warn("urlindex: parent cycle, elements left without urls", slog.Any("elements", next))
			break
		}
		pending = next
	}
	return nil
}

// addElement inserts the candidates of every reachable, non-deleted version
// of e. Per language only one version contributes the default URL: the
// newest published one that has slugs in that language, otherwise the
// newest one.
func addElement(m *Mapping, e *models.Element) {
	reachable := slices.DeleteFunc(e.ReachableVersions(), func(vno int) bool {
		return e.Versions[vno].State == models.StateDeleted
	})

	defaultSource := map[string]int{}
	for _, published := range []bool{true, false} {
		for i := len(reachable) - 1; i >= 0; i-- {
			vno := reachable[i]
			v := e.Versions[vno]
			if published && v.State != models.StatePublished {
				continue
			}
			for _, s := range v.Slugs {
				if _, ok := defaultSource[s.Language]; !ok {
					defaultSource[s.Language] = vno
				}
			}
		}
	}

	for _, vno := range reachable {
		for _, s := range e.Versions[vno].Slugs {
			for _, pp := range parentPaths(m, e.Parent, s.Language) {
				m.add(models.URLPointer{
					URL:        models.JoinURL(pp.url, s.URL),
					Element:    e.ID,
					Languages:  []string{s.Language},
					Default:    pp.isDefault && s.Default && !s.Deprecated && defaultSource[s.Language] == vno,
					Deprecated: s.Deprecated,
				})
			}
		}
	}
}
