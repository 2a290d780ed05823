package change

import (
	"context"
	"fmt"
	"slices"

	json "github.com/goccy/go-json"

	"github.com/starford/codex/internal/apperr"
	"github.com/starford/codex/internal/models"
	"github.com/starford/codex/internal/urlindex"
)

// SetSlugs replaces the slugs of a version.
//
// A language that had a default slug must keep at least one live slug;
// the first live slug of a language becomes its default when none is
// marked. Slugs that collide with a URL of another element fail
// validation, unless Disambiguate is set, in which case Apply renames them
// with a numeric suffix.
type SetSlugs struct {
	Element      string        `json:"element"`
	Version      int           `json:"version"`
	Slugs        []models.Slug `json:"slugs"`
	Disambiguate bool          `json:"disambiguate,omitempty"`
}

func NewSetSlugs(element string, vno int, slugs []models.Slug, disambiguate bool) *SetSlugs {
	return &SetSlugs{Element: element, Version: vno, Slugs: slugs, Disambiguate: disambiguate}
}

func (c *SetSlugs) Kind() Kind { return KindSetSlugs }

func (c *SetSlugs) Validate(ctx context.Context, s *Session, _ []Change) *Result {
	e, v, err := s.Version(ctx, c.Element, c.Version)
	if err != nil {
		return failed(versionFailure(err, c.Element, c.Version))
	}
	slugs := models.NormalizeSlugs(c.Slugs)

	r := NewResult()
	for _, lang := range models.SlugLanguages(v.Slugs) {
		if models.HasDefault(v.Slugs, lang) && !models.HasLive(slugs, lang) {
			r.AddError(fmt.Sprintf("language %s of element %s needs a default url", lang, c.Element))
		}
	}
	if c.Disambiguate {
		return r
	}
	conflicts, err := slugConflicts(ctx, s, e, slugs)
	if err != nil {
		return failed(nil, err)
	}
	for _, cf := range conflicts {
		r.AddError(cf.String())
	}
	return r
}

type slugsInfo struct {
	versionRef
	Slugs []models.Slug `json:"slugs,omitempty"`
}

func (c *SetSlugs) RollbackInfo(ctx context.Context, s *Session) (json.RawMessage, error) {
	_, v, err := s.Version(ctx, c.Element, c.Version)
	if err != nil {
		return nil, err
	}
	return marshalInfo(slugsInfo{versionRef: versionRef{c.Element, c.Version}, Slugs: v.Slugs})
}

func (c *SetSlugs) Apply(ctx context.Context, s *Session) (*Result, error) {
	e, v, err := s.Version(ctx, c.Element, c.Version)
	if err != nil {
		return nil, err
	}
	r := NewResult()
	slugs := models.NormalizeSlugs(c.Slugs)
	if c.Disambiguate {
		if slugs, err = c.disambiguate(ctx, s, e, slugs, r); err != nil {
			return nil, err
		}
	}
	if len(slugs) == 0 {
		slugs = nil
	}
	if slices.Equal(slugs, v.Slugs) {
		return nil, apperr.ErrNothingToDo
	}
	v.Slugs = slugs
	s.Claim(e, slugs)
	r.Touch(e)
	r.TouchURL(e.ID)
	return r, nil
}

// disambiguate renames every live slug whose URL is taken by another
// element, avoiding the other segments of the same language.
func (c *SetSlugs) disambiguate(ctx context.Context, s *Session, e *models.Element, slugs []models.Slug, r *Result) ([]models.Slug, error) {
	conflicts, err := slugConflicts(ctx, s, e, slugs)
	if err != nil {
		return nil, err
	}
	if len(conflicts) == 0 {
		return slugs, nil
	}
	renamed := map[string]string{}
	for i := range slugs {
		sl := &slugs[i]
		if !slices.ContainsFunc(conflicts, func(cf urlindex.Conflict) bool { return cf.Slug == *sl }) {
			continue
		}
		taken := s.ClaimedSegments(e.Parent, sl.Language, e.ID)
		for _, o := range slugs {
			if o.Language == sl.Language && o.URL != sl.URL {
				taken = append(taken, o.URL)
			}
		}
		suggested, err := suggestSlug(ctx, s, e.Parent, *sl, e.ID, taken)
		if err != nil {
			return nil, err
		}
		r.AddInfo(fmt.Sprintf("slug %s (%s) of element %s renamed to %s", sl.URL, sl.Language, e.ID, suggested))
		renamed[sl.Language+":"+sl.URL] = suggested
		sl.URL = suggested
	}
	r.SetClientInfo(e.ID, "renamed_slugs", renamed)
	return models.NormalizeSlugs(slugs), nil
}

// slugConflicts reports the slugs of e that collide with the stored
// mapping or with a segment claimed earlier in the session.
func slugConflicts(ctx context.Context, s *Session, e *models.Element, slugs []models.Slug) ([]urlindex.Conflict, error) {
	out := s.ClaimConflicts(e.Parent, slugs, e.ID)
	if s.Slugs() == nil {
		return out, nil
	}
	stored, err := s.Slugs().CheckSlugs(ctx, e.Parent, slugs, e.ID)
	if err != nil {
		return nil, err
	}
	for _, cf := range stored {
		if !slices.ContainsFunc(out, func(o urlindex.Conflict) bool { return o.Slug == cf.Slug }) {
			out = append(out, cf)
		}
	}
	return out, nil
}

// suggestSlug returns the first free variant of slug, or the segment
// itself when no index is attached and taken does not hold it.
func suggestSlug(ctx context.Context, s *Session, parent string, slug models.Slug, existing string, taken []string) (string, error) {
	if s.Slugs() != nil {
		return s.Slugs().SuggestSlug(ctx, parent, slug, existing, taken...)
	}
	seg := models.NormalizeSegment(slug.URL)
	for n := 2; slices.Contains(taken, seg); n++ {
		seg = fmt.Sprintf("%s_%d", models.NormalizeSegment(slug.URL), n)
	}
	return seg, nil
}

func revertSetSlugs(ctx context.Context, s *Session, raw json.RawMessage) ([]models.Storable, error) {
	var info slugsInfo
	if err := json.Unmarshal(raw, &info); err != nil || info.Element == "" {
		return nil, malformed(KindSetSlugs, err)
	}
	e, v, err := s.Version(ctx, info.Element, info.Version)
	if err != nil {
		return nil, err
	}
	v.Slugs = info.Slugs
	return []models.Storable{e}, nil
}
