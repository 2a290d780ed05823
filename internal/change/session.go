package change

import (
	"context"
	"errors"
	"fmt"

	"github.com/starford/codex/internal/apperr"
	"github.com/starford/codex/internal/models"
	"github.com/starford/codex/internal/storage"
	"github.com/starford/codex/internal/urlindex"
)

// SlugChecker is the part of the URL index that changes consult.
type SlugChecker interface {
	CheckSlugs(ctx context.Context, parent string, slugs []models.Slug, existing string) ([]urlindex.Conflict, error)
	SuggestSlug(ctx context.Context, parent string, slug models.Slug, existing string, taken ...string) (string, error)
}

// Session is the unit of work of one validation, apply or rollback pass.
//
// It is an identity map: every element or file is loaded from the store at
// most once and the same instance is handed to every change in the pass, so
// later changes see the effect of earlier ones. Nothing is written to the
// store by the session itself.
type Session struct {
	store *storage.Store
	slugs SlugChecker

	elements map[string]*models.Element // nil value: deleted in this session
	files    map[string]*models.FileMeta

	// URL segments taken by earlier changes of the pass, not yet in the
	// stored mapping.
	claims  map[claimKey]string
	claimed map[string][]claimKey
}

type claimKey struct {
	parent, language, segment string
}

// NewSession returns an empty session over store. slugs may be nil, in
// which case slug conflicts are not checked.
func NewSession(store *storage.Store, slugs SlugChecker) *Session {
	return &Session{
		store:    store,
		slugs:    slugs,
		elements: map[string]*models.Element{},
		files:    map[string]*models.FileMeta{},
		claims:   map[claimKey]string{},
		claimed:  map[string][]claimKey{},
	}
}

// Slugs returns the slug checker, or nil.
func (s *Session) Slugs() SlugChecker { return s.slugs }

// Element returns the session's instance of element id.
func (s *Session) Element(ctx context.Context, id string) (*models.Element, error) {
	if e, ok := s.elements[id]; ok {
		if e == nil {
			return nil, fmt.Errorf("element %s: %w", id, apperr.ErrNotFound)
		}
		return e, nil
	}
	e, err := s.store.LoadElement(ctx, id)
	if err != nil {
		return nil, err
	}
	s.elements[id] = e
	return e, nil
}

// ElementExists reports whether id exists in the session's view.
func (s *Session) ElementExists(ctx context.Context, id string) (bool, error) {
	_, err := s.Element(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// PutElement registers a newly created element.
func (s *Session) PutElement(e *models.Element) { s.elements[e.ID] = e }

// DropElement marks id as deleted for the rest of the session.
func (s *Session) DropElement(id string) {
	s.elements[id] = nil
	s.Unclaim(id)
}

// Version returns the element and its version vno.
func (s *Session) Version(ctx context.Context, id string, vno int) (*models.Element, *models.ElementVersion, error) {
	e, err := s.Element(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	v, ok := e.Version(vno)
	if !ok {
		return nil, nil, fmt.Errorf("element %s version %d: %w", id, vno, models.ErrNoVersion)
	}
	return e, v, nil
}

// FileMeta returns the session's instance of file id.
func (s *Session) FileMeta(ctx context.Context, id string) (*models.FileMeta, error) {
	if f, ok := s.files[id]; ok {
		if f == nil {
			return nil, fmt.Errorf("file %s: %w", id, apperr.ErrNotFound)
		}
		return f, nil
	}
	f, err := s.store.LoadFileMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	s.files[id] = f
	return f, nil
}

// PutFileMeta registers file metadata.
func (s *Session) PutFileMeta(f *models.FileMeta) { s.files[f.ID] = f }

// DropFileMeta marks id as deleted for the rest of the session.
func (s *Session) DropFileMeta(id string) { s.files[id] = nil }

// Claim records the live slugs as taken by e under e.Parent, replacing
// what e claimed before in this session.
func (s *Session) Claim(e *models.Element, slugs []models.Slug) {
	s.Unclaim(e.ID)
	for _, sl := range slugs {
		if sl.Deprecated {
			continue
		}
		k := claimKey{e.Parent, sl.Language, models.NormalizeSegment(sl.URL)}
		if _, ok := s.claims[k]; ok {
			continue
		}
		s.claims[k] = e.ID
		s.claimed[e.ID] = append(s.claimed[e.ID], k)
	}
}

// Unclaim releases the segments claimed by id.
func (s *Session) Unclaim(id string) {
	for _, k := range s.claimed[id] {
		if s.claims[k] == id {
			delete(s.claims, k)
		}
	}
	delete(s.claimed, id)
}

// ClaimConflicts reports the live slugs that another element claimed
// under parent earlier in the session.
func (s *Session) ClaimConflicts(parent string, slugs []models.Slug, existing string) []urlindex.Conflict {
	var out []urlindex.Conflict
	for _, sl := range slugs {
		if sl.Deprecated {
			continue
		}
		seg := models.NormalizeSegment(sl.URL)
		if owner, ok := s.claims[claimKey{parent, sl.Language, seg}]; ok && owner != existing {
			out = append(out, urlindex.Conflict{Slug: sl, URL: seg, Element: owner})
		}
	}
	return out
}

// ClaimedSegments returns the segments of language claimed under parent by
// elements other than existing.
func (s *Session) ClaimedSegments(parent, language, existing string) []string {
	var out []string
	for k, owner := range s.claims {
		if k.parent == parent && k.language == language && owner != existing {
			out = append(out, k.segment)
		}
	}
	return out
}

// versionFailure turns a lookup error into a validation result. Errors
// other than missing objects are returned as-is.
func versionFailure(err error, id string, vno int) (*Result, error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return Failure("element %s does not exist", id), nil
	case errors.Is(err, models.ErrNoVersion):
		return Failure("version %d of element %s does not exist", vno, id), nil
	default:
		return nil, err
	}
}

// failed folds an unexpected lookup error into a failed result. Validation
// never returns errors, so backend failures are reported as messages.
func failed(r *Result, err error) *Result {
	if err != nil {
		return Failure("%v", err)
	}
	return r
}
