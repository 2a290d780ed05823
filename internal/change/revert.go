package change

import (
	"context"
	"fmt"
	"slices"

	json "github.com/goccy/go-json"

	"github.com/starford/codex/internal/apperr"
	"github.com/starford/codex/internal/models"
)

// RevertFunc reverses one change from its rollback info. It mutates and
// returns the session's objects; the caller persists them.
type RevertFunc func(ctx context.Context, s *Session, info json.RawMessage) ([]models.Storable, error)

var reverters = map[Kind]RevertFunc{
	KindCreateElement:   revertCreateElement,
	KindAddVersion:      revertAddVersion,
	KindElementContents: revertSetField,
	KindCopyContents:    revertLanguage(KindCopyContents),
	KindSetState:        revertSetState,
	KindSetDefinition:   revertSetDefinition,
	KindSetLink:         revertSetLink,
	KindSetSlugs:        revertSetSlugs,
	KindAttachChild:     revertChildren(KindAttachChild),
	KindDetachChild:     revertChildren(KindDetachChild),
	KindSetParent:       revertSetParent,
	KindAddSub:          revertLanguage(KindAddSub),
	KindRemoveSub:       revertLanguage(KindRemoveSub),
	KindAddFileMeta:     revertAddFileMeta,
}

// Revert reverses a change of the given kind. Unknown kinds and
// undecodable info fail with apperr.ErrMalformedRollback.
func Revert(ctx context.Context, s *Session, kind Kind, info json.RawMessage) ([]models.Storable, error) {
	fn, ok := reverters[kind]
	if !ok {
		return nil, fmt.Errorf("change: revert %q: %w", kind, apperr.ErrMalformedRollback)
	}
	return fn(ctx, s, info)
}

// KnownKind reports whether kind has a revert function.
func KnownKind(kind Kind) bool {
	_, ok := reverters[kind]
	return ok
}

func malformed(kind Kind, err error) error {
	if err != nil {
		return fmt.Errorf("change: revert %s: %w: %w", kind, apperr.ErrMalformedRollback, err)
	}
	return fmt.Errorf("change: revert %s: %w", kind, apperr.ErrMalformedRollback)
}

func removeString(list []string, s string) []string {
	out := slices.DeleteFunc(slices.Clone(list), func(v string) bool { return v == s })
	if len(out) == 0 {
		return nil
	}
	return out
}
