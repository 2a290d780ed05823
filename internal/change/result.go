package change

import (
	"fmt"
	"slices"

	"github.com/starford/codex/internal/apperr"
	"github.com/starford/codex/internal/models"
)

// Result accumulates the outcome of validating or applying changes.
//
// Success is the AND of every merged result. Touched storables are
// deduplicated by storage key, keeping the most recently merged object.
// The transaction id can be assigned once.
type Result struct {
	success     bool
	storables   []models.Storable
	touchedURLs []string
	xid         string
	infos       []string
	errs        []string
	clientInfo  map[string]map[string]any
}

// NewResult returns an empty, successful result.
func NewResult() *Result {
	return &Result{success: true}
}

// Failure returns a failed result carrying one formatted message.
func Failure(format string, args ...any) *Result {
	r := NewResult()
	r.AddError(fmt.Sprintf(format, args...))
	return r
}

// Success reports whether no merged result failed.
func (r *Result) Success() bool { return r.success }

// AddError records a business-rule violation and marks the result failed.
func (r *Result) AddError(msg string) {
	r.success = false
	r.errs = append(r.errs, msg)
}

// AddInfo records an informational message.
func (r *Result) AddInfo(msg string) {
	r.infos = append(r.infos, msg)
}

// Errors returns the error messages.
func (r *Result) Errors() []string { return slices.Clone(r.errs) }

// Infos returns the informational messages.
func (r *Result) Infos() []string { return slices.Clone(r.infos) }

// Touch records st for persistence, replacing an earlier object with the
// same storage key.
func (r *Result) Touch(st models.Storable) {
	scope, id := st.StorageKey()
	for i, old := range r.storables {
		if oscope, oid := old.StorageKey(); oscope == scope && oid == id {
			r.storables[i] = st
			return
		}
	}
	r.storables = append(r.storables, st)
}

// Storables returns the touched objects in first-touch order.
func (r *Result) Storables() []models.Storable { return slices.Clone(r.storables) }

// TouchURL records an element whose URLs may have changed.
func (r *Result) TouchURL(elementID string) {
	if elementID != "" && !slices.Contains(r.touchedURLs, elementID) {
		r.touchedURLs = append(r.touchedURLs, elementID)
	}
}

// TouchedURLs returns the elements whose URLs need recomputing.
func (r *Result) TouchedURLs() []string { return slices.Clone(r.touchedURLs) }

// TouchedElements returns the ids of touched elements, deleted ones
// included.
func (r *Result) TouchedElements() []string {
	var out []string
	for _, st := range r.storables {
		if scope, id := st.StorageKey(); scope == models.ScopeElements {
			out = append(out, id)
		}
	}
	return out
}

// SetTransactionID assigns the transaction id.
func (r *Result) SetTransactionID(xid string) error {
	if r.xid != "" {
		return apperr.ErrTransactionIDAssigned
	}
	r.xid = xid
	return nil
}

// TransactionID returns the assigned transaction id, or "".
func (r *Result) TransactionID() string { return r.xid }

// SetClientInfo annotates an element for the caller.
func (r *Result) SetClientInfo(elementID, key string, value any) {
	if r.clientInfo == nil {
		r.clientInfo = map[string]map[string]any{}
	}
	if r.clientInfo[elementID] == nil {
		r.clientInfo[elementID] = map[string]any{}
	}
	r.clientInfo[elementID][key] = value
}

// ClientInfo returns the per-element annotations.
func (r *Result) ClientInfo() map[string]map[string]any { return r.clientInfo }

// Merge folds o into r. Merging two results that both carry a transaction
// id fails with apperr.ErrTransactionIDAssigned and leaves r unchanged.
func (r *Result) Merge(o *Result) error {
	if o == nil {
		return nil
	}
	if o.xid != "" {
		if err := r.SetTransactionID(o.xid); err != nil {
			return err
		}
	}
	r.success = r.success && o.success
	for _, st := range o.storables {
		r.Touch(st)
	}
	for _, id := range o.touchedURLs {
		r.TouchURL(id)
	}
	r.infos = append(r.infos, o.infos...)
	r.errs = append(r.errs, o.errs...)
	for elem, kv := range o.clientInfo {
		for k, v := range kv {
			r.SetClientInfo(elem, k, v)
		}
	}
	return nil
}

// Summary is the serializable view of a result.
type Summary struct {
	Success       bool                      `json:"success"`
	TransactionID string                    `json:"xid,omitempty"`
	Elements      []string                  `json:"elements,omitempty"`
	Infos         []string                  `json:"infos,omitempty"`
	Errors        []string                  `json:"errors,omitempty"`
	ClientInfo    map[string]map[string]any `json:"client_info,omitempty"`
}

// Summary returns the serializable view of r.
func (r *Result) Summary() Summary {
	return Summary{
		Success:       r.success,
		TransactionID: r.xid,
		Elements:      r.TouchedElements(),
		Infos:         r.Infos(),
		Errors:        r.Errors(),
		ClientInfo:    r.clientInfo,
	}
}
