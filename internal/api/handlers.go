package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/codex/internal/cms"
	"github.com/starford/codex/internal/models"
)

// Handler holds API route handlers.
type Handler struct {
	svc *cms.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *cms.Service) *Handler {
	return &Handler{svc: svc}
}

// ResolveURL handles GET /api/urls.
//
//	@Summary		Resolve a URL to the element owning it
//	@Tags			urls
//	@Produce		json
//	@Param			url	query		string	true	"Site URL"
//	@Success		200	{object}	models.URLPointer
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/urls [get]
func (h *Handler) ResolveURL(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'url' is required"))
		return
	}
	p, err := h.svc.Resolve(r.Context(), url)
	if err != nil {
		writeError(w, "resolve url", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// RebuildURLs handles POST /api/urls/rebuild.
//
//	@Summary		Rebuild the URL index from the stored elements
//	@Tags			urls
//	@Produce		json
//	@Success		200	{object}	RebuildResponse
//	@Security		BearerAuth
//	@Router			/urls/rebuild [post]
func (h *Handler) RebuildURLs(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.RebuildURLs(r.Context())
	if err != nil {
		writeError(w, "rebuild urls", err)
		return
	}
	writeJSON(w, http.StatusOK, RebuildResponse{URLs: n})
}

// CheckSlugs handles POST /api/slugs/check.
//
//	@Summary		Check slugs for URL conflicts below a parent
//	@Tags			urls
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CheckSlugsRequest	true	"Slugs to check"
//	@Success		200		{object}	CheckSlugsResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/slugs/check [post]
func (h *Handler) CheckSlugs(w http.ResponseWriter, r *http.Request) {
	var req CheckSlugsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Slugs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("slugs are required"))
		return
	}
	conflicts, err := h.svc.CheckSlugs(r.Context(), req.Parent, req.Slugs, req.Existing)
	if err != nil {
		writeError(w, "check slugs", err)
		return
	}
	resp := CheckSlugsResponse{Conflicts: conflicts}
	if req.Suggest && len(conflicts) > 0 {
		resp.Suggestions = map[string]string{}
		for _, c := range conflicts {
			s, err := h.svc.SuggestSlug(r.Context(), req.Parent, c.Slug, req.Existing)
			if err != nil {
				writeError(w, "suggest slug", err)
				return
			}
			resp.Suggestions[c.Slug.Language+":"+c.Slug.URL] = s
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetElement handles GET /api/elements/{id}.
//
//	@Summary		Get an element with its URLs
//	@Tags			elements
//	@Produce		json
//	@Param			id	path		string	true	"Element id"
//	@Success		200	{object}	ElementDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/elements/{id} [get]
func (h *Handler) GetElement(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.GetElement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get element", err)
		return
	}
	w.Header().Set("ETag", `"`+d.ETag+`"`)
	writeJSON(w, http.StatusOK, d)
}

// ElementURLs handles GET /api/elements/{id}/urls.
//
//	@Summary		List the URLs owned by an element
//	@Tags			elements
//	@Produce		json
//	@Param			id	path		string	true	"Element id"
//	@Success		200	{object}	URLsResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/elements/{id}/urls [get]
func (h *Handler) ElementURLs(w http.ResponseWriter, r *http.Request) {
	urls, err := h.svc.ElementURLs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "element urls", err)
		return
	}
	writeJSON(w, http.StatusOK, URLsResponse{URLs: urls})
}

// Commit handles POST /api/transactions.
//
//	@Summary		Validate and apply a transaction of changes
//	@Tags			transactions
//	@Accept			json
//	@Produce		json
//	@Param			X-User-ID	header		string			false	"Acting user"
//	@Param			body		body		CommitRequest	true	"Changes in order"
//	@Success		201			{object}	ResultSummary	"Committed"
//	@Success		200			{object}	ResultSummary	"Nothing to do"
//	@Failure		400			{object}	errResponse
//	@Failure		422			{object}	ResultSummary	"Validation failed"
//	@Security		BearerAuth
//	@Router			/transactions [post]
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Commit(r.Context(), UserFrom(r.Context()), req.Changes)
	if err != nil {
		writeError(w, "commit", err)
		return
	}
	switch {
	case !res.Success():
		writeJSON(w, http.StatusUnprocessableEntity, res.Summary())
	case res.TransactionID() == "":
		writeJSON(w, http.StatusOK, res.Summary())
	default:
		writeJSON(w, http.StatusCreated, res.Summary())
	}
}

// GetTransaction handles GET /api/transactions/{xid}.
//
//	@Summary		Get the audit stamp of a transaction
//	@Tags			transactions
//	@Produce		json
//	@Param			xid	path		string	true	"Transaction id"
//	@Success		200	{object}	TransactionDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/transactions/{xid} [get]
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	xid := chi.URLParam(r, "xid")
	if !models.IsValidID(xid) {
		writeJSON(w, http.StatusNotFound, errorBody("unknown transaction"))
		return
	}
	d, err := h.svc.Transaction(r.Context(), xid)
	if err != nil {
		writeError(w, "get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Rollback handles POST /api/transactions/{xid}/rollback.
//
//	@Summary		Roll back a committed transaction
//	@Tags			transactions
//	@Produce		json
//	@Param			xid	path		string	true	"Transaction id"
//	@Success		200	{object}	ResultSummary
//	@Failure		404	{object}	errResponse
//	@Failure		422	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/transactions/{xid}/rollback [post]
func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	u := UserFrom(r.Context())
	if u.IsAnonymous() {
		writeJSON(w, http.StatusForbidden, errorBody("anonymous users cannot roll back"))
		return
	}
	res, err := h.svc.Rollback(r.Context(), chi.URLParam(r, "xid"), u)
	if err != nil {
		writeError(w, "rollback", err)
		return
	}
	writeJSON(w, http.StatusOK, res.Summary())
}
