package api

import (
	"github.com/starford/codex/internal/change"
	"github.com/starford/codex/internal/cms"
	"github.com/starford/codex/internal/models"
	"github.com/starford/codex/internal/urlindex"
)

// CommitRequest is the request body for committing a transaction.
type CommitRequest struct {
	Changes []change.Spec `json:"changes" validate:"required"`
}

// CheckSlugsRequest is the request body for a slug conflict check.
type CheckSlugsRequest struct {
	Parent   string        `json:"parent" example:"01HZX3J5Q6V7W8X9Y0Z1A2B3C4"`
	Slugs    []models.Slug `json:"slugs" validate:"required"`
	Existing string        `json:"existing,omitempty"`
	Suggest  bool          `json:"suggest,omitempty"`
}

// CheckSlugsResponse lists conflicts and, when requested, a free variant
// per conflicting slug keyed by "language:url".
type CheckSlugsResponse struct {
	Conflicts   []urlindex.Conflict `json:"conflicts" validate:"required"`
	Suggestions map[string]string   `json:"suggestions,omitempty"`
}

// URLsResponse lists the URLs of an element.
type URLsResponse struct {
	URLs []models.URLPointer `json:"urls" validate:"required"`
}

// RebuildResponse is returned after a URL index rebuild.
type RebuildResponse struct {
	URLs int `json:"urls" example:"42" validate:"required"`
}

// ElementDetail is the element response type (aliased from the domain layer).
type ElementDetail = cms.ElementDetail

// TransactionDetail is the transaction response type (aliased from the domain layer).
type TransactionDetail = cms.TransactionDetail

// ResultSummary is the outcome of a commit or rollback.
type ResultSummary = change.Summary
