package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"pulpfile/pkg/core"
	"pulpfile/pkg/publisher"
	"pulpfile/pkg/tasking"
	"pulpfile/pkg/types"

	"github.com/go-chi/chi/v5"
)

type publicationJSON struct {
	Href              string    `json:"href"`
	ID                string    `json:"id"`
	Repository        string    `json:"repository"`
	RepositoryVersion string    `json:"repository_version"`
	Manifest          string    `json:"manifest"`
	ManifestDigest    string    `json:"manifest_digest"`
	TreeHash          string    `json:"tree_hash"`
	ContentHref       string    `json:"content_href"`
	Files             int       `json:"files"`
	CreatedAt         time.Time `json:"created_at"`
}

func toPublicationJSON(p *core.Publication) publicationJSON {
	return publicationJSON{
		Href:              publicationHref(p.ID),
		ID:                string(p.ID),
		Repository:        RepositoryHref(p.RepositoryID),
		RepositoryVersion: versionHref(p.RepositoryID, p.VersionNumber),
		Manifest:          p.Manifest,
		ManifestDigest:    string(p.ManifestDigest),
		TreeHash:          string(p.TreeHash),
		ContentHref:       publicationHref(p.ID) + "content/",
		Files:             len(p.Layout),
		CreatedAt:         p.CreatedAt,
	}
}

type publishRequest struct {
	Repository        string `json:"repository"`
	RepositoryVersion string `json:"repository_version"`
	Manifest          string `json:"manifest"`
}

// createPublication queues a publish. Exactly one of repository and
// repository_version must be given.
func (h *Handler) createPublication(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	// 1. target
	var (
		repoID  types.RepositoryID
		version *publisher.VersionRef
	)
	if req.Repository != "" {
		id, err := parseID(req.Repository, "/repositories/")
		if err != nil {
			h.writeError(w, err)
			return
		}
		repoID = types.RepositoryID(id)
	}
	if req.RepositoryVersion != "" {
		id, n, err := parseVersionHref(req.RepositoryVersion)
		if err != nil {
			h.writeError(w, err)
			return
		}
		version = &publisher.VersionRef{RepositoryID: id, Number: n}
	}
	target, err := publisher.NewTarget(repoID, version)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if req.Manifest != "" {
		if err := core.ValidateRelativePath(req.Manifest); err != nil {
			h.writeError(w, err)
			return
		}
	}

	ctx := r.Context()
	if _, err := h.history.GetRepository(ctx, target.RepositoryID()); err != nil {
		h.writeError(w, fmt.Errorf("%w: repository: %w", ErrValidation, err))
		return
	}

	// 2. queue
	resources := []string{RepositoryHref(target.RepositoryID())}
	task, err := h.tasks.Enqueue("publish", resources, func(ctx context.Context, t *tasking.Task) error {
		pub, err := h.publisher.Publish(ctx, target, req.Manifest)
		if err != nil {
			return err
		}
		t.AddCreated(publicationHref(pub.ID))
		return nil
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.accepted(w, task)
}

func (h *Handler) listPublications(w http.ResponseWriter, r *http.Request) {
	var repoID types.RepositoryID
	if q := r.URL.Query().Get("repository"); q != "" {
		id, err := parseID(q, "/repositories/")
		if err != nil {
			h.writeError(w, err)
			return
		}
		repoID = types.RepositoryID(id)
	}
	pubs, err := h.publisher.List(r.Context(), repoID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var out []publicationJSON
	for _, p := range pubs {
		out = append(out, toPublicationJSON(p))
	}
	h.writeJSON(w, http.StatusOK, newList(out))
}

func (h *Handler) getPublication(w http.ResponseWriter, r *http.Request) {
	pub, err := h.publisher.Get(r.Context(), types.PublicationID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPublicationJSON(pub))
}

// servePublication streams one published file, so a remote can point at
// <publication>/content/PULP_MANIFEST.
func (h *Handler) servePublication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := types.PublicationID(chi.URLParam(r, "id"))
	relPath := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		// chi matched on the escaped form
		unescaped, err := url.PathUnescape(relPath)
		if err != nil {
			h.writeError(w, fmt.Errorf("%w: %s", ErrValidation, err))
			return
		}
		relPath = unescaped
	}

	pub, err := h.publisher.Get(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if _, ok := pub.Layout[relPath]; !ok {
		h.writeError(w, fmt.Errorf("%w: %s", errNotPublished, relPath))
		return
	}

	if relPath == pub.Manifest {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if err := h.publisher.Serve(ctx, id, relPath, w); err != nil {
		// headers may be gone already; log and cut the response
		h.logger.Error("failed to serve published file", "publication", id, "path", relPath, "error", err)
		panic(http.ErrAbortHandler)
	}
}
