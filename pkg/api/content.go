package api

import (
	"fmt"
	"net/http"
	"strconv"

	"pulpfile/pkg/core"
	"pulpfile/pkg/history"
	"pulpfile/pkg/ingester"
	"pulpfile/pkg/meta"
	"pulpfile/pkg/storage"
	"pulpfile/pkg/types"

	"github.com/go-chi/chi/v5"
)

const defaultPageSize = 100

func (h *Handler) listContent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := meta.ContentFilter{
		RelativePath: q.Get("relative_path"),
		Digest:       q.Get("digest"),
		Limit:        defaultPageSize,
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				h.writeError(w, fmt.Errorf("%w: %s=%q", ErrValidation, name, v))
				return
			}
			*dst = n
		}
	}

	rows, err := h.meta.FindContent(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var out []contentUnitJSON
	for _, row := range rows {
		out = append(out, unitJSON(history.ToFileContent(row)))
	}
	h.writeJSON(w, http.StatusOK, newList(out))
}

func (h *Handler) getContent(w http.ResponseWriter, r *http.Request) {
	row, err := h.meta.GetContent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, unitJSON(history.ToFileContent(*row)))
}

type createContentRequest struct {
	RelativePath string `json:"relative_path"`
	Artifact     string `json:"artifact"`
}

// createContent makes a unit from an uploaded artifact. A unit with the
// same (relative_path, digest) is rejected.
func (h *Handler) createContent(w http.ResponseWriter, r *http.Request) {
	var req createContentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := core.ValidateRelativePath(req.RelativePath); err != nil {
		h.writeError(w, err)
		return
	}
	digest, err := parseArtifact(req.Artifact)
	if err != nil {
		h.writeError(w, err)
		return
	}

	ctx := r.Context()
	blob, ok, err := h.ingester.Lookup(ctx, digest)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		h.writeError(w, fmt.Errorf("%w: artifact %s does not exist", ErrValidation, digest))
		return
	}

	unit := core.FileContent{
		RelativePath: req.RelativePath,
		Digest:       digest,
		Size:         blob.Size,
		StorageRef:   blob.StorageRef,
	}
	row := history.ToContentModel(unit)
	if err := h.meta.CreateContent(ctx, &row); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, unitJSON(unit))
}

type artifactJSON struct {
	Href   string `json:"href"`
	Digest string `json:"sha256"`
	Size   int64  `json:"size"`
}

// uploadArtifact stores the raw request body. With ?sha256= the upload is
// verified against it.
func (h *Handler) uploadArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		blob *ingester.Blob
		err  error
	)
	if want := r.URL.Query().Get("sha256"); want != "" {
		d := types.Digest(want)
		if !d.IsValid() {
			h.writeError(w, fmt.Errorf("%w: sha256 %q", ErrValidation, want))
			return
		}
		if r.ContentLength < 0 {
			h.writeError(w, fmt.Errorf("%w: Content-Length is required with sha256", ErrValidation))
			return
		}
		blob, err = h.ingester.IngestVerified(ctx, r.Body, d, r.ContentLength)
	} else {
		blob, err = h.ingester.Ingest(ctx, r.Body)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toArtifactJSON(blob))
}

func toArtifactJSON(b *ingester.Blob) artifactJSON {
	return artifactJSON{Href: artifactHref(b.Digest), Digest: string(b.Digest), Size: b.Size}
}

func (h *Handler) getArtifact(w http.ResponseWriter, r *http.Request) {
	digest, err := parseArtifact(chi.URLParam(r, "digest"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	b, ok, err := h.ingester.Lookup(r.Context(), digest)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		h.writeError(w, fmt.Errorf("%w: artifact %s", storage.ErrNotFound, digest))
		return
	}
	h.writeJSON(w, http.StatusOK, toArtifactJSON(b))
}
