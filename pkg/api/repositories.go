package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"pulpfile/pkg/changeset"
	"pulpfile/pkg/core"
	"pulpfile/pkg/history"
	"pulpfile/pkg/tasking"
	"pulpfile/pkg/types"

	"github.com/go-chi/chi/v5"
)

type repositoryJSON struct {
	Href              string    `json:"href"`
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	VersionsHref      string    `json:"versions_href"`
	LatestVersionHref string    `json:"latest_version_href,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type contentUnitJSON struct {
	Href         string `json:"href"`
	RelativePath string `json:"relative_path"`
	Digest       string `json:"digest"`
	Size         int64  `json:"size"`
	Artifact     string `json:"artifact"`
}

type versionJSON struct {
	Href           string              `json:"href"`
	Number         int64               `json:"number"`
	Repository     string              `json:"repository"`
	ContentDigest  string              `json:"content_digest"`
	ContentSummary core.ContentSummary `json:"content_summary"`
	Content        []contentUnitJSON   `json:"content,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

type listJSON[T any] struct {
	Count   int `json:"count"`
	Results []T `json:"results"`
}

func newList[T any](items []T) listJSON[T] {
	if items == nil {
		items = []T{}
	}
	return listJSON[T]{Count: len(items), Results: items}
}

func unitJSON(u core.FileContent) contentUnitJSON {
	return contentUnitJSON{
		Href:         contentHref(u.Key().ID()),
		RelativePath: u.RelativePath,
		Digest:       string(u.Digest),
		Size:         u.Size,
		Artifact:     artifactHref(u.Digest),
	}
}

func toVersionJSON(v *core.RepositoryVersion) versionJSON {
	out := versionJSON{
		Href:           versionHref(v.RepositoryID, v.Number),
		Number:         v.Number,
		Repository:     RepositoryHref(v.RepositoryID),
		ContentDigest:  string(v.ContentDigest),
		ContentSummary: v.Summary,
		CreatedAt:      v.CreatedAt,
	}
	if v.Content != nil {
		out.Content = []contentUnitJSON{}
		for _, u := range v.Content.Units() {
			out.Content = append(out.Content, unitJSON(u))
		}
	}
	return out
}

func (h *Handler) toRepositoryJSON(ctx context.Context, r *core.Repository) (repositoryJSON, error) {
	out := repositoryJSON{
		Href:         RepositoryHref(r.ID),
		ID:           string(r.ID),
		Name:         r.Name,
		VersionsHref: RepositoryHref(r.ID) + "versions/",
		CreatedAt:    r.CreatedAt,
	}
	latest, err := h.meta.LatestVersion(ctx, string(r.ID))
	if err == nil {
		out.LatestVersionHref = versionHref(r.ID, latest.Number)
	} else if !isNotFound(err) {
		return out, err
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (h *Handler) createRepository(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Name == "" {
		h.writeError(w, fmt.Errorf("%w: name is required", ErrValidation))
		return
	}

	repo, err := h.history.CreateRepository(r.Context(), req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out, err := h.toRepositoryJSON(r.Context(), repo)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) listRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := h.history.ListRepositories(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	var out []repositoryJSON
	for _, repo := range repos {
		j, err := h.toRepositoryJSON(r.Context(), repo)
		if err != nil {
			h.writeError(w, err)
			return
		}
		out = append(out, j)
	}
	h.writeJSON(w, http.StatusOK, newList(out))
}

func (h *Handler) getRepository(w http.ResponseWriter, r *http.Request) {
	repo, err := h.history.GetRepository(r.Context(), types.RepositoryID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	out, err := h.toRepositoryJSON(r.Context(), repo)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.history.List(r.Context(), types.RepositoryID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	var out []versionJSON
	for _, v := range versions {
		out = append(out, toVersionJSON(v))
	}
	h.writeJSON(w, http.StatusOK, newList(out))
}

func (h *Handler) getVersion(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseInt(chi.URLParam(r, "number"), 10, 64)
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: version number %q", ErrValidation, chi.URLParam(r, "number")))
		return
	}
	v, err := h.history.At(r.Context(), types.RepositoryID(chi.URLParam(r, "id")), n)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toVersionJSON(v))
}

type modifyRequest struct {
	AddContentUnits    []string `json:"add_content_units"`
	RemoveContentUnits []string `json:"remove_content_units"`
	BaseVersion        string   `json:"base_version,omitempty"`
}

// modifyRepository queues a content change. "*" in remove_content_units
// empties the base before additions apply.
func (h *Handler) modifyRepository(w http.ResponseWriter, r *http.Request) {
	repoID := types.RepositoryID(chi.URLParam(r, "id"))
	var req modifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	ctx := r.Context()
	if _, err := h.history.GetRepository(ctx, repoID); err != nil {
		h.writeError(w, err)
		return
	}

	// resolve units now so bad references fail the request, not the task
	add, err := h.resolveUnits(ctx, req.AddContentUnits)
	if err != nil {
		h.writeError(w, err)
		return
	}
	removeAll := false
	var removeRefs []string
	for _, ref := range req.RemoveContentUnits {
		if ref == "*" {
			removeAll = true
			continue
		}
		removeRefs = append(removeRefs, ref)
	}
	remove, err := h.resolveUnits(ctx, removeRefs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var base *int64
	if req.BaseVersion != "" {
		id, n, err := parseVersionHref(req.BaseVersion)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if id != repoID {
			h.writeError(w, fmt.Errorf("%w: base_version belongs to another repository", ErrValidation))
			return
		}
		base = &n
	}

	task, err := h.tasks.Enqueue("modify", []string{RepositoryHref(repoID)}, func(ctx context.Context, t *tasking.Task) error {
		return h.modify(ctx, t, repoID, base, add, remove, removeAll)
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.accepted(w, task)
}

func (h *Handler) modify(ctx context.Context, t *tasking.Task, repoID types.RepositoryID, base *int64,
	add, remove []core.FileContent, removeAll bool) error {
	latest, err := h.history.Latest(ctx, repoID)
	if err != nil {
		return err
	}
	if latest == nil {
		return fmt.Errorf("%w: %s has no versions", history.ErrVersionNotFound, repoID)
	}
	from := latest
	if base != nil {
		if from, err = h.history.At(ctx, repoID, *base); err != nil {
			return err
		}
	}

	start := from.Content
	if removeAll {
		start = core.EmptyContentSet()
	}
	keys := make([]core.Key, 0, len(remove))
	for _, u := range remove {
		keys = append(keys, u.Key())
	}
	next, err := changeset.Modify(start, add, keys)
	if err != nil {
		return err
	}
	if next.Equal(latest.Content) {
		return nil
	}

	// an older base_version still lands on top of latest
	v, err := h.history.Append(ctx, repoID, latest.Number, next)
	if err != nil {
		return err
	}
	t.AddCreated(versionHref(repoID, v.Number))
	return nil
}

func (h *Handler) resolveUnits(ctx context.Context, refs []string) ([]core.FileContent, error) {
	out := make([]core.FileContent, 0, len(refs))
	for _, ref := range refs {
		id, err := parseID(ref, "/content/file/files/")
		if err != nil {
			return nil, err
		}
		row, err := h.meta.GetContent(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrValidation, ref, err)
		}
		out = append(out, history.ToFileContent(*row))
	}
	return out, nil
}
