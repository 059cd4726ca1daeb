package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pulpfile/pkg/core"
	"pulpfile/pkg/meta"
	"pulpfile/pkg/remote"
	"pulpfile/pkg/tasking"
	"pulpfile/pkg/types"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type remoteJSON struct {
	Href      string    `json:"href"`
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Policy    string    `json:"policy"`
	Excludes  []string  `json:"excludes"`
	CreatedAt time.Time `json:"created_at"`
}

type remoteRequest struct {
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	Policy   string   `json:"policy"`
	Excludes []string `json:"excludes"`
}

// ToRemote converts a remote row.
func ToRemote(row *meta.RemoteModel) (*core.Remote, error) {
	var excludes []string
	if len(row.Excludes) > 0 {
		if err := json.Unmarshal(row.Excludes, &excludes); err != nil {
			return nil, fmt.Errorf("corrupted excludes of remote %s: %w", row.ID, err)
		}
	}
	return &core.Remote{
		ID:       types.RemoteID(row.ID),
		Name:     row.Name,
		URL:      row.URL,
		Policy:   row.Policy,
		Excludes: excludes,
	}, nil
}

func toRemoteJSON(r *core.Remote, createdAt time.Time) remoteJSON {
	excludes := r.Excludes
	if excludes == nil {
		excludes = []string{}
	}
	return remoteJSON{
		Href:      RemoteHref(r.ID),
		ID:        string(r.ID),
		Name:      r.Name,
		URL:       r.URL,
		Policy:    r.Policy,
		Excludes:  excludes,
		CreatedAt: createdAt,
	}
}

func (h *Handler) createRemote(w http.ResponseWriter, r *http.Request) {
	var req remoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	// 1. validate
	if req.Name == "" {
		h.writeError(w, fmt.Errorf("%w: name is required", ErrValidation))
		return
	}
	if err := remote.ValidateURL(req.URL); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Policy == "" {
		req.Policy = core.PolicyImmediate
	}
	if req.Policy != core.PolicyImmediate {
		h.writeError(w, fmt.Errorf("%w: unsupported policy %q", ErrValidation, req.Policy))
		return
	}

	// 2. store
	excludes, err := json.Marshal(req.Excludes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	row := &meta.RemoteModel{
		ID:        uuid.NewString(),
		Name:      req.Name,
		URL:       req.URL,
		Policy:    req.Policy,
		Excludes:  datatypes.JSON(excludes),
		CreatedAt: time.Now().UTC(),
	}
	if err := h.meta.CreateRemote(r.Context(), row); err != nil {
		h.writeError(w, err)
		return
	}

	rem, err := ToRemote(row)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toRemoteJSON(rem, row.CreatedAt))
}

func (h *Handler) listRemotes(w http.ResponseWriter, r *http.Request) {
	rows, err := h.meta.ListRemotes(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	var out []remoteJSON
	for i := range rows {
		rem, err := ToRemote(&rows[i])
		if err != nil {
			h.writeError(w, err)
			return
		}
		out = append(out, toRemoteJSON(rem, rows[i].CreatedAt))
	}
	h.writeJSON(w, http.StatusOK, newList(out))
}

func (h *Handler) getRemote(w http.ResponseWriter, r *http.Request) {
	row, err := h.meta.GetRemote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	rem, err := ToRemote(row)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRemoteJSON(rem, row.CreatedAt))
}

type syncRequest struct {
	Repository string `json:"repository"`
	Mirror     bool   `json:"mirror"`
}

// syncRemote queues a sync reserving both the repository and the remote.
func (h *Handler) syncRemote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	row, err := h.meta.GetRemote(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	rem, err := ToRemote(row)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req syncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	id, err := parseID(req.Repository, "/repositories/")
	if err != nil {
		h.writeError(w, err)
		return
	}
	repoID := types.RepositoryID(id)
	if _, err := h.history.GetRepository(ctx, repoID); err != nil {
		h.writeError(w, fmt.Errorf("%w: repository: %w", ErrValidation, err))
		return
	}

	resources := []string{RepositoryHref(repoID), RemoteHref(rem.ID)}
	task, err := h.tasks.Enqueue("sync", resources, func(ctx context.Context, t *tasking.Task) error {
		res, err := h.sync.Sync(ctx, repoID, rem, req.Mirror)
		if err != nil {
			return err
		}
		if res.Created {
			t.AddCreated(versionHref(repoID, res.Version.Number))
		}
		return nil
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.accepted(w, task)
}
