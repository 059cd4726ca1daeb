package api

import (
	"fmt"
	"net/http"
	"time"

	"pulpfile/pkg/tasking"

	"github.com/go-chi/chi/v5"
)

type taskErrorJSON struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

type taskJSON struct {
	Href              string         `json:"href"`
	Name              string         `json:"name"`
	State             tasking.State  `json:"state"`
	ReservedResources []string       `json:"reserved_resources"`
	CreatedResources  []string       `json:"created_resources"`
	Error             *taskErrorJSON `json:"error"`
	CreatedAt         time.Time      `json:"created_at"`
	StartedAt         *time.Time     `json:"started_at"`
	FinishedAt        *time.Time     `json:"finished_at"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func toTaskJSON(t *tasking.Task) taskJSON {
	st := t.Status()
	out := taskJSON{
		Href:              taskHref(st.ID),
		Name:              st.Name,
		State:             st.State,
		ReservedResources: st.Resources,
		CreatedResources:  st.Created,
		CreatedAt:         st.CreatedAt,
		StartedAt:         timePtr(st.StartedAt),
		FinishedAt:        timePtr(st.FinishedAt),
	}
	if out.ReservedResources == nil {
		out.ReservedResources = []string{}
	}
	if out.CreatedResources == nil {
		out.CreatedResources = []string{}
	}
	if st.Err != nil && st.State != tasking.StateCompleted {
		out.Error = &taskErrorJSON{Kind: ErrorKind(st.Err), Description: st.Err.Error()}
	}
	return out
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	state := tasking.State(r.URL.Query().Get("state"))
	var out []taskJSON
	for _, t := range h.tasks.List() {
		if state != "" && t.Status().State != state {
			continue
		}
		out = append(out, toTaskJSON(t))
	}
	h.writeJSON(w, http.StatusOK, newList(out))
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tasks.Get(chi.URLParam(r, "id"))
	if !ok {
		h.writeError(w, fmt.Errorf("%w: %s", tasking.ErrTaskNotFound, chi.URLParam(r, "id")))
		return
	}
	h.writeJSON(w, http.StatusOK, toTaskJSON(t))
}

// patchTask only supports {"state": "canceled"}.
func (h *Handler) patchTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State tasking.State `json:"state"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.State != tasking.StateCanceled {
		h.writeError(w, fmt.Errorf("%w: state can only be set to %q", ErrValidation, tasking.StateCanceled))
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.tasks.Cancel(id); err != nil {
		h.writeError(w, err)
		return
	}
	t, _ := h.tasks.Get(id)
	h.writeJSON(w, http.StatusOK, toTaskJSON(t))
}
