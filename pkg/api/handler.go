package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"pulpfile/pkg/history"
	"pulpfile/pkg/ingester"
	"pulpfile/pkg/meta"
	"pulpfile/pkg/publisher"
	"pulpfile/pkg/server"
	"pulpfile/pkg/synchronizer"
	"pulpfile/pkg/tasking"

	"github.com/go-chi/chi/v5"
)

// maxJSONBody bounds request documents; artifact uploads are not JSON.
const maxJSONBody = 1 << 20

// Deps are the engine components the handlers drive.
type Deps struct {
	History   *history.Manager
	Meta      *meta.Repository
	Ingester  *ingester.Ingester
	Sync      *synchronizer.Synchronizer
	Publisher *publisher.Publisher
	Tasks     *tasking.Runner
	Logger    *slog.Logger
}

// Handler serves the REST interface. Long operations (sync, publish,
// modify) are queued on the task runner and answered with 202.
type Handler struct {
	history   *history.Manager
	meta      *meta.Repository
	ingester  *ingester.Ingester
	sync      *synchronizer.Synchronizer
	publisher *publisher.Publisher
	tasks     *tasking.Runner
	logger    *slog.Logger
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		history:   d.History,
		meta:      d.Meta,
		ingester:  d.Ingester,
		sync:      d.Sync,
		publisher: d.Publisher,
		tasks:     d.Tasks,
		logger:    d.Logger,
	}
}

// Routes builds the chi router with logging and panic recovery.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(server.HTTPMiddleware(h.logger)...)

	r.Route("/repositories", func(r chi.Router) {
		r.Get("/", h.listRepositories)
		r.Post("/", h.createRepository)
		r.Get("/{id}/", h.getRepository)
		r.Get("/{id}/versions/", h.listVersions)
		r.Get("/{id}/versions/{number}/", h.getVersion)
		r.Post("/{id}/modify/", h.modifyRepository)
	})

	r.Route("/remotes/file", func(r chi.Router) {
		r.Get("/", h.listRemotes)
		r.Post("/", h.createRemote)
		r.Get("/{id}/", h.getRemote)
		r.Post("/{id}/sync/", h.syncRemote)
	})

	r.Route("/publications/file", func(r chi.Router) {
		r.Get("/", h.listPublications)
		r.Post("/", h.createPublication)
		r.Get("/{id}/", h.getPublication)
		r.Get("/{id}/content/*", h.servePublication)
	})

	r.Route("/content/file/files", func(r chi.Router) {
		r.Get("/", h.listContent)
		r.Post("/", h.createContent)
		r.Get("/{id}/", h.getContent)
	})

	r.Post("/artifacts/", h.uploadArtifact)
	r.Get("/artifacts/{digest}/", h.getArtifact)

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", h.listTasks)
		r.Get("/{id}/", h.getTask)
		r.Patch("/{id}/", h.patchTask)
	})

	return r
}

// -----------------------------------------------------------------------------
// JSON helpers
// -----------------------------------------------------------------------------

type errorBody struct {
	Detail string `json:"detail"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	h.writeJSON(w, status, errorBody{Detail: err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", ErrValidation)
		}
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

// taskAccepted is the 202 body of every queued operation.
type taskAccepted struct {
	Task string `json:"task"`
}

func (h *Handler) accepted(w http.ResponseWriter, t *tasking.Task) {
	h.writeJSON(w, http.StatusAccepted, taskAccepted{Task: taskHref(t.ID)})
}
