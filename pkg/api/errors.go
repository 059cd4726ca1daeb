package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"pulpfile/pkg/core"
	"pulpfile/pkg/history"
	"pulpfile/pkg/ingester"
	"pulpfile/pkg/meta"
	"pulpfile/pkg/publisher"
	"pulpfile/pkg/remote"
	"pulpfile/pkg/storage"
	"pulpfile/pkg/synchronizer"
	"pulpfile/pkg/tasking"
	"pulpfile/pkg/treebuilder"
)

// ErrValidation marks a request the client has to fix.
var ErrValidation = errors.New("invalid request")

var errNotPublished = fmt.Errorf("%w: not in publication", storage.ErrNotFound)

// Error kinds reported in task JSON.
const (
	KindRemoteUnavailable = "RemoteUnavailable"
	KindInvalidManifest   = "InvalidManifest"
	KindIntegrity         = "StorageIntegrityError"
	KindVersionNotFound   = "VersionNotFound"
	KindAmbiguousTarget   = "AmbiguousTarget"
	KindSyncFailed        = "SyncFailed"
	KindConcurrentUpdate  = "ConcurrentUpdate"
	KindCanceled          = "Canceled"
	KindNotFound          = "NotFound"
	KindInvalid           = "ValidationError"
	KindInternal          = "InternalError"
)

// ErrorKind names the most specific known cause of err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, remote.ErrRemoteUnavailable):
		return KindRemoteUnavailable
	case errors.Is(err, remote.ErrInvalidManifest):
		return KindInvalidManifest
	case errors.Is(err, ingester.ErrIntegrity):
		return KindIntegrity
	case errors.Is(err, history.ErrVersionNotFound):
		return KindVersionNotFound
	case errors.Is(err, publisher.ErrAmbiguousTarget), errors.Is(err, publisher.ErrNoTarget):
		return KindAmbiguousTarget
	case errors.Is(err, context.Canceled), errors.Is(err, tasking.ErrRunnerStopped):
		return KindCanceled
	case errors.Is(err, synchronizer.ErrSyncFailed):
		return KindSyncFailed
	case errors.Is(err, history.ErrConcurrentUpdate):
		return KindConcurrentUpdate
	case isNotFound(err):
		return KindNotFound
	case isInvalid(err):
		return KindInvalid
	default:
		return KindInternal
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, meta.ErrRepositoryNotFound) ||
		errors.Is(err, meta.ErrRemoteNotFound) ||
		errors.Is(err, meta.ErrVersionNotFound) ||
		errors.Is(err, meta.ErrContentNotFound) ||
		errors.Is(err, meta.ErrPublicationNotFound) ||
		errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, tasking.ErrTaskNotFound)
}

func isInvalid(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, meta.ErrDuplicate) ||
		errors.Is(err, core.ErrInvalidPath) ||
		errors.Is(err, core.ErrDuplicatePath) ||
		errors.Is(err, remote.ErrUnsupportedURL) ||
		errors.Is(err, publisher.ErrAmbiguousTarget) ||
		errors.Is(err, publisher.ErrNoTarget) ||
		errors.Is(err, treebuilder.ErrPathConflict) ||
		errors.Is(err, ingester.ErrIntegrity)
}

// statusOf maps an error returned by a synchronous handler.
func statusOf(err error) int {
	switch {
	case isInvalid(err):
		return http.StatusBadRequest
	case isNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, tasking.ErrTaskFinished), errors.Is(err, history.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, tasking.ErrRunnerStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
