package api

import (
	"fmt"
	"strconv"
	"strings"

	"pulpfile/pkg/types"
)

// RepositoryHref is also the reservation key of the repository.
func RepositoryHref(id types.RepositoryID) string { return "/repositories/" + string(id) + "/" }

func versionHref(id types.RepositoryID, n int64) string {
	return fmt.Sprintf("/repositories/%s/versions/%d/", id, n)
}

// RemoteHref is also the reservation key of the remote.
func RemoteHref(id types.RemoteID) string { return "/remotes/file/" + string(id) + "/" }

func publicationHref(id types.PublicationID) string { return "/publications/file/" + string(id) + "/" }
func contentHref(id types.ContentID) string         { return "/content/file/files/" + string(id) + "/" }
func artifactHref(d types.Digest) string            { return "/artifacts/" + string(d) + "/" }
func taskHref(id string) string                     { return "/tasks/" + id + "/" }

// hrefParts splits "/a/b/c/" into [a b c].
func hrefParts(href string) []string {
	href = strings.Trim(href, "/")
	if href == "" {
		return nil
	}
	return strings.Split(href, "/")
}

// parseID accepts either a bare id or an href under prefix.
func parseID(value, prefix string) (string, error) {
	if !strings.Contains(value, "/") {
		if value == "" {
			return "", fmt.Errorf("%w: empty reference", ErrValidation)
		}
		return value, nil
	}
	want := hrefParts(prefix)
	parts := hrefParts(value)
	if len(parts) != len(want)+1 {
		return "", fmt.Errorf("%w: %q is not a %s href", ErrValidation, value, prefix)
	}
	for i := range want {
		if parts[i] != want[i] {
			return "", fmt.Errorf("%w: %q is not a %s href", ErrValidation, value, prefix)
		}
	}
	return parts[len(parts)-1], nil
}

// parseVersionHref reads "/repositories/{id}/versions/{n}/".
func parseVersionHref(href string) (types.RepositoryID, int64, error) {
	parts := hrefParts(href)
	if len(parts) != 4 || parts[0] != "repositories" || parts[2] != "versions" {
		return "", 0, fmt.Errorf("%w: %q is not a repository version href", ErrValidation, href)
	}
	n, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("%w: bad version number in %q", ErrValidation, href)
	}
	return types.RepositoryID(parts[1]), n, nil
}

// parseArtifact accepts a digest or an artifact href.
func parseArtifact(value string) (types.Digest, error) {
	id, err := parseID(value, "/artifacts/")
	if err != nil {
		return "", err
	}
	d := types.Digest(id)
	if !d.IsValid() {
		return "", fmt.Errorf("%w: %q is not a sha256 digest", ErrValidation, id)
	}
	return d, nil
}
