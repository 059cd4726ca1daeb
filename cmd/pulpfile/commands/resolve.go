package commands

import (
	"context"
	"errors"
	"fmt"

	"pulpfile/pkg/api"
	"pulpfile/pkg/core"
	"pulpfile/pkg/history"
	"pulpfile/pkg/meta"
	"pulpfile/pkg/types"
)

// resolveRepository accepts a repository id or name.
func resolveRepository(ctx context.Context, ref string) (*core.Repository, error) {
	repo, err := PF.History.GetRepository(ctx, types.RepositoryID(ref))
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, history.ErrRepositoryNotFound) {
		return nil, err
	}
	repos, err := PF.History.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range repos {
		if r.Name == ref {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", history.ErrRepositoryNotFound, ref)
}

// resolveRemote accepts a remote id or name.
func resolveRemote(ctx context.Context, ref string) (*core.Remote, error) {
	row, err := PF.Meta.GetRemote(ctx, ref)
	if err == nil {
		return api.ToRemote(row)
	}
	if !errors.Is(err, meta.ErrRemoteNotFound) {
		return nil, err
	}
	rows, err := PF.Meta.ListRemotes(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].Name == ref {
			return api.ToRemote(&rows[i])
		}
	}
	return nil, fmt.Errorf("%w: %s", meta.ErrRemoteNotFound, ref)
}
