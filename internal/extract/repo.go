package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/quarry-ai/quarry/internal/source"
)

// repoExtractor handles KindRepository sources. The locator is either a
// local checkout path or a remote URL cloned shallowly into a temporary
// directory for the duration of the walk.
type repoExtractor struct {
	token    string
	maxBytes int
	logger   *slog.Logger
}

func (r *repoExtractor) extract(ctx context.Context, src source.KnowledgeSource, emit EmitFunc) error {
	repo, cleanup, err := r.open(ctx, src.Locator)
	if err != nil {
		return err
	}
	defer cleanup()

	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("resolving HEAD of %s: %w", src.Locator, err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return fmt.Errorf("loading HEAD commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return fmt.Errorf("loading HEAD tree: %w", err)
	}

	// Walk tracked files only; untracked and ignored files never enter
	// the index.
	return tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		path := f.Name
		if !supportedExtension(path) || !src.Filter.Match(path) {
			return nil
		}
		if f.Size > int64(r.maxBytes) {
			r.logger.Debug("skipping oversized tracked file", "path", path, "size", f.Size)
			return nil
		}

		if binary, err := f.IsBinary(); err != nil || binary {
			if err != nil {
				return emit(Item{Path: path, Err: &Error{Path: path, Cause: err}})
			}
			return nil
		}

		text, err := f.Contents()
		if err != nil {
			return emit(Item{Path: path, Err: &Error{Path: path, Cause: err}})
		}
		if strings.TrimSpace(text) == "" {
			return nil
		}

		return emit(Item{
			Path:        path,
			Text:        text,
			ContentType: contentTypeFor(path),
			Hash:        HashText(text),
			ModTime:     commit.Committer.When,
		})
	})
}

// open returns the repository at locator, cloning remote URLs into a
// temporary directory removed by the returned cleanup func.
func (r *repoExtractor) open(ctx context.Context, locator string) (*git.Repository, func(), error) {
	nop := func() {}

	if !strings.Contains(locator, "://") && !strings.HasPrefix(locator, "git@") {
		repo, err := git.PlainOpen(locator)
		if err != nil {
			return nil, nop, fmt.Errorf("opening repository %s: %w", locator, err)
		}
		return repo, nop, nil
	}

	dir, err := os.MkdirTemp("", "quarry-repo-*")
	if err != nil {
		return nil, nop, fmt.Errorf("creating clone directory: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	opts := &git.CloneOptions{URL: locator, Depth: 1, SingleBranch: true}
	if r.token != "" {
		// Token auth in the GitHub/GitLab HTTPS convention.
		opts.Auth = &http.BasicAuth{Username: "token", Password: r.token}
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		cleanup()
		return nil, nop, fmt.Errorf("cloning %s: %w", locator, err)
	}
	return repo, cleanup, nil
}
