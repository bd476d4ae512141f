package executor

import (
	"context"
	"fmt"
	"os"
	"regexp"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	streamyerrors "github.com/zephyr-ci/zephyr/pkg/errors"
)

var commitSHARegex = regexp.MustCompile(`^[0-9a-f]{40}$`)

// CheckoutConfig is the resolved configuration for a checkout-kind step:
// the repository to clone and the ref to leave the working tree on.
type CheckoutConfig struct {
	RepoURL string
	Ref     string
	Depth   int
}

// Checkout clones cfg.RepoURL into workdir and checks out cfg.Ref.
// Grounded on the teacher's repo plugin
// (internal/plugins/repo/repo.go), simplified to a single always-fresh
// clone: a job's workdir is scratch space created fresh per run, not a
// long-lived sync target that needs drift detection.
func Checkout(ctx context.Context, workdir string, cfg CheckoutConfig) error {
	if cfg.RepoURL == "" {
		return streamyerrors.NewExecutionError("checkout", fmt.Errorf("no repository url configured"))
	}

	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return streamyerrors.NewExecutionError("checkout", fmt.Errorf("create workdir: %w", err))
	}

	opts := &git.CloneOptions{URL: cfg.RepoURL}
	if cfg.Depth > 0 {
		opts.Depth = cfg.Depth
	}

	repo, err := git.PlainCloneContext(ctx, workdir, false, opts)
	if err != nil {
		return streamyerrors.NewExecutionError("checkout", fmt.Errorf("clone %s: %w", cfg.RepoURL, err))
	}

	if cfg.Ref == "" {
		return nil
	}

	wt, err := repo.Worktree()
	if err != nil {
		return streamyerrors.NewExecutionError("checkout", fmt.Errorf("open worktree: %w", err))
	}

	checkoutOpts := &git.CheckoutOptions{}
	if commitSHARegex.MatchString(cfg.Ref) {
		checkoutOpts.Hash = plumbing.NewHash(cfg.Ref)
	} else {
		checkoutOpts.Branch = plumbing.NewBranchReferenceName(cfg.Ref)
	}

	if err := wt.Checkout(checkoutOpts); err != nil {
		return streamyerrors.NewExecutionError("checkout", fmt.Errorf("checkout %s: %w", cfg.Ref, err))
	}
	return nil
}
