// Package workspace fetches artifact text by reference, from a local
// directory or a git repository at a ref. It never creates branches.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chainguard-dev/clog"

	"github.com/signalnine/arbiter/internal/artifact"
	"github.com/signalnine/arbiter/internal/config"
)

// Fetcher resolves a source reference into artifacts.
type Fetcher interface {
	Fetch(ctx context.Context, src config.Source) ([]artifact.Artifact, error)
}

// Source dispatches to a directory read or a shallow git clone.
type Source struct {
	// TempDir is where clones are made; os.TempDir() when empty.
	TempDir string
}

func New() *Source { return &Source{} }

func (s *Source) Fetch(ctx context.Context, src config.Source) ([]artifact.Artifact, error) {
	switch {
	case src.Repo != "":
		return s.fetchGit(ctx, src)
	case src.Dir != "":
		return ReadDir(src.Dir, src.Include...)
	default:
		return nil, fmt.Errorf("source has neither dir nor repo")
	}
}

func (s *Source) fetchGit(ctx context.Context, src config.Source) ([]artifact.Artifact, error) {
	if err := checkRef(src.Ref); err != nil {
		return nil, err
	}
	tmp, err := os.MkdirTemp(s.TempDir, "arbiter-src-*")
	if err != nil {
		return nil, fmt.Errorf("creating clone dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	dest := filepath.Join(tmp, "repo")
	if err := Clone(ctx, src.Repo, src.Ref, dest); err != nil {
		return nil, err
	}
	root := dest
	if src.Dir != "" {
		root = filepath.Join(dest, filepath.Clean("/"+src.Dir))
	}
	clog.FromContext(ctx).With("repo", src.Repo).With("ref", src.Ref).Debug("cloned source")
	return ReadDir(root, src.Include...)
}

// Clone makes a shallow clone of repo at ref into dest. An empty ref clones
// the default branch.
func Clone(ctx context.Context, repo, ref, dest string) error {
	if err := checkRef(ref); err != nil {
		return err
	}
	args := []string{"clone", "--depth", "1"}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, "--", repo, dest)
	cmd := exec.CommandContext(ctx, "git", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git clone: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

func checkRef(ref string) error {
	if strings.HasPrefix(ref, "-") || strings.ContainsAny(ref, " \t\n~^:?*[\\") || strings.Contains(ref, "..") {
		return fmt.Errorf("invalid git ref %q", ref)
	}
	return nil
}

// ReadDir loads every regular file under root as an artifact named by its
// slash-separated relative path, sorted by name. Hidden directories such as
// .git are skipped. When include globs are given only matching files are
// returned.
func ReadDir(root string, include ...string) ([]artifact.Artifact, error) {
	var out []artifact.Artifact
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out = append(out, artifact.Artifact{Name: filepath.ToSlash(rel), Content: string(data)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}
	if len(include) > 0 {
		out = artifact.Match(out, include...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
