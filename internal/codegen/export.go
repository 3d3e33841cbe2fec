package codegen

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/user/appforge/internal/types"
)

// Exporter writes artifacts to the destination named by dest.
type Exporter func(ctx context.Context, dest string, artifacts []types.GeneratedArtifact) error

// Exporters routes artifacts to an exporter by destination prefix
// (e.g. "dir:", "stdout:").
type Exporters struct {
	mu        sync.RWMutex
	exporters map[string]Exporter
}

// NewExporters creates an empty registry.
func NewExporters() *Exporters {
	return &Exporters{
		exporters: make(map[string]Exporter),
	}
}

// DefaultExporters registers "dir:" and "stdout:" writing to out.
func DefaultExporters(out io.Writer) *Exporters {
	r := NewExporters()
	r.Register("dir:", DirExporter)
	r.Register("stdout:", WriterExporter(out))
	return r
}

// Register adds an exporter for destinations starting with prefix.
func (r *Exporters) Register(prefix string, exporter Exporter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exporters[prefix] = exporter
}

// Export hands artifacts to the exporter with the longest prefix matching
// dest.
func (r *Exporters) Export(ctx context.Context, dest string, artifacts []types.GeneratedArtifact) error {
	r.mu.RLock()
	var (
		best     string
		exporter Exporter
	)
	for prefix, e := range r.exporters {
		if strings.HasPrefix(dest, prefix) && len(prefix) > len(best) {
			best, exporter = prefix, e
		}
	}
	r.mu.RUnlock()

	if exporter == nil {
		return fmt.Errorf("no exporter for destination %q (known: %s)", dest, strings.Join(r.Prefixes(), ", "))
	}
	return exporter(ctx, strings.TrimPrefix(dest, best), artifacts)
}

// Prefixes lists the registered prefixes, sorted.
func (r *Exporters) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.exporters))
	for prefix := range r.exporters {
		out = append(out, prefix)
	}
	sort.Strings(out)
	return out
}

// DirExporter writes the artifact tree under dir. The tree is staged in a
// sibling directory and swapped in with a rename, so dir holds either the
// previous tree or the complete new one.
func DirExporter(ctx context.Context, dir string, artifacts []types.GeneratedArtifact) error {
	if dir == "" {
		return fmt.Errorf("export directory is required")
	}
	dir = filepath.Clean(dir)
	for _, a := range artifacts {
		if !filepath.IsLocal(filepath.FromSlash(a.Path)) {
			return fmt.Errorf("artifact path %q escapes the export directory", a.Path)
		}
	}

	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create export parent: %w", err)
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+".staging-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(staging, filepath.FromSlash(a.Path))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", a.Path, err)
		}
		if err := os.WriteFile(path, []byte(a.Content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", a.Path, err)
		}
	}
	if err := os.Chmod(staging, 0o755); err != nil {
		return fmt.Errorf("chmod staging dir: %w", err)
	}

	var previous string
	if _, err := os.Stat(dir); err == nil {
		previous = staging + ".previous"
		if err := os.Rename(dir, previous); err != nil {
			return fmt.Errorf("move previous tree aside: %w", err)
		}
	}
	if err := os.Rename(staging, dir); err != nil {
		if previous != "" {
			os.Rename(previous, dir)
		}
		return fmt.Errorf("swap in export tree: %w", err)
	}
	if previous != "" {
		os.RemoveAll(previous)
	}
	return nil
}

// WriterExporter prints each artifact to w under a path banner.
func WriterExporter(w io.Writer) Exporter {
	return func(ctx context.Context, _ string, artifacts []types.GeneratedArtifact) error {
		for _, a := range artifacts {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "==> %s (%s, %d bytes)\n%s\n", a.Path, a.Type, a.SizeBytes, a.Content); err != nil {
				return fmt.Errorf("write %s: %w", a.Path, err)
			}
		}
		return nil
	}
}
