package addon

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v3"

	hkerrors "github.com/randalmurphal/hydrokit/pkg/hydrokit/errors"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/observability"
)

// DefaultExtension marks package files.
const DefaultExtension = ".hydro"

// Files written into each expanded package directory.
const (
	DescriptorFile = "hydro.json"
	LocaleFile     = "locale.json"
	TemplateFile   = "template.json"
	SettingFile    = "setting.yaml"
	FileDir        = "file"
	PublicDir      = "public"
)

// Loader expands package files into a scratch directory at bootstrap.
type Loader struct {
	// Roots are tried in order; the first existing, non-empty one is used.
	Roots []string

	// ScratchDir receives one directory per package id and manifest.json.
	ScratchDir string

	// Extension selects package files. Defaults to DefaultExtension.
	Extension string

	// Platform is compared with each package's os allow-list.
	// Defaults to runtime.GOOS.
	Platform string

	Logger  *slog.Logger
	Metrics observability.MetricsRecorder
	Spans   observability.SpanManager
}

func (l *Loader) defaults() {
	if l.Extension == "" {
		l.Extension = DefaultExtension
	}
	if l.Platform == "" {
		l.Platform = runtime.GOOS
	}
	if l.Metrics == nil {
		l.Metrics = observability.NoopMetrics{}
	}
	if l.Spans == nil {
		l.Spans = observability.NoopSpanManager{}
	}
}

// Expand scans the first usable root and expands every package file in name
// order, one at a time. A package that cannot be expanded is logged, recorded
// in the manifest's skip list and left out; the scan continues. The returned
// manifest is also written to <scratch>/manifest.json.
func (l *Loader) Expand(ctx context.Context) (*Manifest, error) {
	l.defaults()
	if l.ScratchDir == "" {
		return nil, fmt.Errorf("addon: scratch directory not set")
	}
	if err := os.MkdirAll(l.ScratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("addon: create scratch dir: %w", err)
	}

	root := l.pickRoot()
	ctx, span := l.Spans.StartExpandSpan(ctx, root)

	manifest := &Manifest{Root: root, GeneratedAt: time.Now().UTC(), Addons: []Entry{}}
	files, err := l.packageFiles(root)
	if err != nil {
		l.Spans.EndSpanWithError(span, err)
		return nil, err
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			l.Spans.EndSpanWithError(span, err)
			return nil, err
		}

		entry, err := l.expandFile(ctx, file)
		if err != nil {
			observability.LogPackageSkipped(l.Logger, file, err.Error())
			l.Metrics.RecordPackage(ctx, filepath.Base(file), 0, err)
			manifest.Skipped = append(manifest.Skipped, Skip{File: filepath.Base(file), Reason: err.Error()})
			continue
		}
		observability.LogPackageExpanded(l.Logger, entry.ID, entry.Dir, entry.Size)
		l.Metrics.RecordPackage(ctx, entry.ID, entry.Size, nil)
		manifest.Addons = append(manifest.Addons, *entry)
	}

	err = writeManifest(l.ScratchDir, manifest)
	l.Spans.EndSpanWithError(span, err)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

// pickRoot returns the first existing, non-empty root, or "".
func (l *Loader) pickRoot() string {
	for _, root := range l.Roots {
		entries, err := os.ReadDir(root)
		if err == nil && len(entries) > 0 {
			return root
		}
	}
	return ""
}

func (l *Loader) packageFiles(root string) ([]string, error) {
	if root == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("addon: read root %s: %w", root, err)
	}

	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), l.Extension) {
			files = append(files, filepath.Join(root, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// expandFile decodes one package and writes it to <scratch>/<id>.
func (l *Loader) expandFile(_ context.Context, file string) (*Entry, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, hkerrors.Skipped(err, "read package")
	}

	pkg, err := Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, hkerrors.Skipped(err, "decode package")
	}
	if !pkg.Supports(l.Platform) {
		return nil, hkerrors.Skipped(fmt.Errorf("%w: %s wants %v, host is %s",
			ErrUnsupportedOS, pkg.ID, pkg.OS, l.Platform), "os gate")
	}

	final := filepath.Join(l.ScratchDir, pkg.ID)
	staging := filepath.Join(l.ScratchDir, ".staging-"+pkg.ID+"-"+uuid.NewString())
	entry, err := writeTree(staging, pkg, int64(len(raw)))
	if err != nil {
		os.RemoveAll(staging)
		return nil, hkerrors.Skipped(err, "write package "+pkg.ID)
	}

	if err := os.RemoveAll(final); err != nil {
		os.RemoveAll(staging)
		return nil, hkerrors.Skipped(err, "remove previous "+pkg.ID)
	}
	if err := os.Rename(staging, final); err != nil {
		os.RemoveAll(staging)
		return nil, hkerrors.Skipped(err, "publish "+pkg.ID)
	}
	entry.Dir = final
	return entry, nil
}

// Decode gunzips and parses a package document, then validates it.
func Decode(r io.Reader) (*Package, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %v", ErrCorrupt, err)
	}
	defer zr.Close()

	doc, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %v", ErrCorrupt, err)
	}

	var pkg Package
	if err := yaml.Unmarshal(doc, &pkg); err != nil {
		return nil, fmt.Errorf("%w: yaml: %v", ErrCorrupt, err)
	}
	if err := pkg.Validate(); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// writeTree materialises pkg under dir and returns its manifest entry.
func writeTree(dir string, pkg *Package, size int64) (*Entry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	entry := &Entry{
		Descriptor: Descriptor{
			Size:        size,
			Version:     pkg.Version,
			ID:          pkg.ID,
			Name:        pkg.Name,
			Description: pkg.Description,
		},
		Sections: []string{},
	}

	if len(pkg.Locale) > 0 {
		if err := writeJSON(filepath.Join(dir, LocaleFile), pkg.Locale); err != nil {
			return nil, err
		}
		entry.Locale = true
	}
	if len(pkg.Template) > 0 {
		if err := writeJSON(filepath.Join(dir, TemplateFile), pkg.Template); err != nil {
			return nil, err
		}
		entry.Template = true
	}
	if pkg.Setting != "" {
		if err := os.WriteFile(filepath.Join(dir, SettingFile), []byte(pkg.Setting), 0o644); err != nil {
			return nil, err
		}
		entry.Setting = true
	}

	for _, section := range Sections {
		code := pkg.Section(section)
		if code == "" {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, section+CodeExt), []byte(code), 0o644); err != nil {
			return nil, err
		}
		entry.Sections = append(entry.Sections, section)
	}

	if err := writeAssets(filepath.Join(dir, FileDir), pkg.File); err != nil {
		return nil, err
	}
	if err := writeAssets(filepath.Join(dir, PublicDir), pkg.Public); err != nil {
		return nil, err
	}

	if err := writeJSON(filepath.Join(dir, DescriptorFile), entry.Descriptor); err != nil {
		return nil, err
	}
	return entry, nil
}

// writeAssets writes base64 entries as files (mode 0755) and nil entries as
// directories. Paths are processed in sorted order.
func writeAssets(base string, assets map[string]*string) error {
	if len(assets) == 0 {
		return nil
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return err
	}

	paths := make([]string, 0, len(assets))
	for p := range assets {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, rel := range paths {
		target, err := safeJoin(base, rel)
		if err != nil {
			return err
		}

		content := assets[rel]
		if content == nil {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		data, err := base64.StdEncoding.DecodeString(*content)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorrupt, rel, err)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
