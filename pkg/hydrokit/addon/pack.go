package addon

import (
	"encoding/base64"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v3"
)

// Source layout read by PackDir.
const (
	MetadataFile = "package.yaml"
	LocaleDir    = "locale"
	TemplateDir  = "template"
)

// Pack validates pkg and writes it to w as a gzip-compressed YAML document.
func Pack(w io.Writer, pkg *Package) error {
	if err := pkg.Validate(); err != nil {
		return err
	}

	doc, err := yaml.Marshal(pkg)
	if err != nil {
		return fmt.Errorf("addon: encode package: %w", err)
	}

	zw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("addon: gzip: %w", err)
	}
	if _, err := zw.Write(doc); err != nil {
		zw.Close()
		return fmt.Errorf("addon: gzip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("addon: gzip: %w", err)
	}
	return nil
}

// WriteFile packs pkg into path.
func WriteFile(path string, pkg *Package) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("addon: create %s: %w", path, err)
	}
	if err := Pack(f, pkg); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// PackDir builds a Package from a source directory:
//
//	package.yaml          id, name, description, version, os
//	<section>.lua         code sections
//	setting.yaml          copied verbatim
//	locale/<lang>.yaml    flat key: message maps
//	template/**           template name = slash path
//	file/**, public/**    assets; empty directories are kept
func PackDir(dir string) (*Package, error) {
	meta, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("addon: read %s: %w", MetadataFile, err)
	}
	var pkg Package
	if err := yaml.Unmarshal(meta, &pkg); err != nil {
		return nil, fmt.Errorf("addon: parse %s: %w", MetadataFile, err)
	}

	for _, section := range Sections {
		code, err := os.ReadFile(filepath.Join(dir, section+CodeExt))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := pkg.SetSection(section, string(code)); err != nil {
			return nil, err
		}
	}

	if setting, err := os.ReadFile(filepath.Join(dir, SettingFile)); err == nil {
		pkg.Setting = string(setting)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if pkg.Locale, err = readLocales(filepath.Join(dir, LocaleDir)); err != nil {
		return nil, err
	}
	if pkg.Template, err = readTemplates(filepath.Join(dir, TemplateDir)); err != nil {
		return nil, err
	}
	if pkg.File, err = readAssets(filepath.Join(dir, FileDir)); err != nil {
		return nil, err
	}
	if pkg.Public, err = readAssets(filepath.Join(dir, PublicDir)); err != nil {
		return nil, err
	}

	if err := pkg.Validate(); err != nil {
		return nil, err
	}
	return &pkg, nil
}

func readLocales(dir string) (map[string]map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[string]string)
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var table map[string]string
		if err := yaml.Unmarshal(data, &table); err != nil {
			return nil, fmt.Errorf("addon: parse locale %s: %w", e.Name(), err)
		}
		out[strings.TrimSuffix(e.Name(), ext)] = table
	}
	return out, nil
}

func readTemplates(dir string) (map[string]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	out := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	return out, err
}

func readAssets(dir string) (map[string]*string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	out := make(map[string]*string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			children, err := os.ReadDir(path)
			if err != nil {
				return err
			}
			if len(children) == 0 {
				out[rel] = nil
			}
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		encoded := base64.StdEncoding.EncodeToString(data)
		out[rel] = &encoded
		return nil
	})
	return out, err
}
