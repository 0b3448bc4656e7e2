package addon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestFile is written to the scratch root after every scan.
const ManifestFile = "manifest.json"

// Manifest lists the packages a scan expanded. The host loads add-ons from
// it rather than by probing the scratch directory.
type Manifest struct {
	Root        string    `json:"root"`
	GeneratedAt time.Time `json:"generatedAt"`
	Addons      []Entry   `json:"addons"`
	Skipped     []Skip    `json:"skipped,omitempty"`
}

// Entry is one expanded package.
type Entry struct {
	Descriptor

	// Dir is the expanded package directory.
	Dir string `json:"dir"`

	// Sections lists the code sections present, in load order.
	Sections []string `json:"sections"`

	Locale   bool `json:"locale"`
	Template bool `json:"template"`
	Setting  bool `json:"setting"`
}

// HasSection reports whether the entry carries the named code section.
func (e Entry) HasSection(name string) bool {
	for _, s := range e.Sections {
		if s == name {
			return true
		}
	}
	return false
}

// SectionPath returns the path of the named code section file.
func (e Entry) SectionPath(name string) string {
	return filepath.Join(e.Dir, name+CodeExt)
}

// Skip records a package file left out of a scan.
type Skip struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

func writeManifest(scratch string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("addon: encode manifest: %w", err)
	}
	tmp := filepath.Join(scratch, ManifestFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("addon: write manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(scratch, ManifestFile)); err != nil {
		return fmt.Errorf("addon: write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest of the last scan.
func ReadManifest(scratch string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(scratch, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("addon: read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("addon: decode manifest: %w", err)
	}
	return &m, nil
}

// ReadDescriptor loads hydro.json from an expanded package directory.
func ReadDescriptor(dir string) (*Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(dir, DescriptorFile))
	if err != nil {
		return nil, fmt.Errorf("addon: read descriptor: %w", err)
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("addon: decode descriptor: %w", err)
	}
	return &d, nil
}
