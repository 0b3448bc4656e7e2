package addon

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Code sections, in load order.
const (
	SectionLib     = "lib"
	SectionService = "service"
	SectionModel   = "model"
	SectionHandler = "handler"
	SectionScript  = "script"
)

// Sections lists every code section in load order.
var Sections = []string{SectionLib, SectionService, SectionModel, SectionHandler, SectionScript}

// CodeExt is the file extension of expanded code sections.
const CodeExt = ".lua"

// Package is the document inside a .hydro file.
type Package struct {
	ID          string   `yaml:"id" json:"id" validate:"required,addonid"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Version     string   `yaml:"version,omitempty" json:"version,omitempty"`
	OS          []string `yaml:"os,omitempty" json:"os,omitempty" validate:"dive,required"`

	// Locale maps a language tag to its message table.
	Locale map[string]map[string]string `yaml:"locale,omitempty" json:"locale,omitempty"`

	// Template maps a template name to its text.
	Template map[string]string `yaml:"template,omitempty" json:"template,omitempty"`

	// Setting is the raw text of setting.yaml, written out unchanged.
	Setting string `yaml:"setting,omitempty" json:"setting,omitempty"`

	// File and Public map a relative path to base64 content; nil is a directory.
	File   map[string]*string `yaml:"file,omitempty" json:"file,omitempty"`
	Public map[string]*string `yaml:"public,omitempty" json:"public,omitempty"`

	Lib     string `yaml:"lib,omitempty" json:"lib,omitempty"`
	Service string `yaml:"service,omitempty" json:"service,omitempty"`
	Model   string `yaml:"model,omitempty" json:"model,omitempty"`
	Handler string `yaml:"handler,omitempty" json:"handler,omitempty"`
	Script  string `yaml:"script,omitempty" json:"script,omitempty"`
}

// Section returns the code of the named section.
func (p *Package) Section(name string) string {
	switch name {
	case SectionLib:
		return p.Lib
	case SectionService:
		return p.Service
	case SectionModel:
		return p.Model
	case SectionHandler:
		return p.Handler
	case SectionScript:
		return p.Script
	}
	return ""
}

// SetSection stores code under the named section.
func (p *Package) SetSection(name, code string) error {
	switch name {
	case SectionLib:
		p.Lib = code
	case SectionService:
		p.Service = code
	case SectionModel:
		p.Model = code
	case SectionHandler:
		p.Handler = code
	case SectionScript:
		p.Script = code
	default:
		return fmt.Errorf("addon: unknown section %q", name)
	}
	return nil
}

// Supports reports whether the package may be installed on platform.
// An empty allow-list means every platform.
func (p *Package) Supports(platform string) bool {
	if len(p.OS) == 0 {
		return true
	}
	for _, allowed := range p.OS {
		if normalizePlatform(allowed) == normalizePlatform(platform) {
			return true
		}
	}
	return false
}

// normalizePlatform maps the names packages commonly use to GOOS values.
func normalizePlatform(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "win32", "win":
		return "windows"
	case "macos", "osx":
		return "darwin"
	}
	return s
}

// Validate checks the document's structure.
func (p *Package) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

// Descriptor is hydro.json: the identity of an expanded package.
type Descriptor struct {
	Size        int64  `json:"size"`
	Version     string `json:"version"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Sentinel errors.
var (
	ErrCorrupt       = errors.New("addon: corrupt package")
	ErrUnsupportedOS = errors.New("addon: package does not support this platform")
	ErrUnsafePath    = errors.New("addon: entry escapes package directory")
)

var validate *validator.Validate

var addonIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

func init() {
	validate = validator.New()

	// Ids become directory names under the scratch root.
	_ = validate.RegisterValidation("addonid", func(fl validator.FieldLevel) bool {
		return addonIDPattern.MatchString(fl.Field().String())
	})
}
