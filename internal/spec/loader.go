// Package spec loads declarative plan specifications from YAML or JSON files.
//
// A plan file looks like:
//
//	title: User accounts
//	max_retries: 2
//	phases:
//	  - name: backend
//	    tasks:
//	      - id: schema
//	        role: database
//	        gates: [exit_code_zero]
//	        params: {command: "make migrate"}
//	      - id: api
//	        role: backend
//	        depends_on: [schema]
//	        gates: ["coverage_at_least(90)"]
//	        timeout: 10m
//
// The loader only checks the file's shape; dependency and rule checks are
// the graph builder's job.
package spec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/mrz1836/conductor/internal/domain"
	cerrors "github.com/mrz1836/conductor/internal/errors"
)

// Format is a plan file encoding.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unsupported file extension %q (want .yaml, .yml or .json)", cerrors.ErrSpecParseError, filepath.Ext(path))
	}
}

// Loader reads plan files through an afero.Fs, so tests can use an
// in-memory filesystem.
type Loader struct {
	fs       afero.Fs
	validate *validator.Validate
}

// NewLoader creates a loader on the given filesystem.
func NewLoader(fs afero.Fs) *Loader {
	return &Loader{
		fs:       fs,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// NewOsLoader creates a loader on the operating system filesystem.
func NewOsLoader() *Loader {
	return NewLoader(afero.NewOsFs())
}

// Load reads, decodes and validates the plan file at path.
func (l *Loader) Load(path string) (domain.PlanSpec, error) {
	format, err := FormatFor(path)
	if err != nil {
		return domain.PlanSpec{}, err
	}

	f, err := l.fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.PlanSpec{}, fmt.Errorf("%w: %s", cerrors.ErrSpecFileMissing, path)
		}
		return domain.PlanSpec{}, fmt.Errorf("%w: open %s: %w", cerrors.ErrSpecLoadFailed, path, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return domain.PlanSpec{}, fmt.Errorf("%w: read %s: %w", cerrors.ErrSpecLoadFailed, path, err)
	}

	ps, err := l.Parse(data, format)
	if err != nil {
		return domain.PlanSpec{}, fmt.Errorf("%s: %w", path, err)
	}
	return ps, nil
}

// Parse decodes and validates a plan document. Unknown fields are rejected.
func (l *Loader) Parse(data []byte, format Format) (domain.PlanSpec, error) {
	var pf planFile
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&pf); err != nil {
			if errors.Is(err, io.EOF) {
				return domain.PlanSpec{}, fmt.Errorf("%w: empty document", cerrors.ErrSpecParseError)
			}
			return domain.PlanSpec{}, fmt.Errorf("%w: %w", cerrors.ErrSpecParseError, err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&pf); err != nil {
			return domain.PlanSpec{}, fmt.Errorf("%w: %w", cerrors.ErrSpecParseError, err)
		}
	default:
		return domain.PlanSpec{}, fmt.Errorf("%w: unsupported format %q", cerrors.ErrSpecParseError, format)
	}

	ps, err := pf.toDomain()
	if err != nil {
		return domain.PlanSpec{}, err
	}
	if err := l.validate.Struct(ps); err != nil {
		return domain.PlanSpec{}, validationError(err)
	}
	return ps, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", cerrors.ErrSpecInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msg := fmt.Sprintf("%s: failed '%s'", e.Namespace(), e.Tag())
		if e.Param() != "" {
			msg += "=" + e.Param()
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("%w: %s", cerrors.ErrSpecInvalid, strings.Join(msgs, "; "))
}

// planFile mirrors domain.PlanSpec with file tags and string durations.
type planFile struct {
	Title      string      `yaml:"title" json:"title"`
	MaxRetries *int        `yaml:"max_retries" json:"max_retries"`
	Phases     []phaseFile `yaml:"phases" json:"phases"`
}

type phaseFile struct {
	Name  string     `yaml:"name" json:"name"`
	Gate  string     `yaml:"gate" json:"gate"`
	Tasks []taskFile `yaml:"tasks" json:"tasks"`
}

type taskFile struct {
	ID         string            `yaml:"id" json:"id"`
	Role       string            `yaml:"role" json:"role"`
	Title      string            `yaml:"title" json:"title"`
	DependsOn  []string          `yaml:"depends_on" json:"depends_on"`
	Gates      []string          `yaml:"gates" json:"gates"`
	Params     map[string]string `yaml:"params" json:"params"`
	Timeout    string            `yaml:"timeout" json:"timeout"`
	MaxRetries *int              `yaml:"max_retries" json:"max_retries"`
	Note       string            `yaml:"note" json:"note"`
}

func (pf planFile) toDomain() (domain.PlanSpec, error) {
	ps := domain.PlanSpec{
		Title:      strings.TrimSpace(pf.Title),
		MaxRetries: pf.MaxRetries,
		Phases:     make([]domain.PhaseSpec, 0, len(pf.Phases)),
	}
	for _, ph := range pf.Phases {
		phase := domain.PhaseSpec{
			Name:  strings.TrimSpace(ph.Name),
			Gate:  ph.Gate,
			Tasks: make([]domain.TaskSpec, 0, len(ph.Tasks)),
		}
		for _, t := range ph.Tasks {
			var timeout time.Duration
			if t.Timeout != "" {
				d, err := time.ParseDuration(t.Timeout)
				if err != nil {
					return domain.PlanSpec{}, fmt.Errorf("%w: task %q: invalid timeout %q", cerrors.ErrSpecInvalid, t.ID, t.Timeout)
				}
				timeout = d
			}
			phase.Tasks = append(phase.Tasks, domain.TaskSpec{
				ID:         strings.TrimSpace(t.ID),
				Role:       strings.ToLower(strings.TrimSpace(t.Role)),
				Title:      t.Title,
				DependsOn:  t.DependsOn,
				Gates:      t.Gates,
				Params:     t.Params,
				Timeout:    timeout,
				MaxRetries: t.MaxRetries,
				Note:       t.Note,
			})
		}
		ps.Phases = append(ps.Phases, phase)
	}
	return ps, nil
}
