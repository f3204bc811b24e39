package survey

import (
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/survey-manager/internal/config"
	"github.com/JonMunkholm/survey-manager/internal/source"
	"github.com/JonMunkholm/survey-manager/internal/store"
)

// Collection is a named, ordered set of surveys.
type Collection struct {
	Name    string    `yaml:"name" json:"name"`
	Label   string    `yaml:"label,omitempty" json:"label,omitempty"`
	Surveys []*Survey `yaml:"surveys" json:"surveys"`

	path      string
	outputDir string
	store     store.Options
}

// Option configures a collection.
type Option func(*Collection)

// WithPath sets the YAML file the collection is dumped to.
func WithPath(path string) Option {
	return func(c *Collection) { c.path = path }
}

// WithOutputDir sets the directory receiving the SQLite stores of surveys
// that have no store path yet.
func WithOutputDir(dir string) Option {
	return func(c *Collection) { c.outputDir = dir }
}

// WithStore sets the store backend used by the surveys.
func WithStore(opts store.Options) Option {
	return func(c *Collection) { c.store = opts }
}

// NewCollection returns an empty collection.
func NewCollection(name, label string, opts ...Option) *Collection {
	c := &Collection{Name: name, Label: label}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadCollection reads a collection file.
func LoadCollection(path string, opts ...Option) (*Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read collection %s", path)
	}

	c := &Collection{path: path}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(err, "decode collection %s", path)
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, s := range c.Surveys {
		s.collection = c
		if s.Tables == nil {
			s.Tables = make(map[string]*Table)
		}
		if s.Informations == nil {
			s.Informations = make(map[string]any)
		}
	}
	return c, nil
}

// Open loads the collection registered as name in config.toml, taking the
// output directory from its [data] section.
func Open(files *config.Files, name string, opts ...Option) (*Collection, error) {
	path, err := files.CollectionPath(name)
	if err != nil {
		return nil, err
	}
	all := append([]Option{WithOutputDir(files.Data.OutputDirectory)}, opts...)
	return LoadCollection(path, all...)
}

// Path returns the file the collection is dumped to.
func (c *Collection) Path() string { return c.path }

// Survey returns the survey of the given name.
func (c *Collection) Survey(name string) (*Survey, error) {
	for _, s := range c.Surveys {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, errors.WithDetailf(
		errors.Wrapf(ErrSurveyNotFound, "%q in collection %s", name, c.Name),
		"available surveys: %s", strings.Join(c.SurveyNames(), ", "))
}

// SurveyNames returns the survey names in collection order.
func (c *Collection) SurveyNames() []string {
	names := make([]string, len(c.Surveys))
	for i, s := range c.Surveys {
		names[i] = s.Name
	}
	return names
}

// AddSurvey attaches s to the collection, replacing a survey of the same
// name.
func (c *Collection) AddSurvey(s *Survey) {
	s.collection = c
	for i, existing := range c.Surveys {
		if existing.Name == s.Name {
			c.Surveys[i] = s
			return
		}
	}
	c.Surveys = append(c.Surveys, s)
}

// Dump writes the collection to its file.
func (c *Collection) Dump() error {
	if c.path == "" {
		return errors.Newf("collection %s has no file", c.Name)
	}
	return c.DumpTo(c.path)
}

// DumpTo writes the collection as YAML to path and makes path the
// collection's file.
func (c *Collection) DumpTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrapf(err, "encode collection %s", c.Name)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write collection %s", path)
	}
	c.path = path
	slog.Debug("collection dumped", "collection", c.Name, "path", path)
	return nil
}

// ToJSON returns the JSON description of the collection.
func (c *Collection) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Build creates a collection from raw data directories: every readable
// file found (recursively) in the directory of a survey is listed in that
// survey's "<format>_files" information.
func Build(ctx context.Context, name string, rawDirs map[string]string, opts ...Option) (*Collection, error) {
	c := NewCollection(name, name, opts...)

	surveyNames := make([]string, 0, len(rawDirs))
	for n := range rawDirs {
		surveyNames = append(surveyNames, n)
	}
	sort.Strings(surveyNames)

	for _, surveyName := range surveyNames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := rawDirs[surveyName]
		filesByFormat := make(map[source.Format][]string)
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			format, ferr := source.FormatFromExtension(path)
			if ferr != nil {
				return nil
			}
			filesByFormat[format] = append(filesByFormat[format], path)
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "scan raw data of %s", surveyName)
		}

		s, err := New(surveyName, surveyName, nil)
		if err != nil {
			return nil, err
		}
		for format, files := range filesByFormat {
			sort.Strings(files)
			s.SetSourceFiles(format, files)
		}
		if len(filesByFormat) == 0 {
			slog.Warn("no source files found", "survey", surveyName, "directory", dir)
		}
		c.AddSurvey(s)
	}
	return c, nil
}
