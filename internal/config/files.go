package config

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
)

// File names inside the config directory.
const (
	ConfigFileName  = "config.toml"
	RawDataFileName = "raw_data.toml"
)

var (
	// ErrConfigFileNotFound is returned when config.toml is absent.
	ErrConfigFileNotFound = errors.New("config file not found")

	// ErrUnknownCollection is returned for a collection config.toml does not list.
	ErrUnknownCollection = errors.New("unknown collection")
)

// Files is the content of config.toml.
//
//	[collections]
//	erfs = "/path/to/erfs.yaml"
//
//	[data]
//	output_directory = "/data/stores"
//	tmp_directory = "/tmp"
type Files struct {
	Collections map[string]string `toml:"collections"`
	Data        DataFiles         `toml:"data"`

	dir string
}

// DataFiles is the [data] section of config.toml.
type DataFiles struct {
	OutputDirectory string `toml:"output_directory"`
	TmpDirectory    string `toml:"tmp_directory"`
}

// RawData is the content of raw_data.toml: for each collection, the raw
// data directory of each survey.
type RawData map[string]map[string]string

// ReadFiles reads dir/config.toml.
func ReadFiles(dir string) (*Files, error) {
	path := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrConfigFileNotFound, "%s", path)
	}

	f := &Files{dir: dir}
	if _, err := toml.DecodeFile(path, f); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	if f.Collections == nil {
		f.Collections = make(map[string]string)
	}
	return f, nil
}

// NewFiles returns an empty configuration bound to dir.
func NewFiles(dir string) *Files {
	return &Files{Collections: make(map[string]string), dir: dir}
}

// Files reads config.toml from the configured directory and applies the
// environment overrides of the data directories.
func (c *Config) Files() (*Files, error) {
	f, err := ReadFiles(c.Data.ConfigDir)
	if err != nil {
		return nil, err
	}
	if c.Data.OutputDir != "" {
		f.Data.OutputDirectory = c.Data.OutputDir
	}
	if c.Data.TmpDir != "" {
		f.Data.TmpDirectory = c.Data.TmpDir
	}
	return f, nil
}

// Dir returns the config directory the files were read from.
func (f *Files) Dir() string { return f.dir }

// CollectionPath returns the collection file registered for name. Relative
// paths are resolved against the config directory.
func (f *Files) CollectionPath(name string) (string, error) {
	path, ok := f.Collections[name]
	if !ok {
		return "", errors.WithDetailf(
			errors.Wrapf(ErrUnknownCollection, "%q", name),
			"known collections: %v", f.CollectionNames())
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.dir, path)
	}
	return path, nil
}

// CollectionNames returns the registered collections, sorted.
func (f *Files) CollectionNames() []string {
	names := make([]string, 0, len(f.Collections))
	for n := range f.Collections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SetCollection registers the file of a collection.
func (f *Files) SetCollection(name, path string) {
	if f.Collections == nil {
		f.Collections = make(map[string]string)
	}
	f.Collections[name] = path
}

// Write saves the configuration to dir/config.toml.
func (f *Files) Write() error {
	return writeTOML(filepath.Join(f.dir, ConfigFileName), f)
}

// ReadRawData reads dir/raw_data.toml.
func ReadRawData(dir string) (RawData, error) {
	path := filepath.Join(dir, RawDataFileName)
	raw := make(RawData)
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		if os.IsNotExist(errors.UnwrapAll(err)) {
			return nil, errors.Wrapf(ErrConfigFileNotFound, "%s", path)
		}
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return raw, nil
}

// WriteRawDataConfig writes dir/raw_data.toml with one section per
// collection mapping each survey to its raw data directory.
func WriteRawDataConfig(dir string, valueByOptionBySection map[string]map[string]string) error {
	if valueByOptionBySection == nil {
		valueByOptionBySection = map[string]map[string]string{}
	}
	return writeTOML(filepath.Join(dir, RawDataFileName), valueByOptionBySection)
}

func writeTOML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create %s", filepath.Dir(path))
	}
	out, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := toml.NewEncoder(out).Encode(v); err != nil {
		out.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	return out.Close()
}
