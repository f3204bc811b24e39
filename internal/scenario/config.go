package scenario

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/survey-manager/internal/period"
	"github.com/JonMunkholm/survey-manager/internal/tbs"
)

// Config is the per-scenario configuration. It is fixed when the scenario
// is built.
type Config struct {
	// Year is the simulation period.
	Year int `yaml:"year"`

	// WeightByEntity names the weight variable of each entity.
	WeightByEntity map[string]string `yaml:"weight_by_entity"`

	// FilterByEntity names the variable aggregates of an entity are
	// filtered with by default.
	FilterByEntity map[string]string `yaml:"filter_by_entity,omitempty"`

	// UsedAsInput lists the derived variables survey data may override.
	UsedAsInput []string `yaml:"used_as_input,omitempty"`

	// NonNeutralizable lists input variables kept even when the data does
	// not provide them.
	NonNeutralizable []string `yaml:"non_neutralizable,omitempty"`

	// InputTableByPeriod maps a period (yyyy, yyyy-mm or yyyy-Qq) to the
	// survey table holding its input data.
	InputTableByPeriod map[string]string `yaml:"input_table_by_period,omitempty"`

	// Collection and SurveyPrefix locate the input survey, named
	// "<prefix>_<year>" unless Survey is set.
	Collection   string `yaml:"collection,omitempty"`
	SurveyPrefix string `yaml:"survey_prefix,omitempty"`
	Survey       string `yaml:"survey,omitempty"`
}

// LoadConfig reads a scenario configuration from a YAML file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read scenario config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "decode scenario config %s", path)
	}
	return cfg, nil
}

// SurveyName returns the name of the input survey.
func (c Config) SurveyName() string {
	if c.Survey != "" {
		return c.Survey
	}
	if c.SurveyPrefix == "" {
		return ""
	}
	return c.SurveyPrefix + "_" + period.OfYear(c.Year).String()
}

// Period returns the simulation period.
func (c Config) Period() period.Period { return period.OfYear(c.Year) }

// validate checks the configuration against the system.
func (c Config) validate(sys *tbs.System) error {
	var errs []string
	if c.Year < 1900 || c.Year > 2099 {
		errs = append(errs, fmt.Sprintf("year (%d) must be 1900-2099", c.Year))
	}
	check := func(kind string, byEntity map[string]string) {
		keys := make([]string, 0, len(byEntity))
		for k := range byEntity {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, entity := range keys {
			name := byEntity[entity]
			v, ok := sys.Variable(name)
			switch {
			case !ok:
				errs = append(errs, fmt.Sprintf("%s variable %q is not a variable of %s", kind, name, sys.Name))
			case v.Entity != entity:
				errs = append(errs, fmt.Sprintf("%s variable %q does not belong to entity %s", kind, name, entity))
			}
		}
	}
	check("weight", c.WeightByEntity)
	check("filtering", c.FilterByEntity)
	for p := range c.InputTableByPeriod {
		if _, err := period.Parse(p); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.Newf("invalid scenario configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func set(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}
