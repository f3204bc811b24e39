// Package scenario feeds survey data into simulations of a tax-benefit
// system and computes aggregates over their results.
//
// A scenario runs a current system and its reference side by side, so that
// every aggregate can be compared before and after a reform. Input data is
// either one flat person table per period, read from a survey, or one
// table per entity.
package scenario

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/survey-manager/internal/frame"
	"github.com/JonMunkholm/survey-manager/internal/logging"
	"github.com/JonMunkholm/survey-manager/internal/period"
	"github.com/JonMunkholm/survey-manager/internal/simulation"
	"github.com/JonMunkholm/survey-manager/internal/survey"
	"github.com/JonMunkholm/survey-manager/internal/tbs"
)

var (
	// ErrDataConsistency is returned when identifiers and roles of the
	// input data do not describe a valid membership.
	ErrDataConsistency = errors.New("inconsistent input data")

	// ErrSizeMismatch is returned when an array does not have one value per
	// entity member.
	ErrSizeMismatch = simulation.ErrSizeMismatch

	// ErrEntityMismatch is returned when variables combined in one
	// computation belong to different entities.
	ErrEntityMismatch = errors.New("entity mismatch")

	// ErrNoInput is returned when a simulation is requested before any
	// input data was registered.
	ErrNoInput = errors.New("no input data")

	// ErrMissingWeight is returned when an entity has no weight variable.
	ErrMissingWeight = errors.New("missing weight variable")
)

// TableReader reads survey tables. *survey.Survey implements it.
type TableReader interface {
	GetValues(ctx context.Context, table string, variables []string, opts survey.ValuesOptions) (*frame.Frame, error)
}

// memoryTables serves frames held in memory as tables.
type memoryTables map[string]*frame.Frame

func (m memoryTables) GetValues(_ context.Context, table string, variables []string, _ survey.ValuesOptions) (*frame.Frame, error) {
	fr, ok := m[table]
	if !ok {
		return nil, errors.Newf("no table %s", table)
	}
	if len(variables) == 0 {
		return fr, nil
	}
	return fr.Select(variables...)
}

// Scenario runs a tax-benefit system and its reference on survey data.
type Scenario struct {
	cfg       Config
	system    *tbs.System
	reference *tbs.System

	tables        TableReader
	inputTables   map[period.Period]string
	frameByEntity map[string]*frame.Frame

	// CustomInput, when set, transforms every input table after it is read.
	CustomInput func(ctx context.Context, fr *frame.Frame) (*frame.Frame, error)

	current, previous *simulation.Simulation
	initialWeights    map[string][]float64
}

// Option configures a scenario.
type Option func(*Scenario)

// WithReference sets the reference system. By default it is the system
// the current one is a reform of, followed to its root, or the current
// system itself.
func WithReference(sys *tbs.System) Option {
	return func(s *Scenario) { s.reference = sys }
}

// New returns a scenario of system configured by cfg.
func New(system *tbs.System, cfg Config, opts ...Option) (*Scenario, error) {
	if system == nil {
		return nil, errors.New("a scenario needs a tax-benefit system")
	}
	if err := cfg.validate(system); err != nil {
		return nil, err
	}
	s := &Scenario{
		cfg:            cfg,
		system:         system,
		reference:      system.Root(),
		initialWeights: make(map[string][]float64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the scenario configuration.
func (s *Scenario) Config() Config { return s.cfg }

// System returns the current or reference system.
func (s *Scenario) System(reference bool) *tbs.System {
	if reference {
		return s.reference
	}
	return s.system
}

// InitFromFrame uses fr, a flat person table, as input for the scenario
// year.
func (s *Scenario) InitFromFrame(fr *frame.Frame) {
	s.tables = memoryTables{"input": fr}
	s.inputTables = map[period.Period]string{s.cfg.Period(): "input"}
	s.frameByEntity = nil
	s.reset()
}

// InitFromTables reads the input of each period from a survey table. With
// no tables given, the configured InputTableByPeriod is used.
func (s *Scenario) InitFromTables(tables TableReader, tableByPeriod map[string]string) error {
	if tableByPeriod == nil {
		tableByPeriod = s.cfg.InputTableByPeriod
	}
	if len(tableByPeriod) == 0 {
		return errors.Wrap(ErrNoInput, "no input table by period")
	}
	parsed := make(map[period.Period]string, len(tableByPeriod))
	for p, table := range tableByPeriod {
		pp, err := period.Parse(p)
		if err != nil {
			return err
		}
		parsed[pp] = table
	}
	s.tables = tables
	s.inputTables = parsed
	s.frameByEntity = nil
	s.reset()
	return nil
}

// InitFromSurvey reads the input tables from the configured survey of
// coll.
func (s *Scenario) InitFromSurvey(coll *survey.Collection) error {
	name := s.cfg.SurveyName()
	if name == "" {
		return errors.Wrap(ErrNoInput, "no survey configured")
	}
	sv, err := coll.Survey(name)
	if err != nil {
		return err
	}
	return s.InitFromTables(sv, nil)
}

// InitFromFrameByEntity uses one table per entity, keyed by entity key, as
// input for the scenario year.
func (s *Scenario) InitFromFrameByEntity(frames map[string]*frame.Frame) {
	s.frameByEntity = frames
	s.tables = nil
	s.inputTables = nil
	s.reset()
}

func (s *Scenario) reset() {
	s.current, s.previous = nil, nil
	s.initialWeights = make(map[string][]float64)
}

// NewSimulation builds a simulation of the current or reference system
// from the registered input and keeps it as the scenario's simulation.
func (s *Scenario) NewSimulation(ctx context.Context, reference bool) (*simulation.Simulation, error) {
	sys := s.System(reference).Clone()
	sim := simulation.New(sys, s.cfg.Period())
	logger := logging.WithFields(ctx, "system", sys.Name, "reference", reference)

	switch {
	case s.inputTables != nil:
		periods := make([]period.Period, 0, len(s.inputTables))
		for p := range s.inputTables {
			periods = append(periods, p)
		}
		sort.Slice(periods, func(i, j int) bool { return periods[i].String() < periods[j].String() })

		for _, p := range periods {
			table := s.inputTables[p]
			logger.Info("initialising simulation from table", "period", p.String(), "table", table)
			fr, err := s.tables.GetValues(ctx, table, nil, survey.DefaultValuesOptions)
			if err != nil {
				return nil, errors.Wrapf(err, "load input table %s", table)
			}
			if s.CustomInput != nil {
				if fr, err = s.CustomInput(ctx, fr); err != nil {
					return nil, errors.Wrapf(err, "custom input for %s", table)
				}
			}
			for _, ip := range p.InputPeriods() {
				if err := InitSimulationWithFrame(ctx, sim, fr, ip, s.cfg.UsedAsInput); err != nil {
					return nil, errors.Wrapf(err, "initialise %s", ip)
				}
			}
		}

	case s.frameByEntity != nil:
		logger.Info("initialising simulation from tables by entity")
		if err := InitSimulationWithFrameByEntity(ctx, sim, s.frameByEntity, s.cfg.Period(), s.cfg.UsedAsInput); err != nil {
			return nil, err
		}

	default:
		return nil, ErrNoInput
	}

	if err := s.neutralize(ctx, sim); err != nil {
		return nil, err
	}
	if reference {
		s.previous = sim
	} else {
		s.current = sim
	}
	return sim, nil
}

// Simulation returns the current or reference simulation, building it on
// first use.
func (s *Scenario) Simulation(ctx context.Context, reference bool) (*simulation.Simulation, error) {
	if reference && s.previous != nil {
		return s.previous, nil
	}
	if !reference && s.current != nil {
		return s.current, nil
	}
	return s.NewSimulation(ctx, reference)
}

// neutralize neutralizes the input variables the data never provided,
// except the non-neutralizable ones, those used as input and the weights.
func (s *Scenario) neutralize(ctx context.Context, sim *simulation.Simulation) error {
	sys := sim.System()
	provided := set(sim.HolderNames())
	keep := set(s.cfg.NonNeutralizable)
	for _, n := range s.cfg.UsedAsInput {
		keep[n] = true
	}
	for _, w := range s.cfg.WeightByEntity {
		keep[w] = true
	}

	var neutralized []string
	for _, name := range sys.VariableNames() {
		v, _ := sys.Variable(name)
		if v.Class != tbs.Input || provided[name] || keep[name] {
			continue
		}
		if err := sys.Neutralize(name); err != nil {
			return err
		}
		neutralized = append(neutralized, name)
	}
	if len(neutralized) > 0 {
		logging.FromContext(ctx).Info("neutralized input variables absent from the data", "variables", neutralized)
	}
	return nil
}

// weightVariable returns the weight variable of an entity.
func (s *Scenario) weightVariable(entity string) (string, error) {
	w, ok := s.cfg.WeightByEntity[entity]
	if !ok || w == "" {
		return "", errors.Wrapf(ErrMissingWeight, "entity %s", entity)
	}
	return w, nil
}
