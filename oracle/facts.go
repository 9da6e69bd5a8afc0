package oracle

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/bartossh/Timesheet/spice"
	"github.com/bartossh/Timesheet/transition"
)

var ErrDuplicatedRate = errors.New("rate for the pair is already registered")

// FactStore holds the rates agreed between contractors and companies.
// Query is a deterministic lookup without side effects.
type FactStore interface {
	Query(contractor, company string) (spice.Melange, bool)
}

// RateEntry is a single row of the rate table as configured.
type RateEntry struct {
	Contractor string `yaml:"contractor"`
	Company    string `yaml:"company"`
	Rate       string `yaml:"rate"`
}

// Config contains the rate table configuration.
// Rates from the file are merged with the inline rates.
type Config struct {
	RatesFile string      `yaml:"rates_file"`
	Rates     []RateEntry `yaml:"rates"`
}

type pair struct {
	contractor, company string
}

// RateTable is a read only FactStore.
type RateTable struct {
	rates map[pair]spice.Melange
}

// NewRateTable creates RateTable from entries.
func NewRateTable(entries []RateEntry) (*RateTable, error) {
	t := &RateTable{rates: make(map[pair]spice.Melange, len(entries))}
	for _, e := range entries {
		rate, err := spice.Parse(e.Rate)
		if err != nil {
			return nil, fmt.Errorf("rate of contractor %s at company %s: %w", e.Contractor, e.Company, err)
		}
		p := pair{e.Contractor, e.Company}
		if _, ok := t.rates[p]; ok {
			return nil, fmt.Errorf("%w: contractor %s at company %s", ErrDuplicatedRate, e.Contractor, e.Company)
		}
		t.rates[p] = rate
	}
	return t, nil
}

// ReadRateTable reads yaml rates file holding a list under the rates key.
func ReadRateTable(path string) (*RateTable, error) {
	entries, err := readEntries(path)
	if err != nil {
		return nil, err
	}
	return NewRateTable(entries)
}

// LoadRateTable builds RateTable from the configuration.
func LoadRateTable(cfg Config) (*RateTable, error) {
	entries := cfg.Rates
	if cfg.RatesFile != "" {
		fromFile, err := readEntries(cfg.RatesFile)
		if err != nil {
			return nil, err
		}
		entries = append(fromFile, entries...)
	}
	return NewRateTable(entries)
}

func readEntries(path string) ([]RateEntry, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file struct {
		Rates []RateEntry `yaml:"rates"`
	}
	if err := yaml.Unmarshal(buf, &file); err != nil {
		return nil, fmt.Errorf("in file %q: %w", path, err)
	}
	return file.Rates, nil
}

// Query returns the rate of the contractor at the company.
func (t *RateTable) Query(contractor, company string) (spice.Melange, bool) {
	rate, ok := t.rates[pair{contractor, company}]
	return rate, ok
}

// Fact queries the store and returns the answer as the rate fact.
func Fact(store FactStore, contractor, company string) transition.RateFact {
	rate, ok := store.Query(contractor, company)
	return transition.RateFact{Contractor: contractor, Company: company, Rate: rate, Known: ok}
}
