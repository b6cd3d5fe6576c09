package config

import (
	"fmt"

	"sgcars-go/internal/transform"
	"sgcars-go/internal/updater"
)

const (
	carsURL = "https://datamall.lta.gov.sg/content/dam/datamall/datasets/Facts_Figures/Vehicle%20Registration/Monthly%20New%20Registration%20of%20Cars%20by%20Make.zip"
	coeURL  = "https://datamall.lta.gov.sg/content/dam/datamall/datasets/Facts_Figures/Vehicle%20Registration/COE%20Bidding%20Results.zip"
)

// DatasetConfig describes one published dataset.
type DatasetConfig struct {
	Name      string   `toml:"name"`
	URL       string   `toml:"url"`
	File      string   `toml:"file,omitempty"`
	Table     string   `toml:"table"`
	KeyFields []string `toml:"key_fields"`

	// Columns maps CSV header names to destination field names.
	Columns map[string]string `toml:"columns,omitempty"`
	// Transforms maps destination field names to step specs, applied in order.
	Transforms map[string][]string `toml:"transforms,omitempty"`
}

// BuiltinDatasets returns the LTA datasets shipped in the default config.
func BuiltinDatasets() []DatasetConfig {
	return []DatasetConfig{
		{
			Name:      "cars",
			URL:       carsURL,
			File:      "M03-Car_Regn_by_make.csv",
			Table:     "cars",
			KeyFields: []string{"month", "make", "fuel_type", "vehicle_type"},
			Transforms: map[string][]string{
				"make":         {"strip:.", "upper"},
				"vehicle_type": {"join:/: / "},
				"number":       {"number"},
			},
		},
		{
			Name:      "coe",
			URL:       coeURL,
			File:      "M11-coe_results.csv",
			Table:     "coe",
			KeyFields: []string{"month", "bidding_no", "vehicle_class"},
			Transforms: map[string][]string{
				"bidding_no":    {"number"},
				"quota":         {"number"},
				"bids_success":  {"number"},
				"bids_received": {"number"},
				"premium":       {"number"},
			},
		},
		{
			Name:      "coe_pqp",
			URL:       coeURL,
			File:      "M11-coe_results_pqp.csv",
			Table:     "coe_pqp",
			KeyFields: []string{"month", "vehicle_class"},
			Transforms: map[string][]string{
				"pqp": {"number"},
			},
		},
	}
}

// Descriptor converts the dataset into the engine's SourceDescriptor.
func (d DatasetConfig) Descriptor() (updater.SourceDescriptor, error) {
	steps, err := transform.ParseStepMap(d.Transforms)
	if err != nil {
		return updater.SourceDescriptor{}, fmt.Errorf("dataset %s: %w", d.Name, err)
	}

	return updater.SourceDescriptor{
		Name:      d.Name,
		URL:       d.URL,
		FileName:  d.File,
		Table:     d.Table,
		KeyFields: append([]string(nil), d.KeyFields...),
		Transform: updater.TransformConfig{
			Columns: d.Columns,
			Steps:   steps,
		},
	}, nil
}

// Dataset returns the dataset with the given name, or nil if none.
func (c *Config) Dataset(name string) *DatasetConfig {
	for i := range c.Datasets {
		if c.Datasets[i].Name == name {
			return &c.Datasets[i]
		}
	}
	return nil
}

// Descriptors converts every configured dataset, in config order.
func (c *Config) Descriptors() ([]updater.SourceDescriptor, error) {
	out := make([]updater.SourceDescriptor, 0, len(c.Datasets))
	for _, d := range c.Datasets {
		desc, err := d.Descriptor()
		if err != nil {
			return nil, err
		}
		out = append(out, desc)
	}
	return out, nil
}
