package config

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Validate checks the config for problems that would otherwise surface in
// the middle of a run. All problems are reported together.
func (c *Config) Validate() error {
	var result *multierror.Error

	switch c.Database.Type {
	case "sqlite":
		if c.Database.DataDir == "" {
			result = multierror.Append(result, errors.New("database: data_dir required for sqlite"))
		}
	case "memory":
	default:
		result = multierror.Append(result, fmt.Errorf("database: unknown type %q", c.Database.Type))
	}

	switch c.Cache.Type {
	case "bolt":
		if c.Cache.Path == "" {
			result = multierror.Append(result, errors.New("cache: path required for bolt"))
		}
	case "memory":
	default:
		result = multierror.Append(result, fmt.Errorf("cache: unknown type %q", c.Cache.Type))
	}

	switch c.Vault.Type {
	case "", "none", "memory":
	case "filesystem":
		if c.Vault.FSVaultRoot == "" {
			result = multierror.Append(result, errors.New("vault: fs_vault_root required for filesystem"))
		}
	case "s3":
		if c.Vault.S3Bucket == "" {
			result = multierror.Append(result, errors.New("vault: s3_bucket required for s3"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("vault: unknown type %q", c.Vault.Type))
	}

	switch c.Encryption.Type {
	case "", "none", "test":
	case "age":
		if c.Encryption.PublicKeyPath == "" {
			result = multierror.Append(result, errors.New("encryption: public_key_path required for age"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("encryption: unknown type %q", c.Encryption.Type))
	}

	if c.Updater.BatchSize < 0 {
		result = multierror.Append(result, errors.New("updater: batch_size must not be negative"))
	}
	if c.Updater.ScratchDir == "" {
		result = multierror.Append(result, errors.New("updater: scratch_dir is required"))
	}

	names := make(map[string]bool)
	tables := make(map[string]bool)
	for _, d := range c.Datasets {
		if names[d.Name] {
			result = multierror.Append(result, fmt.Errorf("dataset %s: duplicate name", d.Name))
		}
		names[d.Name] = true
		if tables[d.Table] {
			result = multierror.Append(result, fmt.Errorf("dataset %s: table %s used by another dataset", d.Name, d.Table))
		}
		tables[d.Table] = true

		if err := validateDataset(d); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

func validateDataset(d DatasetConfig) error {
	desc, err := d.Descriptor()
	if err != nil {
		return err
	}
	if err := desc.Validate(); err != nil {
		return err
	}

	// A header renamed by columns no longer exists under its original name.
	produced := make(map[string]bool, len(d.Columns))
	for _, dest := range d.Columns {
		produced[dest] = true
	}
	for _, k := range d.KeyFields {
		if dest, renamed := d.Columns[k]; renamed && dest != k && !produced[k] {
			return fmt.Errorf("dataset %s: key field %q is renamed to %q by columns", d.Name, k, dest)
		}
	}
	return nil
}
