package updater

import "fmt"

// DefaultBatchSize is the number of records written per insert call.
const DefaultBatchSize = 5000

// SourceDescriptor is the immutable definition of one dataset run.
type SourceDescriptor struct {
	// Name identifies the dataset (e.g. "cars"). It namespaces the scratch
	// directory and the retained archives.
	Name string
	// URL of the remote ZIP archive.
	URL string
	// FileName selects the archive entry by base name without extension.
	// When empty the archive must contain exactly one file.
	FileName string
	// Table is the destination table identity.
	Table string
	// KeyFields jointly form the natural key, in declaration order.
	KeyFields []string
	// Transform holds column remapping and per-field value transforms.
	Transform TransformConfig
}

// TransformConfig controls how the Row Transformer maps a CSV file to records.
type TransformConfig struct {
	// Columns maps a CSV header name to a destination field name.
	Columns map[string]string
	// Steps lists the transforms applied, in order, to each destination field.
	Steps map[string][]TransformStep
}

// TransformStep is one serializable value transform. Implementations live in
// the transform package; Spec renders the step back to its config form.
type TransformStep interface {
	Kind() string
	Spec() string
	Apply(v any) (any, error)
}

// Validate checks the descriptor has what a run needs.
func (d SourceDescriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("dataset name is required")
	}
	if d.URL == "" {
		return fmt.Errorf("dataset %s: url is required", d.Name)
	}
	if d.Table == "" {
		return fmt.Errorf("dataset %s: table is required", d.Name)
	}
	if len(d.KeyFields) == 0 {
		return fmt.Errorf("dataset %s: at least one key field is required", d.Name)
	}
	seen := make(map[string]bool, len(d.KeyFields))
	for _, f := range d.KeyFields {
		if f == "" {
			return fmt.Errorf("dataset %s: empty key field", d.Name)
		}
		if seen[f] {
			return fmt.Errorf("dataset %s: duplicate key field %q", d.Name, f)
		}
		seen[f] = true
	}
	return nil
}
