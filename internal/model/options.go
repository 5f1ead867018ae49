package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Options describes one export request. It is treated as immutable once
// built; pass it by value.
type Options struct {
	Format          Format    `json:"format" yaml:"format"`
	AnalysisIDs     []string  `json:"analysis_ids" yaml:"analysis_ids"`
	IncludeCharts   bool      `json:"include_charts" yaml:"include_charts"`
	IncludeMetadata bool      `json:"include_metadata" yaml:"include_metadata"`
	Filename        string    `json:"filename,omitempty" yaml:"filename"`
	CreatedAt       time.Time `json:"created_at" yaml:"-"`
}

// ValidationError is returned when Options are malformed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("model: invalid %s: %s", e.Field, e.Reason)
}

// Normalized returns a copy of o whose format is in canonical form, so
// "CSV" and " excel " name the same formats as "csv" and "excel". An
// unsupported format is left as given for Validate to report.
func (o Options) Normalized() Options {
	if f, err := ParseFormat(string(o.Format)); err == nil {
		o.Format = f
	}
	return o
}

// Validate checks o without touching any state.
//
// Returns:
//   - *ValidationError when the format is missing or the identifier list is
//     empty or contains blank entries
//   - *ConfigurationError when the format is not supported
func (o Options) Validate() error {
	if o.Format == "" {
		return &ValidationError{Field: "format", Reason: "is required"}
	}
	if !o.Format.Valid() {
		return &ConfigurationError{Format: string(o.Format)}
	}
	if len(o.AnalysisIDs) == 0 {
		return &ValidationError{Field: "analysis_ids", Reason: "must not be empty"}
	}
	for i, id := range o.AnalysisIDs {
		if strings.TrimSpace(id) == "" {
			return &ValidationError{Field: "analysis_ids", Reason: fmt.Sprintf("entry %d is blank", i)}
		}
	}
	if strings.ContainsAny(o.Filename, `/\`) {
		return &ValidationError{Field: "filename", Reason: "must not contain path separators"}
	}
	return nil
}

// ID identifies one download attempt.
type ID string

func (id ID) String() string {
	return string(id)
}

// idNamespace scopes the name-based UUIDs used for download ids.
var idNamespace = uuid.MustParse("6f1c2f1e-6c2b-4a4e-9f57-0f3b7d1a9c21")

// NewID derives the download id for o. The same format, identifiers and
// creation time always yield the same id.
func NewID(o Options) ID {
	name := fmt.Sprintf("%s|%s|%d", o.Format, strings.Join(o.AnalysisIDs, ","), o.CreatedAt.UnixNano())
	return ID(uuid.NewSHA1(idNamespace, []byte(name)).String())
}
