package render

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Nubiru/bhaskara-sub000/internal/model"
)

// ErrNilResult is wrapped by a RenderError when there is nothing to render.
var ErrNilResult = errors.New("render: nil result")

// RenderError is returned when a result cannot be serialized in the
// requested format.
type RenderError struct {
	Format model.Format
	Err    error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Format, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// ErrorKind reports model.ErrorKindRender.
func (e *RenderError) ErrorKind() model.ErrorKind {
	return model.ErrorKindRender
}

// Payload is a rendered artifact body.
type Payload struct {
	Data      []byte
	MIMEType  string
	Extension string
}

// Renderer converts analysis results into artifact bytes.
type Renderer struct {
	// Now returns the generation timestamp written into headers.
	// Default: time.Now
	Now func() time.Time
}

// New creates a renderer that stamps output with the current time.
func New() *Renderer {
	return &Renderer{Now: time.Now}
}

// Render serializes result according to opts.Format.
//
// result is the decoded analysis payload: a list of records, a single
// record, or a scalar. Render never panics; it returns:
//   - *model.ConfigurationError for an unsupported format
//   - *RenderError when result is nil or holds values that cannot be encoded
func (r *Renderer) Render(result any, opts model.Options) (Payload, error) {
	if !opts.Format.Valid() {
		return Payload{}, &model.ConfigurationError{Format: string(opts.Format)}
	}
	if result == nil {
		return Payload{}, &RenderError{Format: opts.Format, Err: ErrNilResult}
	}

	normalized, err := normalize(result)
	if err != nil {
		return Payload{}, &RenderError{Format: opts.Format, Err: err}
	}

	var data []byte
	switch opts.Format {
	case model.FormatCSV, model.FormatExcel:
		data, err = r.tabular(normalized, opts)
	case model.FormatPDF:
		data, err = r.report(normalized, opts)
	}
	if err != nil {
		return Payload{}, &RenderError{Format: opts.Format, Err: err}
	}

	return Payload{
		Data:      data,
		MIMEType:  opts.Format.MIMEType(),
		Extension: opts.Format.Extension(),
	}, nil
}

func (r *Renderer) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// tabular writes csv: an optional metadata row, then a table for list
// results or a key/value dump for a single record.
func (r *Renderer) tabular(result any, opts model.Options) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if opts.IncludeMetadata {
		w.Write([]string{
			"Generated", r.now().UTC().Format(time.RFC3339),
			"Format", string(opts.Format),
			"Analyses", strings.Join(opts.AnalysisIDs, ";"),
		})
	}

	switch v := result.(type) {
	case []any:
		rows := make([]map[string]string, len(v))
		columns := make(map[string]struct{})
		for i, el := range v {
			rows[i] = flatten(el)
			for k := range rows[i] {
				columns[k] = struct{}{}
			}
		}
		header := sortedKeys(columns)
		w.Write(header)
		for _, row := range rows {
			record := make([]string, len(header))
			for i, col := range header {
				record[i] = row[col]
			}
			w.Write(record)
		}
	default:
		fields := flatten(v)
		w.Write([]string{"Field", "Value"})
		for _, k := range sortedKeys(fields) {
			w.Write([]string{k, fields[k]})
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

// report writes a paginated plain-text report: a header block followed by
// one block per entry.
func (r *Renderer) report(result any, opts model.Options) ([]byte, error) {
	var buf bytes.Buffer
	rule := strings.Repeat("=", 60)

	fmt.Fprintln(&buf, rule)
	fmt.Fprintln(&buf, "BUSINESS ANALYSIS REPORT")
	fmt.Fprintln(&buf, rule)
	fmt.Fprintf(&buf, "Generated: %s\n", r.now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&buf, "Format:    %s\n", opts.Format)
	fmt.Fprintf(&buf, "Analyses:  %s\n", strings.Join(opts.AnalysisIDs, ", "))
	if opts.IncludeCharts {
		fmt.Fprintln(&buf, "Charts:    included")
	}

	entries, ok := result.([]any)
	if !ok {
		entries = []any{result}
	}

	for i, entry := range entries {
		fmt.Fprintln(&buf)
		fmt.Fprintln(&buf, strings.Repeat("-", 60))
		fmt.Fprintf(&buf, "Entry %d of %d\n", i+1, len(entries))
		fmt.Fprintln(&buf, strings.Repeat("-", 60))
		fields := flatten(entry)
		for _, k := range sortedKeys(fields) {
			fmt.Fprintf(&buf, "  %s: %s\n", k, fields[k])
		}
	}

	return buf.Bytes(), nil
}

// normalize round-trips result through JSON so that structs, typed maps
// and slices all become map[string]any, []any or scalars.
func normalize(result any) (any, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if out == nil {
		return nil, ErrNilResult
	}
	return out, nil
}

// flatten turns a decoded JSON value into column -> cell pairs. Nested
// objects use dotted keys; arrays are joined with "; ". A scalar becomes a
// single "value" column.
func flatten(v any) map[string]string {
	out := make(map[string]string)
	switch t := v.(type) {
	case map[string]any:
		flattenInto(out, "", t)
	default:
		out["value"] = cell(v)
	}
	return out
}

func flattenInto(out map[string]string, prefix string, m map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = cell(v)
	}
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		parts := make([]string, len(t))
		for i, el := range t {
			parts[i] = cell(el)
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		data, _ := json.Marshal(t)
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
