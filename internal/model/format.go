package model

import (
	"fmt"
	"strings"
)

// Format selects the output encoding of an export.
type Format string

const (
	// FormatCSV is tabular text.
	FormatCSV Format = "csv"
	// FormatExcel is spreadsheet-compatible text.
	FormatExcel Format = "excel"
	// FormatPDF is a paginated text report.
	FormatPDF Format = "pdf"
)

// Formats lists every supported format in display order.
var Formats = []Format{FormatCSV, FormatExcel, FormatPDF}

// ParseFormat converts a user-supplied string into a Format.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", &ConfigurationError{Format: s}
	}
	return f, nil
}

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	switch f {
	case FormatCSV, FormatExcel, FormatPDF:
		return true
	}
	return false
}

// Extension returns the file extension for f, including the leading dot.
func (f Format) Extension() string {
	switch f {
	case FormatCSV:
		return ".csv"
	case FormatExcel:
		return ".xls"
	case FormatPDF:
		return ".pdf"
	}
	return ""
}

// MIMEType returns the content type artifacts of this format are served with.
func (f Format) MIMEType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatExcel:
		return "application/vnd.ms-excel"
	case FormatPDF:
		return "application/pdf"
	}
	return "application/octet-stream"
}

func (f Format) String() string {
	return string(f)
}

// ConfigurationError is returned when an unknown or unsupported format is
// requested.
type ConfigurationError struct {
	Format string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("model: unsupported format %q", e.Format)
}
