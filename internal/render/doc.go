// Package render converts analysis results into artifact bytes.
//
// Output is keyed by [model.Format]:
//   - csv: optional metadata row, then one row per list element with nested
//     keys flattened into dotted columns, or a Field/Value dump for a single
//     record
//   - excel: the csv encoding served with a spreadsheet MIME type
//   - pdf: a plain-text paginated report with a header block and one block
//     per entry
//
// # Usage
//
//	r := render.New()
//	payload, err := r.Render(result, opts)
//	// payload.Data, payload.MIMEType, payload.Extension
package render
