// Package artifact stores finished export files in cloud storage next to a
// manifest describing them.
//
// The package is storage-agnostic via gocloud.dev/blob: any bucket URL the
// linked drivers understand (mem://, file://, s3://, gs://) works.
//
// # Writing
//
// Use [Store.Save] with an [Artifact]. The body is streamed to the bucket
// while its SHA256 is computed; the manifest is written only after the body
// was committed, so a manifest always describes a complete object.
//
// # Checking
//
// [Store.Validate] compares the stored object against its manifest (size and
// checksum) and reports problems in a [ValidationResult] rather than as an
// error. [Store.Delete] removes both objects.
//
// # Storage Layout
//
//	{bucket}/{prefix}/{id}/{name}
//	{bucket}/{prefix}/{id}/{name}.manifest.json
//
// Readers address an artifact by its reference "{id}/{name}" (see [Ref]).
// Artifacts saved without an ID live directly under the prefix.
//
// # Manifest Format
//
//	{
//	  "object": "exports/01529bf7-.../RevenueAnalysis_2025-08-13.csv",
//	  "size": 120,
//	  "checksum": "9f86d0...",
//	  "mime_type": "text/csv",
//	  "metadata": {"format": "csv", "analysis_ids": "rev-1", "download_id": "..."},
//	  "created_at": "2025-08-13T10:30:00Z"
//	}
package artifact
