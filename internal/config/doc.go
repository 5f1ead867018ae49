// Package config defines configuration structures for the exporter.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (EXPORTER_ prefix)
//   - YAML configuration file
//
// Later sources override earlier ones through [Config.Merge].
//
// # Structure
//
//	type Config struct {
//	    BackendURL       string
//	    Bucket           string
//	    Prefix           string
//	    Window           int
//	    DebounceInterval time.Duration
//	    MaxPayloadSize   int64
//	    Progress         bool
//	    LogLevel         string
//	    LogFormat        string
//	    Listen           string
//	    HTTP             HTTPConfig
//	    Retry            RetryConfig
//	}
//
// # File format
//
//	backend_url: http://localhost:8000
//	bucket: file:///var/lib/exporter
//	prefix: exports
//	window: 3
//	debounce_interval: 100ms
//	max_payload_size: 64MiB
//	http:
//	  timeout: 30s
//	  rate_limit: 5
//	retry:
//	  attempts: 3
//	  backoff: 500ms
package config
