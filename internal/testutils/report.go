// Package testutils provides shared test infrastructure: a scriptable report
// backend for unit tests and MinIO containers for integration tests.
package testutils

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	exporthttp "github.com/Nubiru/bhaskara-sub000/internal/http"
)

// Response is what the fake backend answers with.
type Response struct {
	Status      int // 0 means 200
	ContentType string
	Body        []byte
}

// ReportHandler scripts the fake backend. ctx is cancelled when the client
// goes away.
type ReportHandler func(ctx context.Context, req exporthttp.ReportRequest) Response

// Payload returns a handler that always answers with body.
func Payload(contentType string, body []byte) ReportHandler {
	return func(context.Context, exporthttp.ReportRequest) Response {
		return Response{ContentType: contentType, Body: body}
	}
}

// JSON returns a handler that answers with v wrapped in the backend's
// {"success", "data", "error"} envelope.
func JSON(v any) ReportHandler {
	body, err := json.Marshal(map[string]any{"success": true, "data": v, "error": nil})
	if err != nil {
		panic(err)
	}
	return Payload("application/json", body)
}

// ReportServer is an httptest server speaking the report backend protocol.
type ReportServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []exporthttp.ReportRequest

	inFlight atomic.Int32
	peak     atomic.Int32
}

// StartReportServer starts a fake report backend; it is closed when the
// test ends.
func StartReportServer(t *testing.T, handler ReportHandler) *ReportServer {
	t.Helper()

	s := &ReportServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+exporthttp.HealthPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.HandleFunc("POST "+exporthttp.ReportPath, func(w http.ResponseWriter, r *http.Request) {
		cur := s.inFlight.Add(1)
		defer s.inFlight.Add(-1)
		for {
			p := s.peak.Load()
			if cur <= p || s.peak.CompareAndSwap(p, cur) {
				break
			}
		}

		var req exporthttp.ReportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"detail":"malformed request"}`, http.StatusUnprocessableEntity)
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		resp := handler(r.Context(), req)
		if resp.ContentType != "" {
			w.Header().Set("Content-Type", resp.ContentType)
		}
		if resp.Status != 0 {
			w.WriteHeader(resp.Status)
		}
		w.Write(resp.Body)
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Requests returns the report requests received so far.
func (s *ReportServer) Requests() []exporthttp.ReportRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]exporthttp.ReportRequest(nil), s.requests...)
}

// Peak returns the highest number of report requests served concurrently.
func (s *ReportServer) Peak() int {
	return int(s.peak.Load())
}
