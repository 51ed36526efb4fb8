package api

import (
	"github.com/mattjoyce/diagdump/internal/dump"
	"github.com/mattjoyce/diagdump/internal/featuremap"
	"github.com/mattjoyce/diagdump/internal/history"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	SessionActive  bool   `json:"session_active"`
	FeaturesLoaded int    `json:"features_loaded"`
	MappingError   string `json:"mapping_error,omitempty"`
}

// FeatureListResponse is returned by GET /features.
type FeatureListResponse struct {
	Title    string               `json:"title"`
	Features []featuremap.Feature `json:"features"`
}

// DumpRequest is the optional JSON body of POST /dumps/{feature}.
type DumpRequest struct {
	Filename string `json:"filename,omitempty"`
}

// DumpResponse is returned by POST /dumps/{feature}. Report holds the
// console output when no filename was requested.
type DumpResponse struct {
	Summary *dump.Summary `json:"summary"`
	Success bool          `json:"success"`
	Report  string        `json:"report,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// SessionListResponse is returned by GET /sessions.
type SessionListResponse struct {
	Sessions []history.Session `json:"sessions"`
}
