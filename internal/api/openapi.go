package api

import (
	"net/http"

	"github.com/mattjoyce/diagdump/internal/featuremap"
)

// handleOpenAPI handles GET /openapi.json (no auth).
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	var names []string
	if reg, err := s.dumper.Features(); err == nil {
		names = featureNames(reg)
	}
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(names))
}

func featureNames(reg *featuremap.Registry) []string {
	enabled := reg.Enabled()
	names := make([]string, 0, len(enabled))
	for _, f := range enabled {
		names = append(names, f.Name)
	}
	return names
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document of the API. The dump
// route's feature parameter is constrained to the diagnosable features.
func buildOpenAPIDoc(features []string) map[string]any {
	bearer := []any{map[string]any{"BearerAuth": []string{}}}
	featureParam := map[string]any{
		"name":     "feature",
		"in":       "path",
		"required": true,
		"schema":   map[string]any{"type": "string", "enum": features},
	}
	idParam := map[string]any{
		"name":     "id",
		"in":       "path",
		"required": true,
		"schema":   map[string]any{"type": "string"},
	}

	get := func(summary string, params ...any) map[string]any {
		op := map[string]any{
			"summary":  summary,
			"security": bearer,
			"responses": map[string]any{
				"200": map[string]any{"description": "OK"},
				"403": map[string]any{"description": "Insufficient scope"},
			},
		}
		if len(params) > 0 {
			op["parameters"] = params
		}
		return map[string]any{"get": op}
	}

	paths := map[string]any{
		"/healthz":         map[string]any{"get": map[string]any{"summary": "Liveness and mapping status"}},
		"/features":        get("List diagnosable features (all with ?all=true)"),
		"/features/{name}": get("Show one feature", map[string]any{"name": "name", "in": "path", "required": true, "schema": map[string]any{"type": "string"}}),
		"/sessions":        get("List recorded dump sessions"),
		"/sessions/{id}":   get("Show one recorded session", idParam),
		"/events":          get("Server-sent stream of session events"),
		"/dumps/{feature}": map[string]any{
			"post": map[string]any{
				"summary":    "Run a basic diagnostic dump",
				"security":   bearer,
				"parameters": []any{featureParam},
				"requestBody": map[string]any{
					"required": false,
					"content": map[string]any{
						"application/json": map[string]any{
							"schema": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"filename": map[string]any{"type": "string"},
								},
							},
						},
					},
				},
				"responses": map[string]any{
					"200": map[string]any{"description": "Session finished"},
					"400": map[string]any{"description": "Invalid filename"},
					"404": map[string]any{"description": "Feature is not present"},
					"409": map[string]any{"description": "Session active or file exists"},
				},
			},
		},
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "diagdump",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}
