// Package models defines request and response types for the admin REST API.
// All types are JSON-serializable and mirror the shapes the teacher's own
// internal/api/models package used for the equivalent HydraDNS endpoints.
package models

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse represents a simple status response.
type StatusResponse struct {
	Status string `json:"status"`
}
