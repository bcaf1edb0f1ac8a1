package http

import (
	"time"

	"github.com/fyrsmithlabs/seer/internal/delivery"
	"github.com/fyrsmithlabs/seer/internal/jobs"
	"github.com/fyrsmithlabs/seer/internal/pipeline"
	"github.com/fyrsmithlabs/seer/internal/ranking"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string   `json:"status"`
	Version   string   `json:"version,omitempty"`
	Providers []string `json:"providers,omitempty"`
	Jobs      int      `json:"jobs"`
}

// RetrieveRequest is the request body for POST /api/v1/retrieve and
// POST /api/v1/jobs.
type RetrieveRequest struct {
	Profile ranking.UserProfile `json:"profile"`
	pipeline.QueryPlan
}

// RetrieveResponse is the response body for POST /api/v1/retrieve.
type RetrieveResponse struct {
	JobID    string           `json:"job_id"`
	Degraded bool             `json:"degraded"`
	Error    string           `json:"error,omitempty"`
	Result   *pipeline.Result `json:"result"`
}

// JobAccepted is the response body for POST /api/v1/jobs.
type JobAccepted struct {
	JobID     string     `json:"job_id"`
	State     jobs.State `json:"state"`
	StatusURL string     `json:"status_url"`
	StreamURL string     `json:"stream_url"`
}

// DeliveryDocument describes a delivered document outside of a job.
type DeliveryDocument struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// DeliveryRequest is the request body for POST /api/v1/deliveries. Either
// JobID (optionally narrowed by DocumentIDs) or Documents must be set.
type DeliveryRequest struct {
	UserID      string             `json:"user_id"`
	JobID       string             `json:"job_id,omitempty"`
	DocumentIDs []string           `json:"document_ids,omitempty"`
	Documents   []DeliveryDocument `json:"documents,omitempty"`
	DeliveredAt *time.Time         `json:"delivered_at,omitempty"`
}

// DeliveryResponse is the response body for POST /api/v1/deliveries.
type DeliveryResponse struct {
	delivery.Confirmation
	Missing []string `json:"missing,omitempty"`
}
