package adapter

// HealthStatus is the coarse adapter health classification.
type HealthStatus string

const (
	HealthReady     HealthStatus = "ready"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Health is the result of an adapter health check.
type Health struct {
	Healthy bool           `json:"healthy"`
	Status  HealthStatus   `json:"status"`
	Message string         `json:"message,omitempty"`
	Metrics map[string]any `json:"metrics,omitempty"`
}
