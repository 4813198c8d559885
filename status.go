package vigil

import (
	"net/http"

	json "github.com/goccy/go-json"
)

// StatusHandler returns an [http.Handler] that reports every registered
// circuit breaker's snapshot. It responds 200 OK while no breaker is open
// and 503 Service Unavailable otherwise, so it can double as a readiness
// probe. The body is always the JSON-encoded name → status map.
func StatusHandler(ex *Executor) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		statuses := ex.AllCircuitBreakerStatus()

		healthy := true
		for _, status := range statuses {
			if status.State == StateOpen {
				healthy = false
				break
			}
		}

		writer.Header().Set("Content-Type", "application/json")

		if healthy {
			writer.WriteHeader(http.StatusOK)
		} else {
			writer.WriteHeader(http.StatusServiceUnavailable)
		}

		//nolint:errcheck // best-effort JSON encoding to HTTP response
		_ = json.NewEncoder(writer).Encode(statuses)
	})
}
