// Package health provides the HTTP handler for harness liveness checks.
package health

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/terrpan/cfnadapter/internal/buildinfo"
)

// Response represents the health check response body.
type Response struct {
	Status       string    `json:"status"`
	ServiceName  string    `json:"service_name"`
	Version      string    `json:"version"`
	Commit       string    `json:"commit"`
	BuildTime    string    `json:"build_time"`
	GoVersion    string    `json:"go_version"`
	OS           string    `json:"os"`
	Architecture string    `json:"architecture"`
	Mode         string    `json:"mode"`
	Timestamp    time.Time `json:"timestamp"`
}

// Handler responds to health check requests with build info and the
// running mode.  The status is always "healthy" (200 OK) since the
// harness has no external dependencies to verify.
func Handler(mode string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := Response{
			Status:       "healthy",
			ServiceName:  "cfnadapter",
			Version:      buildinfo.Version,
			Commit:       buildinfo.Commit,
			BuildTime:    buildinfo.BuildTime,
			GoVersion:    runtime.Version(),
			OS:           runtime.GOOS,
			Architecture: runtime.GOARCH,
			Mode:         mode,
			Timestamp:    time.Now().UTC(),
		}

		_ = json.NewEncoder(w).Encode(response)
	}
}
