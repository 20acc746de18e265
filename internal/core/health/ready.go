package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// ReadinessReporter is implemented by background consumers that are only
// useful once they own partitions.
type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// ReporterCheck turns a ReadinessReporter into a named check.
func ReporterCheck(name string, rr ReadinessReporter) Check {
	return Check{Name: name, Fn: func(context.Context) error {
		if ready, _ := rr.Readiness(); !ready {
			return errors.New("no partitions assigned")
		}
		return nil
	}}
}

// Readiness runs every check under timeout and answers 503 when any fails.
func Readiness(timeout time.Duration, checks ...Check) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks,omitempty"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		out := resp{Status: "ready"}
		if len(checks) > 0 {
			out.Checks = make(map[string]string, len(checks))
		}
		for _, c := range checks {
			if err := c.Fn(ctx); err != nil {
				out.Status = "not_ready"
				out.Checks[c.Name] = err.Error()
				continue
			}
			out.Checks[c.Name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
