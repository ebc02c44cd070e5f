package obs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// Check probes one dependency, e.g. the mongo client.
type Check func(ctx context.Context) error

// HealthHandlers serves /livez and /readyz. Readiness fails when any named
// check fails; an empty set is always ready.
type HealthHandlers struct {
	Checks  map[string]Check
	Timeout time.Duration
}

// Ready runs every check and joins the failures.
func (h HealthHandlers) Ready(ctx context.Context) error {
	var failed []error
	for _, name := range h.names() {
		if err := h.Checks[name](ctx); err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(failed...)
}

func (h HealthHandlers) Livez(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h HealthHandlers) Readyz(c *gin.Context) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	status := http.StatusOK
	report := make(map[string]string, len(h.Checks))
	for _, name := range h.names() {
		if err := h.Checks[name](ctx); err != nil {
			status = http.StatusServiceUnavailable
			report[name] = err.Error()
			continue
		}
		report[name] = "ok"
	}
	if status != http.StatusOK {
		c.JSON(status, gin.H{"status": "not ready", "checks": report})
		return
	}
	c.JSON(status, gin.H{"status": "ok", "checks": report})
}

func (h HealthHandlers) names() []string {
	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
