// Package health contiene el controller de /readyz.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/render"

	dto "github.com/dropDatabas3/openidconnect/internal/http/dto/health"
	"github.com/dropDatabas3/openidconnect/internal/observability/logger"
)

// Check is one dependency probe. A failing Critical check makes the
// service unavailable (503); any other failure only degrades it.
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error // nil = disabled
}

type HealthController struct {
	checks  []Check
	version string
	timeout time.Duration
}

func NewHealthController(version string, checks ...Check) *HealthController {
	sort.SliceStable(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })
	return &HealthController{checks: checks, version: version, timeout: 2 * time.Second}
}

// Readyz handles GET /readyz
func (c *HealthController) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
	defer cancel()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("HealthController.Readyz"))

	resp := dto.HealthResponse{
		Status:     "ready",
		Components: make(map[string]dto.HealthStatus, len(c.checks)),
		Version:    c.version,
		Timestamp:  time.Now().UTC(),
	}
	degraded, unavailable := false, false
	for _, chk := range c.checks {
		if chk.Probe == nil {
			resp.Components[chk.Name] = dto.HealthStatus{Status: "disabled"}
			continue
		}
		if err := chk.Probe(ctx); err != nil {
			resp.Components[chk.Name] = dto.HealthStatus{Status: "error", Message: fmt.Sprintf("unavailable: %v", err)}
			log.Error(chk.Name+" unavailable", logger.Err(err))
			if chk.Critical {
				unavailable = true
			} else {
				degraded = true
			}
			continue
		}
		resp.Components[chk.Name] = dto.HealthStatus{Status: "ok"}
	}

	status := http.StatusOK
	switch {
	case unavailable:
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	case degraded:
		resp.Status = "degraded"
	}
	render.Status(r, status)
	render.JSON(w, r, resp)
}
