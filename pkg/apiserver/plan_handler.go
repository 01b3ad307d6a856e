package apiserver

import (
	"net/http"
	"sort"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/quota"
)

// handleListPlans lists the available plans, smallest first.
func (s *Server) handleListPlans(w http.ResponseWriter, _ *http.Request) {
	plans := make([]quota.Plan, 0, len(quota.Plans))
	for _, p := range quota.Plans {
		plans = append(plans, p)
	}
	sort.Slice(plans, func(i, j int) bool {
		return plans[i].Limits.MaxAssignmentsPerRequest < plans[j].Limits.MaxAssignmentsPerRequest
	})
	writeJSON(w, http.StatusOK, plans)
}
