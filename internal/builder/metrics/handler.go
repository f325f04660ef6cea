package metrics

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// StatsHandler serves aggregate metrics of recent builds as JSON. The query
// parameters template, manager, success and since (a duration such as 1h)
// narrow the set.
func StatsHandler(c BuildMetricsCollector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := MetricsFilter{
			Template: q.Get("template"),
			Manager:  q.Get("manager"),
		}
		if raw := q.Get("success"); raw != "" {
			ok, err := strconv.ParseBool(raw)
			if err != nil {
				http.Error(w, "success must be a boolean", http.StatusBadRequest)
				return
			}
			filter.Success = &ok
		}
		if raw := q.Get("since"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				http.Error(w, "since must be a positive duration", http.StatusBadRequest)
				return
			}
			start := time.Now().Add(-d)
			filter.StartTime = &start
		}

		agg, err := c.GetAggregateMetrics(r.Context(), filter)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(agg)
	}
}
