package transport

import (
	"net/http"
	"time"
)

// BootstrapStatus is the JSON body of the bootstrap endpoints.
type BootstrapStatus struct {
	Running    bool       `json:"running"`
	LastResult string     `json:"last_result,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
}

func bootstrapStatus(ctl BootstrapControl) BootstrapStatus {
	last, at, running := ctl.Status()
	st := BootstrapStatus{Running: running}
	if !at.IsZero() {
		st.LastResult = last.String()
		st.LastRunAt = &at
	}
	return st
}

func handleBootstrapStatus(ctl BootstrapControl) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, bootstrapStatus(ctl))
	}
}

// handleBootstrapTrigger queues a run and answers 202 with the status seen
// before the run starts.
func handleBootstrapTrigger(ctl BootstrapControl) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		st := bootstrapStatus(ctl)
		ctl.Trigger()
		WriteJSON(w, http.StatusAccepted, st)
	}
}
