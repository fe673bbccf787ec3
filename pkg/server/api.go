package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kylerisse/neustart/pkg/event"
	"github.com/kylerisse/neustart/pkg/host"
	"github.com/kylerisse/neustart/pkg/inventory"
	"github.com/kylerisse/neustart/pkg/restart"
	"github.com/kylerisse/neustart/pkg/scheduler"
)

// HostAPIResponse is one host as returned by /api.
type HostAPIResponse struct {
	ID        string     `json:"id"`
	Hostname  string     `json:"hostname"`
	Address   string     `json:"address"`
	Port      int        `json:"port"`
	Network   host.State `json:"pingStatus"`
	Service   host.State `json:"telnetStatus"`
	LastCheck time.Time  `json:"lastCheck"`
	Status    HostStatus `json:"status"`
}

func newHostAPIResponse(st host.Status) HostAPIResponse {
	return HostAPIResponse{
		ID:        st.ID,
		Hostname:  st.Hostname,
		Address:   st.Address,
		Port:      st.Port,
		Network:   st.Network,
		Service:   st.Service,
		LastCheck: st.LastCheck,
		Status:    computeHostStatus(st),
	}
}

type restartRequest struct {
	HostIDs   []string `json:"hostIds"`
	Requester string   `json:"requester"`
	Notify    bool     `json:"notify"`
}

type scheduleRequest struct {
	HostIDs   []string  `json:"hostIds"`
	When      time.Time `json:"when"`
	Requester string    `json:"requester"`
	Notify    bool      `json:"notify"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const maxBody = 64 << 10

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleAPI(w http.ResponseWriter, _ *http.Request) {
	statuses := s.deps.Monitor.Statuses()
	hosts := make([]HostAPIResponse, len(statuses))
	for i, st := range statuses {
		hosts[i] = newHostAPIResponse(st)
	}
	writeJSON(w, http.StatusOK, hosts)
}

func (s *Server) handleHostAPI(w http.ResponseWriter, r *http.Request) {
	st, ok := s.deps.Monitor.Status(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "host not found")
		return
	}
	writeJSON(w, http.StatusOK, newHostAPIResponse(st))
}

func (s *Server) handleSummaryAPI(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, summarize(s.deps.Monitor.Statuses()))
}

// restartErrorStatus maps orchestrator errors to HTTP status codes.
func restartErrorStatus(err error) int {
	switch {
	case errors.Is(err, restart.ErrNoHosts), errors.Is(err, scheduler.ErrInvalidSchedule):
		return http.StatusBadRequest
	case errors.Is(err, restart.ErrHostsBusy):
		return http.StatusConflict
	case errors.Is(err, inventory.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	var req restartRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h, err := s.deps.Restarts.Execute(r.Context(), req.HostIDs, restart.Options{
		Requester: req.Requester,
		Notify:    req.Notify,
	})
	if err != nil {
		writeError(w, restartErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": h.ID()})
}

func (s *Server) handleActiveJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Restarts.Active())
}

// jobHistoryResponse describes a finished job from its audit trail.
type jobHistoryResponse struct {
	JobID    string        `json:"jobId"`
	Finished bool          `json:"finished"`
	Events   []event.Event `json:"events"`
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if snap, ok := s.deps.Restarts.Job(id); ok {
		writeJSON(w, http.StatusOK, snap)
		return
	}
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, "job not found or already finished")
		return
	}

	events, err := s.deps.History.ForJob(r.Context(), id)
	if err != nil {
		s.logger.WithError(err).WithField("job", id).Error("Failed to read job history")
		writeError(w, http.StatusInternalServerError, "job history unavailable")
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, jobHistoryResponse{JobID: id, Finished: true, Events: events})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	e, err := s.deps.Schedules.Schedule(r.Context(), req.HostIDs, req.When, restart.Options{
		Requester: req.Requester,
		Notify:    req.Notify,
	})
	if err != nil {
		writeError(w, restartErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handlePendingSchedules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Schedules.Pending())
}

func (s *Server) handleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Schedules.Cancel(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		writeError(w, http.StatusNotFound, "schedule not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Events.Events())
}
