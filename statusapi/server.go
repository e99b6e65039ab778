package statusapi

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"xdao.co/boards/diag"
	"xdao.co/boards/state"
)

// Server answers the status and info endpoints from the process state.
type Server struct {
	st  *state.State
	rep *diag.Reporter
	log *logrus.Entry
}

func NewServer(st *state.State, rep *diag.Reporter, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{st: st, rep: rep, log: log.WithField("component", "statusapi")}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+StatusPath, s.handleStatus)
	mux.HandleFunc("GET "+InfoPath, s.handleInfo)
	return mux
}

// handleStatus reports the node's multiaddrs, or 503 until the node is up.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	n, ok := s.st.Node.Peek()
	if !ok {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "storage node not ready"})
		return
	}
	s.writeJSON(w, http.StatusOK, Status{Multiaddrs: n.Addrs()})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.rep.Snapshot(r.Context()))
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Debug("writing response failed")
	}
}
