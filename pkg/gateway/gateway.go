// Package gateway exposes a minimal HTTP remote-trigger surface over a UDS
// client: session control, security access, and DTC retrieval, each as one
// handler function behind a regex-routed http.ServeMux.
package gateway

import (
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"

	"github.com/candiag/candiag/pkg/uds"
)

var (
	sessionPattern  = regexp.MustCompile(`^/session/(\d+)$`)
	securityPattern = regexp.MustCompile(`^/security/(\d+)$`)
)

// Server wires a uds.Client to a small set of diagnostic HTTP routes.
type Server struct {
	client   *uds.Client
	dtcTable uds.DTCTable
	logger   *slog.Logger
	serveMux *http.ServeMux
}

func NewServer(client *uds.Client, dtcTable uds.DTCTable, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if dtcTable == nil {
		dtcTable = uds.DefaultDTCTable
	}
	s := &Server{client: client, dtcTable: dtcTable, logger: logger.With("service", "gateway")}
	s.serveMux = http.NewServeMux()
	s.serveMux.HandleFunc("/", s.handleRequest)
	return s
}

func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.serveMux)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && sessionPattern.MatchString(r.URL.Path):
		s.handleSession(w, r, sessionPattern.FindStringSubmatch(r.URL.Path))
	case r.Method == http.MethodPost && securityPattern.MatchString(r.URL.Path):
		s.handleSecurity(w, r, securityPattern.FindStringSubmatch(r.URL.Path))
	case r.Method == http.MethodGet && r.URL.Path == "/dtc":
		s.handleDTC(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, match []string) {
	session, err := strconv.ParseUint(match[1], 10, 8)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	ok, err := s.client.ChangeSession(r.Context(), byte(session))
	if err != nil {
		s.logger.Warn("session control failed", "err", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{"accepted": ok})
}

func (s *Server) handleSecurity(w http.ResponseWriter, r *http.Request, match []string) {
	level, err := strconv.ParseUint(match[1], 10, 8)
	if err != nil {
		http.Error(w, "invalid security level", http.StatusBadRequest)
		return
	}

	var key []byte
	if hexKey := r.URL.Query().Get("key"); hexKey != "" {
		key, err = decodeKey(hexKey)
		if err != nil {
			http.Error(w, "invalid key", http.StatusBadRequest)
			return
		}
	}

	ok, err := s.client.SecurityAccess(r.Context(), byte(level), key)
	if err != nil {
		s.logger.Warn("security access failed", "err", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{"accepted": ok})
}

func (s *Server) handleDTC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp, err := s.client.ReadDTCByStatusMask(ctx, 0xFF)
	if err != nil {
		s.logger.Warn("dtc retrieval failed", "err", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	dtcs, err := uds.DecodeDTCsWithTable(resp, s.dtcTable)
	if err != nil {
		s.logger.Warn("dtc decode failed", "err", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, dtcs)
}

func decodeKey(hexKey string) ([]byte, error) {
	return hex.DecodeString(hexKey)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
