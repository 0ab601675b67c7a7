package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rzbill/strata/internal/compactor"
	"github.com/rzbill/strata/internal/record"
	"github.com/rzbill/strata/internal/store"
)

type configureReq struct {
	Scope  string       `json:"scope"`
	Class  string       `json:"class"`
	Policy store.Policy `json:"policy"`
}

func (s *Server) handleScopeConfigure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req configureReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	class, err := record.ParseClass(req.Class)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	meta, err := s.st.Configure(req.Scope, class, req.Policy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

func (s *Server) handleScopeList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scopes": s.st.Scopes()})
}

type appendReq struct {
	Scope   string `json:"scope"`
	Payload []byte `json:"payload"`
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req appendReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	seq, err := s.st.Append(r.Context(), req.Scope, req.Payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]uint64{"seq": seq})
}

type listRecord struct {
	Seq         uint64 `json:"seq"`
	TimestampMs int64  `json:"tsMs"`
	Payload     []byte `json:"payload"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	opts := store.ListOptions{
		MinSeq: parseUint(q.Get("minSeq")),
		MaxSeq: parseUint(q.Get("maxSeq")),
		Limit:  int(parseUint(q.Get("limit"))),
		Filter: q.Get("filter"),
	}
	recs, err := s.st.List(r.Context(), q.Get("scope"), opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]listRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, listRecord{Seq: rec.Seq, TimestampMs: rec.TimestampMs, Payload: rec.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": out})
}

type deliveryReq struct {
	Scope         string `json:"scope"`
	Seq           uint64 `json:"seq"`
	FailureReason string `json:"failureReason"`
}

func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req deliveryReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	m, err := s.st.RecordDelivery(req.Scope, req.Seq, req.FailureReason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleMetricsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	ms, err := s.st.ListMetrics(r.Context(), q.Get("scope"), parseUint(q.Get("minSeq")), parseUint(q.Get("maxSeq")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": ms})
}

type flushReq struct {
	Scope string `json:"scope"`
}

func (s *Server) handleArchiveFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req flushReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	segments, err := s.st.FlushArchive(r.Context(), req.Scope)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"segments": segments})
}

type replaceReq struct {
	Scope  string           `json:"scope"`
	Policy compactor.Policy `json:"policy"`
}

func (s *Server) handleRetentionReplace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req replaceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	res, err := s.st.Replace(r.Context(), req.Scope, req.Policy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func parseUint(s string) uint64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
