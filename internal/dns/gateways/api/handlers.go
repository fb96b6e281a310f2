package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/gorilla/mux"

	"github.com/haukened/dnscore/internal/dns/common/utils"
	"github.com/haukened/dnscore/internal/dns/domain"
	"github.com/haukened/dnscore/internal/dns/gateways/wire"
	"github.com/haukened/dnscore/internal/dns/repos/dnscache"
)

// recordRequest is the POST body. A missing ttl means domain.DefaultTTL.
type recordRequest struct {
	Domain string `json:"domain" validate:"required,max=253"`
	Type   string `json:"type" validate:"required"`
	Value  string `json:"value" validate:"required"`
	TTL    *int   `json:"ttl"`
}

type zoneResponse struct {
	Zone    string          `json:"zone"`
	Records []domain.Record `json:"records"`
}

type cacheResponse struct {
	Total   int                  `json:"total"`
	Active  int                  `json:"active"`
	Entries []dnscache.EntryInfo `json:"entries"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "Healthy",
		"service":   "dnscore",
		"records":   len(s.store.GetAllRecords()),
		"timestamp": s.clock.Now().UTC(),
	})
}

func (s *Server) listRecordsHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, nonNil(s.store.GetAllRecords()))
}

func (s *Server) createRecordHandler(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	ttl := domain.DefaultTTL
	if req.TTL != nil {
		if *req.TTL <= 0 {
			errorResponse(w, http.StatusBadRequest, "TTL must be greater than 0")
			return
		}
		ttl = *req.TTL
	}
	t, err := parseStoredType(req.Type)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := wire.ValidateValue(t, req.Value); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := domain.NewRecord(req.Domain, t, req.Value, ttl)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	added := s.store.AddRecord(r.Context(), rec)
	s.logger.Info(map[string]any{
		"record": rec.String(),
		"added":  added,
	}, "Record submitted via API")

	w.Header().Set("Location", "/api/dns/records/"+url.PathEscape(rec.Domain)+"/"+rec.Type.String())
	jsonResponse(w, http.StatusCreated, rec)
}

func (s *Server) getRecordHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	t, err := domain.ParseRRType(vars["type"])
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid record type")
		return
	}
	records, ok := s.store.Query(vars["domain"], t)
	if !ok {
		errorResponse(w, http.StatusNotFound, "Record not found")
		return
	}
	jsonResponse(w, http.StatusOK, records)
}

func (s *Server) deleteRecordHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	t, err := parseStoredType(vars["type"])
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid record type")
		return
	}
	if !s.store.RemoveRecord(r.Context(), vars["domain"], t) {
		errorResponse(w, http.StatusNotFound, "Record not found")
		return
	}
	s.logger.Info(map[string]any{"domain": vars["domain"], "type": t.String()}, "Record deleted via API")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearRecordsHandler(w http.ResponseWriter, r *http.Request) {
	s.store.Clear(r.Context())
	s.logger.Info(nil, "All records cleared via API")
	w.WriteHeader(http.StatusNoContent)
}

// listZonesHandler groups records by registrable domain.
func (s *Server) listZonesHandler(w http.ResponseWriter, r *http.Request) {
	byApex := make(map[string][]domain.Record)
	for _, rec := range s.store.GetAllRecords() {
		apex := utils.GetApexDomain(rec.Domain)
		byApex[apex] = append(byApex[apex], rec)
	}
	zones := make([]zoneResponse, 0, len(byApex))
	for apex, records := range byApex {
		zones = append(zones, zoneResponse{Zone: apex, Records: records})
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].Zone < zones[j].Zone })
	jsonResponse(w, http.StatusOK, zones)
}

func (s *Server) cacheHandler(w http.ResponseWriter, r *http.Request) {
	total, active := s.cache.Stats()
	entries := s.cache.Snapshot()
	if entries == nil {
		entries = []dnscache.EntryInfo{}
	}
	jsonResponse(w, http.StatusOK, cacheResponse{Total: total, Active: active, Entries: entries})
}

// parseStoredType accepts the record types the store can hold.
func parseStoredType(s string) (domain.RRType, error) {
	t, err := domain.ParseRRType(s)
	if err != nil {
		return 0, err
	}
	if t == domain.RRTypeANY {
		return 0, fmt.Errorf("record type ANY cannot be stored")
	}
	return t, nil
}

func nonNil(records []domain.Record) []domain.Record {
	if records == nil {
		return []domain.Record{}
	}
	return records
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, msg string) {
	jsonResponse(w, status, map[string]string{"error": msg})
}
