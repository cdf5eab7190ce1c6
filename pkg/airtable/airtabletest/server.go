// Package airtabletest provides an in-memory Airtable REST server for tests.
package airtabletest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Record mirrors the Airtable wire representation
type Record struct {
	ID          string         `json:"id"`
	CreatedTime string         `json:"createdTime"`
	Fields      map[string]any `json:"fields"`
}

// Request is a request the server received
type Request struct {
	Method        string
	Path          string
	Query         map[string][]string
	Authorization string
}

type failure struct {
	status int
	body   string
}

// Server is a fake Airtable API. Records are kept per base and table in
// insertion order. Use URL() as the client base URL.
type Server struct {
	mu       sync.Mutex
	server   *httptest.Server
	records  map[string][]Record
	bases    []map[string]any
	tables   map[string][]map[string]any
	failures []failure
	requests []Request
	nextID   int
	now      func() time.Time
	token    string
}

// NewServer starts a fake server that accepts any non-empty Authorization header
func NewServer() *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		records: make(map[string][]Record),
		tables:  make(map[string][]map[string]any),
		now:     time.Now,
	}

	router := gin.New()
	router.Any("/v0/*path", s.handle)
	s.server = httptest.NewServer(router)
	return s
}

// Close shuts the server down
func (s *Server) Close() {
	s.server.Close()
}

// URL is the API root, equivalent to https://api.airtable.com/v0/
func (s *Server) URL() string {
	return s.server.URL + "/v0/"
}

// RequireAuthorization makes the server answer 401 unless the header matches exactly
func (s *Server) RequireAuthorization(header string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = header
}

// SetClock replaces the clock used for createdTime of new records
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailNext queues n failures with the given status, served before any real response
func (s *Server) FailNext(status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.failures = append(s.failures, failure{
			status: status,
			body:   fmt.Sprintf(`{"error":{"type":"%s","message":"injected failure"}}`, errorType(status)),
		})
	}
}

// Seed appends records to a table as-is
func (s *Server) Seed(baseID, table string, records ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tableKey(baseID, table)
	for _, r := range records {
		if r.Fields == nil {
			r.Fields = map[string]any{}
		}
		s.records[key] = append(s.records[key], r)
	}
}

// AddBase registers a base and its table schema for the meta endpoints
func (s *Server) AddBase(id, name string, tables ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bases = append(s.bases, map[string]any{"id": id, "name": name, "permissionLevel": "create"})
	s.tables[id] = append(s.tables[id], tables...)
}

// Records returns a copy of a table's records
func (s *Server) Records(baseID, table string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records[tableKey(baseID, table)]...)
}

// Requests returns every request received so far
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestCount returns the number of requests received so far
func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *Server) handle(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, Request{
		Method:        c.Request.Method,
		Path:          c.Param("path"),
		Query:         c.Request.URL.Query(),
		Authorization: c.GetHeader("Authorization"),
	})

	auth := c.GetHeader("Authorization")
	if auth == "" || (s.token != "" && auth != s.token) {
		writeError(c, http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "Authentication required")
		return
	}

	if len(s.failures) > 0 {
		f := s.failures[0]
		s.failures = s.failures[1:]
		c.Data(f.status, "application/json", []byte(f.body))
		return
	}

	parts := strings.Split(strings.Trim(c.Param("path"), "/"), "/")
	if len(parts) > 0 && parts[0] == "meta" {
		s.handleMeta(c, parts[1:])
		return
	}

	switch {
	case len(parts) == 2 && c.Request.Method == http.MethodGet:
		s.list(c, parts[0], parts[1])
	case len(parts) == 2 && c.Request.Method == http.MethodPost:
		s.create(c, parts[0], parts[1])
	case len(parts) == 2 && c.Request.Method == http.MethodPatch:
		s.update(c, parts[0], parts[1])
	case len(parts) == 3 && c.Request.Method == http.MethodGet:
		s.read(c, parts[0], parts[1], parts[2])
	case len(parts) == 3 && c.Request.Method == http.MethodDelete:
		s.remove(c, parts[0], parts[1], parts[2])
	default:
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Could not find what you are looking for")
	}
}

func (s *Server) list(c *gin.Context, baseID, table string) {
	records := append([]Record(nil), s.records[tableKey(baseID, table)]...)

	if field := c.Query("sort[0][field]"); field != "" {
		desc := c.Query("sort[0][direction]") == "desc"
		sort.SliceStable(records, func(i, j int) bool {
			a := fmt.Sprint(records[i].Fields[field])
			b := fmt.Sprint(records[j].Fields[field])
			if desc {
				return a > b
			}
			return a < b
		})
	}

	pageSize := 100
	if raw := c.Query("pageSize"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			pageSize = n
		}
	}

	start := 0
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(raw, "itr"))
		if err != nil || n < 0 || n > len(records) {
			writeError(c, http.StatusUnprocessableEntity, "LIST_RECORDS_ITERATOR_NOT_AVAILABLE", "invalid offset")
			return
		}
		start = n
	}

	end := min(start+pageSize, len(records))
	response := gin.H{"records": records[start:end]}
	if end < len(records) {
		response["offset"] = "itr" + strconv.Itoa(end)
	}
	c.JSON(http.StatusOK, response)
}

func (s *Server) create(c *gin.Context, baseID, table string) {
	var body struct {
		Records []struct {
			Fields map[string]any `json:"fields"`
		} `json:"records"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || len(body.Records) == 0 {
		writeError(c, http.StatusUnprocessableEntity, "INVALID_REQUEST_UNKNOWN", "Invalid request: parameter validation failed")
		return
	}
	if len(body.Records) > 10 {
		writeError(c, http.StatusUnprocessableEntity, "INVALID_RECORDS", "too many records")
		return
	}

	key := tableKey(baseID, table)
	created := make([]Record, 0, len(body.Records))
	for _, r := range body.Records {
		s.nextID++
		record := Record{
			ID:          fmt.Sprintf("rec%014d", s.nextID),
			CreatedTime: s.now().UTC().Format("2006-01-02T15:04:05.000Z"),
			Fields:      r.Fields,
		}
		if record.Fields == nil {
			record.Fields = map[string]any{}
		}
		s.records[key] = append(s.records[key], record)
		created = append(created, record)
	}
	c.JSON(http.StatusOK, gin.H{"records": created})
}

func (s *Server) update(c *gin.Context, baseID, table string) {
	var body struct {
		Records []struct {
			ID     string         `json:"id"`
			Fields map[string]any `json:"fields"`
		} `json:"records"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || len(body.Records) == 0 {
		writeError(c, http.StatusUnprocessableEntity, "INVALID_REQUEST_UNKNOWN", "Invalid request: parameter validation failed")
		return
	}

	key := tableKey(baseID, table)
	updated := make([]Record, 0, len(body.Records))
	for _, u := range body.Records {
		idx := s.indexOf(key, u.ID)
		if idx < 0 {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Record not found")
			return
		}
		for k, v := range u.Fields {
			s.records[key][idx].Fields[k] = v
		}
		updated = append(updated, s.records[key][idx])
	}
	c.JSON(http.StatusOK, gin.H{"records": updated})
}

func (s *Server) read(c *gin.Context, baseID, table, recordID string) {
	key := tableKey(baseID, table)
	idx := s.indexOf(key, recordID)
	if idx < 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND"})
		return
	}
	c.JSON(http.StatusOK, s.records[key][idx])
}

func (s *Server) remove(c *gin.Context, baseID, table, recordID string) {
	key := tableKey(baseID, table)
	idx := s.indexOf(key, recordID)
	if idx < 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND"})
		return
	}
	s.records[key] = append(s.records[key][:idx], s.records[key][idx+1:]...)
	c.JSON(http.StatusOK, gin.H{"id": recordID, "deleted": true})
}

func (s *Server) handleMeta(c *gin.Context, parts []string) {
	if c.Request.Method != http.MethodGet || len(parts) == 0 || parts[0] != "bases" {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Could not find what you are looking for")
		return
	}

	switch len(parts) {
	case 1:
		c.JSON(http.StatusOK, gin.H{"bases": s.bases})
	case 2, 3:
		for _, base := range s.bases {
			if base["id"] != parts[1] {
				continue
			}
			if len(parts) == 3 && parts[2] == "tables" {
				c.JSON(http.StatusOK, gin.H{"tables": s.tables[parts[1]]})
				return
			}
			if len(parts) == 2 {
				c.JSON(http.StatusOK, base)
				return
			}
		}
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Could not find what you are looking for")
	default:
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Could not find what you are looking for")
	}
}

func (s *Server) indexOf(key, recordID string) int {
	for i, r := range s.records[key] {
		if r.ID == recordID {
			return i
		}
	}
	return -1
}

func tableKey(baseID, table string) string {
	return baseID + "/" + table
}

func writeError(c *gin.Context, status int, errType, message string) {
	c.JSON(status, gin.H{"error": gin.H{"type": errType, "message": message}})
}

func errorType(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "AUTHENTICATION_REQUIRED"
	case http.StatusForbidden:
		return "INVALID_PERMISSIONS_OR_MODEL_NOT_FOUND"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusUnprocessableEntity:
		return "INVALID_REQUEST_UNKNOWN"
	case http.StatusTooManyRequests:
		return "RATE_LIMIT_REACHED"
	default:
		return "SERVER_ERROR"
	}
}
