package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/vyuha/contentapi/internal/gql"
)

// ---------------------------------------------------------------------------
// POST /graphql  {query, variables?, operationName?}
// ---------------------------------------------------------------------------

func (s *Server) handleGraphQLPost(w http.ResponseWriter, r *http.Request) {
	var req gql.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON",
			"invalid request body: "+err.Error())
		return
	}

	// Only mutations draw from the write budget.
	if mut, err := req.IsMutation(); err == nil && mut && s.limited(s.writeLimiter, w, r) {
		return
	}
	s.executeGraphQL(w, r, req)
}

// ---------------------------------------------------------------------------
// GET /graphql?query=...&variables=...&operationName=...
// ---------------------------------------------------------------------------

func (s *Server) handleGraphQLGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := gql.Request{
		Query:         q.Get("query"),
		OperationName: q.Get("operationName"),
	}
	if v := q.Get("variables"); v != "" {
		if err := json.Unmarshal([]byte(v), &req.Variables); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_VARIABLES",
				"variables must be a JSON object: "+err.Error())
			return
		}
	}

	// Mutations are only accepted over POST.
	if mut, err := req.IsMutation(); err == nil && mut {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "MUTATION_OVER_GET",
			"mutations must be sent with POST")
		return
	}
	s.executeGraphQL(w, r, req)
}

func (s *Server) executeGraphQL(w http.ResponseWriter, r *http.Request, req gql.Request) {
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "MISSING_QUERY", "query is required")
		return
	}
	writeJSON(w, http.StatusOK, s.schema.Execute(r.Context(), req))
}

// ---------------------------------------------------------------------------
// GET /graphql/schema
// ---------------------------------------------------------------------------

func (s *Server) handleGraphQLSchema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, gql.SDL)
}
