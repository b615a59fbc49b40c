package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vyuha/contentapi/internal/posts"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// looseString accepts any JSON scalar and keeps its text form, so a
// numeric id sent by a client is treated the same as its string form.
type looseString string

func (l *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*l = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = looseString(s)
	case len(b) > 0 && (b[0] == '{' || b[0] == '['):
		return fmt.Errorf("expected a string, got %s", b)
	default:
		*l = looseString(b)
	}
	return nil
}

type postRequest struct {
	ID    looseString `json:"id"`
	Title looseString `json:"title"`
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ---------------------------------------------------------------------------
// GET /api/posts?q=<search>
// ---------------------------------------------------------------------------

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	docs, err := s.service.List(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if docs == nil {
		docs = []posts.Post{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"docs": docs})
}

// ---------------------------------------------------------------------------
// POST /api/posts  {title}
// ---------------------------------------------------------------------------

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON",
			"invalid request body: "+err.Error())
		return
	}

	title := strings.TrimSpace(string(req.Title))
	if title == "" {
		writeError(w, http.StatusBadRequest, "MISSING_TITLE", "Title is required")
		return
	}

	doc, err := s.service.Add(r.Context(), title)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"doc": doc})
}

// ---------------------------------------------------------------------------
// PATCH /api/posts  {id, title}
// ---------------------------------------------------------------------------

func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON",
			"invalid request body: "+err.Error())
		return
	}

	id := string(req.ID)
	title := strings.TrimSpace(string(req.Title))
	if id == "" || title == "" {
		writeError(w, http.StatusBadRequest, "MISSING_FIELDS", "id and title are required")
		return
	}

	doc, err := s.service.Update(r.Context(), id, title)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	// doc is nil when no post has the id; it encodes as null.
	writeJSON(w, http.StatusOK, map[string]interface{}{"doc": doc})
}

// ---------------------------------------------------------------------------
// DELETE /api/posts/{id}
// ---------------------------------------------------------------------------

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	ok, err := s.service.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": ok})
}
