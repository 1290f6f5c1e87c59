package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"docsync/internal/server"
)

// Handler serves the read-only admin surface over the collaboration server.
type Handler struct {
	srv *server.Server
}

// statsResponse is the /api/stats body.
type statsResponse struct {
	Documents   int `json:"documents"`
	Connections int `json:"connections"`
}

// documentResponse describes one loaded document.
type documentResponse struct {
	Name        string `json:"name"`
	State       string `json:"state"`
	Connections int    `json:"connections"`
}

// Stats reports loaded document and connection counts.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	docs, conns := h.srv.Stats()
	writeJSON(w, http.StatusOK, statsResponse{Documents: docs, Connections: conns})
}

// ListDocuments reports every loaded document.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs := h.srv.Documents()
	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentResponse{
			Name:        d.Name(),
			State:       d.LifecycleState().String(),
			Connections: d.ConnectionCount(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetDocument reports one loaded document, 404 when not loaded.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	doc := h.srv.GetDocument(name)
	if doc == nil {
		http.Error(w, "document not loaded", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, documentResponse{
		Name:        doc.Name(),
		State:       doc.LifecycleState().String(),
		Connections: doc.ConnectionCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
