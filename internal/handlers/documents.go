package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prasannaarjun/graphrag-agent/internal/models"
)

type documentsPageData struct {
	Documents []models.Document
	Notice    string
}

// HandleDocuments renders the document library.
func (m *Main) HandleDocuments(w http.ResponseWriter, r *http.Request) {
	documents, err := m.backend.Documents(r.Context())
	if err != nil {
		if m.redirectOnUnauthorized(w, r, err) {
			return
		}
		m.logger.Error("Failed to list documents", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	notice := ""
	if r.URL.Query().Get("notice") == "upload_failed" {
		notice = "The upload failed. Please try again."
	}

	data := documentsPageData{Documents: documents, Notice: notice}
	if err := m.templates.ExecuteTemplate(w, "documents.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleUpload forwards an uploaded file to the backend for indexing.
func (m *Main) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "File is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	doc, err := m.backend.UploadDocument(r.Context(), header.Filename, file)
	if err != nil {
		if m.redirectOnUnauthorized(w, r, err) {
			return
		}
		m.logger.Error("Failed to upload document",
			slog.String("filename", header.Filename),
			slog.String(errLoggerKey, err.Error()))
		http.Redirect(w, r, "/documents?notice=upload_failed", http.StatusSeeOther)
		return
	}

	m.logger.Info("Document uploaded",
		slog.String("documentID", doc.ID),
		slog.String("filename", doc.Filename),
		slog.Int("chunks", doc.Chunks))
	http.Redirect(w, r, "/documents", http.StatusSeeOther)
}

// HandleDeleteDocument removes a document and its index entries.
func (m *Main) HandleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := m.backend.DeleteDocument(r.Context(), id); err != nil {
		if m.redirectOnUnauthorized(w, r, err) {
			return
		}
		m.logger.Error("Failed to delete document",
			slog.String("documentID", id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/documents", http.StatusSeeOther)
}
