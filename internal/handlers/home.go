package handlers

import (
	"log/slog"
	"net/http"

	"github.com/prasannaarjun/graphrag-agent/internal/models"
)

type homePageData struct {
	Health        models.Health
	Conversations []models.ConversationSummary
	DocumentCount int
	Models        []models.ModelInfo
}

// HandleHome renders the dashboard: backend health, recent conversations,
// document count and the available models.
func (m *Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	data := homePageData{}

	health, err := m.backend.Health(r.Context())
	if err != nil {
		if m.redirectOnUnauthorized(w, r, err) {
			return
		}
		m.logger.Error("Failed to fetch health", slog.String(errLoggerKey, err.Error()))
		health = models.Health{Status: "unreachable"}
	}
	data.Health = health

	conversations, err := m.backend.Conversations(r.Context())
	if err != nil {
		if m.redirectOnUnauthorized(w, r, err) {
			return
		}
		m.logger.Error("Failed to list conversations", slog.String(errLoggerKey, err.Error()))
	}
	if len(conversations) > 5 {
		conversations = conversations[:5]
	}
	data.Conversations = conversations

	documents, err := m.backend.Documents(r.Context())
	if err != nil {
		if m.redirectOnUnauthorized(w, r, err) {
			return
		}
		m.logger.Error("Failed to list documents", slog.String(errLoggerKey, err.Error()))
	}
	data.DocumentCount = len(documents)

	mdls, err := m.backend.Models(r.Context())
	if err != nil {
		m.logger.Error("Failed to list models", slog.String(errLoggerKey, err.Error()))
	}
	data.Models = mdls

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type settingsPageData struct {
	Settings models.Settings
	Models   []models.ModelInfo
	Notice   string
}

// HandleSettings renders the settings form.
func (m *Main) HandleSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := m.settings.Settings()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Model listing is best-effort; the form still works when the backend
	// is unreachable or the credential is invalid.
	mdls, err := m.backend.Models(r.Context())
	if err != nil {
		m.logger.Error("Failed to list models", slog.String(errLoggerKey, err.Error()))
	}

	notice := ""
	if r.URL.Query().Get("notice") == "credential" {
		notice = "The backend rejected the API token. Please update it."
	}

	data := settingsPageData{Settings: settings, Models: mdls, Notice: notice}
	if err := m.templates.ExecuteTemplate(w, "settings.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleSaveSettings persists the settings form.
func (m *Main) HandleSaveSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	settings, err := m.settings.Settings()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	settings.APIToken = r.FormValue("api_token")
	settings.PreferredModel = r.FormValue("preferred_model")
	if err := m.settings.SaveSettings(settings); err != nil {
		m.logger.Error("Failed to save settings", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	m.controller.SetModel(settings.PreferredModel)

	http.Redirect(w, r, "/settings", http.StatusSeeOther)
}
