package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/MegaGrindStone/genzai-web-ui/internal/chat"
	"go.uber.org/zap"
)

// HandleChats processes a user message sent through an HTTP POST request. It accepts the message
// through the "message" form field and the model through the optional "model" field, then appends the
// user message and the response placeholder to the session's transcript and answers asynchronously.
//
// The response renders both messages; the placeholder then follows the answer through Server-Sent
// Events. A session already answering a message is refused with 409 Conflict.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", zap.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	md, err := m.catalog.Find(r.FormValue("model"))
	if err != nil {
		m.logger.Error("Unknown model", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s := m.session(w, r)

	req, err := m.orchestrator.Begin(s, md, r.FormValue("message"))
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			http.Error(w, "Message is required", http.StatusBadRequest)
		case errors.Is(err, chat.ErrRequestInFlight):
			http.Error(w, "A response is still being generated", http.StatusConflict)
		default:
			m.logger.Error("Failed to begin request", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	// The answer outlives this request, so it runs detached from the request context.
	go req.Run(context.Background())

	if err := m.templates.ExecuteTemplate(w, "user_message", m.messageView(req.User)); err != nil {
		m.logger.Error("Failed to render user message", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.templates.ExecuteTemplate(w, "ai_message", m.messageView(req.Placeholder)); err != nil {
		m.logger.Error("Failed to render ai message", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleNewChat starts a new conversation for the requesting browser and renders the empty chatbox.
// A response still being generated for the previous conversation is discarded.
func (m Main) HandleNewChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s := m.session(w, r)
	m.orchestrator.StartNewConversation(s)

	data := homePageData{
		Models:        m.catalog,
		SelectedModel: m.catalog.Default().Name,
		Suggestions:   m.suggestions(),
	}
	if md, err := m.catalog.Find(r.FormValue("model")); err == nil {
		data.SelectedModel = md.Name
	}

	if err := m.templates.ExecuteTemplate(w, "chatbox", data); err != nil {
		m.logger.Error("Failed to render chatbox", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleSidebar opens or closes the sidebar of the requesting browser, from the "open" form field.
func (m Main) HandleSidebar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s := m.session(w, r)
	s.SetSidebarOpen(r.FormValue("open") == "true")

	data := homePageData{
		SidebarOpen: s.SidebarOpen(),
	}
	if err := m.templates.ExecuteTemplate(w, "sidebar", data); err != nil {
		m.logger.Error("Failed to render sidebar", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleSSE serves the Server-Sent Events stream. Clients pass the "message_id" query parameter to
// follow one message.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}
