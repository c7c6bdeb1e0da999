package handlers

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"sync"
	"time"

	genzai "github.com/MegaGrindStone/genzai-web-ui"
	"github.com/MegaGrindStone/genzai-web-ui/internal/chat"
	"github.com/MegaGrindStone/genzai-web-ui/internal/models"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"
)

// Main handles the web front end: it owns the per-browser sessions, renders the HTML templates, and
// pushes transcript updates to the browsers through server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template
	markdown  goldmark.Markdown

	orchestrator *chat.Orchestrator
	catalog      models.Models
	synthesizer  chat.ImageSynthesizer

	sessions *sessions

	logger *zap.Logger
}

const sessionCookieName = "genzai_session"

// SSE event types for real-time updates.
var (
	messagesSSEType     = sse.Type("messages")
	closeMessageSSEType = sse.Type("closeMessage")
)

type sessions struct {
	mu   sync.Mutex
	byID map[string]*chat.Session
}

// NewMain creates a new Main instance. The synthesizer backs the JSON image endpoint and may be nil
// when image generation isn't configured. Templates are parsed from the embedded filesystem.
func NewMain(
	orchestrator *chat.Orchestrator,
	catalog models.Models,
	synthesizer chat.ImageSynthesizer,
	logger *zap.Logger,
) (Main, error) {
	if orchestrator == nil {
		return Main{}, fmt.Errorf("orchestrator is required")
	}
	if err := catalog.Validate(); err != nil {
		return Main{}, fmt.Errorf("invalid model catalog: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"imageURL": imageURL,
	}).ParseFS(
		genzai.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, fmt.Errorf("failed to parse templates: %w", err)
	}

	m := Main{
		templates: tmpl,
		markdown: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(highlighting.WithStyle("github")),
			),
		),
		orchestrator: orchestrator,
		catalog:      catalog,
		synthesizer:  synthesizer,
		sessions:     &sessions{byID: make(map[string]*chat.Session)},
		logger:       logger.With(zap.String("module", "main")),
	}

	m.sseSrv = &sse.Server{
		Provider: &sse.Joe{Replayer: messageReplayer{events: m.messageEvents}},
		OnSession: func(s *sse.Session) (sse.Subscription, bool) {
			topics := []string{sse.DefaultTopic}
			var client sse.MessageWriter = s

			// A client following a message first receives its current state from the replayer, so
			// updates published before the subscription are not lost.
			messageID := s.Req.URL.Query().Get("message_id")
			if messageID != "" {
				topics = append(topics, messageIDTopic(messageID))
				sess, _ := m.requestSession(s.Req)
				client = messageClient{MessageWriter: s, session: sess, messageID: messageID}
			}

			return sse.Subscription{
				Client:      client,
				LastEventID: s.LastEventID,
				Topics:      topics,
			}, true
		},
	}

	return m, nil
}

func messageIDTopic(messageID string) string {
	return fmt.Sprintf("message-%s", messageID)
}

// Shutdown gracefully terminates the Main instance's SSE server. It broadcasts a close message to all
// connected clients and waits up to 5 seconds for connections to terminate. After the timeout, any
// remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

// session returns the session of the requesting browser, creating it and setting the cookie when the
// browser has none or the server no longer knows it.
func (m Main) session(w http.ResponseWriter, r *http.Request) *chat.Session {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		if s, ok := m.sessions.get(c.Value); ok {
			return s
		}
	}

	id := uuid.New().String()
	s := chat.NewSession(id, m.publishMessage)
	m.sessions.put(s)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	m.logger.Debug("New session", zap.String("session", id))
	return s
}

func (m Main) requestSession(r *http.Request) (*chat.Session, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, false
	}
	return m.sessions.get(c.Value)
}

func (s *sessions) get(id string) (*chat.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	return sess, ok
}

func (s *sessions) put(sess *chat.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[sess.ID] = sess
}

// publishMessage is the transcript observer of every session. Model messages are rendered and pushed
// to the message topic; user messages are rendered by the request that sent them.
func (m Main) publishMessage(msg models.Message) {
	if msg.Role != models.RoleModel {
		return
	}

	for _, e := range m.messageEvents(msg) {
		if err := m.sseSrv.Publish(e, messageIDTopic(msg.ID)); err != nil {
			m.logger.Error("Failed to publish message",
				zap.String("messageID", msg.ID),
				zap.Error(err))
			return
		}
	}
}

// messageEvents renders msg into its SSE events: the content, followed by a close event once the
// message stopped changing.
func (m Main) messageEvents(msg models.Message) []*sse.Message {
	content, err := m.renderContent(msg)
	if err != nil {
		m.logger.Error("Failed to render message",
			zap.String("messageID", msg.ID),
			zap.Error(err))
		return nil
	}

	e := &sse.Message{Type: messagesSSEType}
	e.AppendData(content)
	events := []*sse.Message{e}

	if !msg.IsStreaming {
		c := &sse.Message{Type: closeMessageSSEType}
		c.AppendData("bye")
		events = append(events, c)
	}
	return events
}

func (m Main) renderContent(msg models.Message) (string, error) {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "message_content", m.messageView(msg)); err != nil {
		return "", fmt.Errorf("failed to execute message_content template: %w", err)
	}
	return sb.String(), nil
}

func (m Main) renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := m.markdown.Convert([]byte(text), &buf); err != nil {
		m.logger.Warn("Failed to render markdown", zap.Error(err))
		return template.HTML(template.HTMLEscapeString(text))
	}
	// goldmark escapes raw HTML unless rendering is configured as unsafe.
	return template.HTML(buf.String())
}

// imageURL marks generated data URIs as safe for img sources. Anything else is dropped.
func imageURL(image string) template.URL {
	if !strings.HasPrefix(image, "data:image/") {
		return ""
	}
	return template.URL(image)
}
