package handlers

import (
	"html/template"
	"net/http"
	"time"

	"github.com/MegaGrindStone/genzai-web-ui/internal/models"
	"go.uber.org/zap"
)

type message struct {
	ID        string
	Role      string
	Content   template.HTML
	Image     string
	Timestamp time.Time

	// StreamingState is "loading" before the first update arrives, "streaming" while the message
	// changes, and "ended" afterwards.
	StreamingState  string
	GeneratingImage bool

	SearchQueries []string
	Sources       []models.GroundingSource
}

type homePageData struct {
	Messages      []message
	Models        models.Models
	SelectedModel string
	Suggestions   []suggestion
	SidebarOpen   bool
	Loading       bool
}

type suggestion struct {
	Title string
	Text  string
	Model string
}

func (m Main) suggestions() []suggestion {
	sgs := []suggestion{
		{Title: "Explain a concept", Text: "Explain how black holes form in simple terms."},
		{Title: "Latest news", Text: "What are today's top technology headlines?"},
		{Title: "Write code", Text: "Write a Go function that reverses a linked list."},
	}

	for _, md := range m.catalog {
		if md.IsImage() {
			sgs = append(sgs, suggestion{
				Title: "Create an image",
				Text:  "A cat astronaut floating above a neon city, digital art.",
				Model: md.Name,
			})
			break
		}
	}
	return sgs
}

func (m Main) messageView(msg models.Message) message {
	state := "ended"
	switch {
	case msg.IsStreaming && msg.Text == "" && msg.Image == "":
		state = "loading"
	case msg.IsStreaming:
		state = "streaming"
	}

	view := message{
		ID:              msg.ID,
		Role:            string(msg.Role),
		Image:           msg.Image,
		Timestamp:       msg.Timestamp,
		StreamingState:  state,
		GeneratingImage: msg.IsGeneratingImage,
	}

	if msg.Role == models.RoleUser {
		view.Content = template.HTML(template.HTMLEscapeString(msg.Text))
	} else {
		view.Content = m.renderMarkdown(msg.Text)
	}

	if msg.GroundingMetadata != nil {
		view.SearchQueries = msg.GroundingMetadata.SearchQueries
		view.Sources = msg.GroundingMetadata.Sources
	}
	return view
}

// HandleHome renders the conversation page of the requesting browser, with its transcript, the model
// picker and, for an empty conversation, the suggestion prompts.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s := m.session(w, r)

	msgs := s.Transcript.Messages()
	views := make([]message, len(msgs))
	for i, msg := range msgs {
		views[i] = m.messageView(msg)
	}

	selected := m.catalog.Default().Name
	if md, err := m.catalog.Find(r.URL.Query().Get("model")); err == nil {
		selected = md.Name
	}

	data := homePageData{
		Messages:      views,
		Models:        m.catalog,
		SelectedModel: selected,
		Suggestions:   m.suggestions(),
		SidebarOpen:   s.SidebarOpen(),
		Loading:       s.IsLoading(),
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home page", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
