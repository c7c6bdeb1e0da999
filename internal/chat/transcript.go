package chat

import (
	"sync"
	"time"

	"github.com/MegaGrindStone/genzai-web-ui/internal/models"
	"github.com/google/uuid"
)

// Transcript owns the ordered message list of one conversation. Entries are only ever appended, and
// only the last entry may change after creation. Mutations target the last entry by identity, so a
// continuation of a request that outlived a reset silently does nothing.
type Transcript struct {
	mu       sync.Mutex
	messages []models.Message

	observer func(models.Message)
	now      func() time.Time
}

// NewTranscript creates an empty transcript. The observer, when not nil, receives a copy of every
// appended or mutated message after the change is applied.
func NewTranscript(observer func(models.Message)) *Transcript {
	return &Transcript{
		observer: observer,
		now:      time.Now,
	}
}

// AppendUser appends a fully formed user message.
func (t *Transcript) AppendUser(text string) models.Message {
	t.mu.Lock()
	msg := t.appendLocked(models.Message{
		Role: models.RoleUser,
		Text: text,
	})
	t.mu.Unlock()

	t.notify(msg)
	return msg
}

// AppendPlaceholder appends an empty model message flagged as streaming. Image placeholders are also
// flagged as generating an image.
func (t *Transcript) AppendPlaceholder(isImage bool) models.Message {
	t.mu.Lock()
	msg := t.appendLocked(placeholder(isImage))
	t.mu.Unlock()

	t.notify(msg)
	return msg
}

// Begin appends a user message and its placeholder in one step and returns the history projection
// as it was before either was appended.
func (t *Transcript) Begin(text string, isImage bool) (models.Message, models.Message, []models.HistoryEntry) {
	t.mu.Lock()
	history := historyOf(t.messages)
	user := t.appendLocked(models.Message{
		Role: models.RoleUser,
		Text: text,
	})
	ph := t.appendLocked(placeholder(isImage))
	t.mu.Unlock()

	t.notify(user)
	t.notify(ph)
	return user, ph, history
}

// MutateLast applies fn to the last entry if it is still the entry with the given ID. It reports
// whether fn was applied. On an empty transcript it does nothing.
func (t *Transcript) MutateLast(id string, fn func(*models.Message)) bool {
	t.mu.Lock()
	if len(t.messages) == 0 || t.messages[len(t.messages)-1].ID != id {
		t.mu.Unlock()
		return false
	}
	last := &t.messages[len(t.messages)-1]
	fn(last)
	msg := *last
	t.mu.Unlock()

	t.notify(msg)
	return true
}

// FinalizeLast marks the last entry as no longer streaming, provided it is still the entry with the
// given ID.
func (t *Transcript) FinalizeLast(id string) bool {
	return t.MutateLast(id, func(m *models.Message) {
		m.IsStreaming = false
	})
}

// Reset drops every entry. It is the only way entries leave a transcript.
func (t *Transcript) Reset() {
	t.mu.Lock()
	t.messages = nil
	t.mu.Unlock()
}

// Messages returns a copy of all entries in order.
func (t *Transcript) Messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	msgs := make([]models.Message, len(t.messages))
	copy(msgs, t.messages)
	return msgs
}

// Last returns a copy of the last entry, if any.
func (t *Transcript) Last() (models.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.messages) == 0 {
		return models.Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// History returns the role/text projection of every entry that is not still streaming.
func (t *Transcript) History() []models.HistoryEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return historyOf(t.messages)
}

func (t *Transcript) appendLocked(msg models.Message) models.Message {
	msg.ID = uuid.New().String()
	msg.Timestamp = t.now()
	t.messages = append(t.messages, msg)
	return msg
}

func (t *Transcript) notify(msg models.Message) {
	if t.observer != nil {
		t.observer(msg)
	}
}

func placeholder(isImage bool) models.Message {
	return models.Message{
		Role:              models.RoleModel,
		IsStreaming:       true,
		IsGeneratingImage: isImage,
	}
}

func historyOf(messages []models.Message) []models.HistoryEntry {
	history := make([]models.HistoryEntry, 0, len(messages))
	for _, m := range messages {
		if m.IsStreaming {
			continue
		}
		history = append(history, models.HistoryEntry{
			Role: m.Role,
			Text: m.Text,
		})
	}
	return history
}
