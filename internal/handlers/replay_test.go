package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmaxmax/go-sse"

	"github.com/MegaGrindStone/genzai-web-ui/internal/chat"
	"github.com/MegaGrindStone/genzai-web-ui/internal/models"
)

type recordingWriter struct {
	mu      sync.Mutex
	types   []sse.EventType
	flushes int
	err     error
}

func (w *recordingWriter) Send(m *sse.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.types = append(w.types, m.Type)
	return nil
}

func (w *recordingWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
	return nil
}

func (w *recordingWriter) sent() []sse.EventType {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]sse.EventType(nil), w.types...)
}

func textEvents(msg models.Message) []*sse.Message {
	e := &sse.Message{Type: messagesSSEType}
	e.AppendData(msg.Text)
	events := []*sse.Message{e}
	if !msg.IsStreaming {
		c := &sse.Message{Type: closeMessageSSEType}
		c.AppendData("bye")
		events = append(events, c)
	}
	return events
}

func beginAnswer(t *testing.T) (*chat.Session, models.Message) {
	t.Helper()

	sess := chat.NewSession("replay", nil)
	_, ph, _ := sess.Transcript.Begin("hi", false)
	require.True(t, ph.IsStreaming)
	return sess, ph
}

func TestMessageReplayer(t *testing.T) {
	sess, ph := beginAnswer(t)
	replayer := messageReplayer{events: textEvents}

	t.Run("Streaming message", func(t *testing.T) {
		w := &recordingWriter{}
		err := replayer.Replay(sse.Subscription{
			Client: messageClient{MessageWriter: w, session: sess, messageID: ph.ID},
			Topics: []string{messageIDTopic(ph.ID)},
		})
		require.NoError(t, err)
		assert.Equal(t, []sse.EventType{messagesSSEType}, w.sent())
		assert.Equal(t, 1, w.flushes)
	})

	require.True(t, sess.Transcript.FinalizeLast(ph.ID))

	t.Run("Finished message", func(t *testing.T) {
		w := &recordingWriter{}
		err := replayer.Replay(sse.Subscription{
			Client: messageClient{MessageWriter: w, session: sess, messageID: ph.ID},
			Topics: []string{messageIDTopic(ph.ID)},
		})
		require.NoError(t, err)
		assert.Equal(t, []sse.EventType{messagesSSEType, closeMessageSSEType}, w.sent())
	})

	t.Run("Nothing to replay", func(t *testing.T) {
		clients := []sse.MessageWriter{
			&recordingWriter{},
			messageClient{MessageWriter: &recordingWriter{}, messageID: ph.ID},
			messageClient{MessageWriter: &recordingWriter{}, session: sess, messageID: "unknown"},
		}
		for _, c := range clients {
			require.NoError(t, replayer.Replay(sse.Subscription{Client: c, Topics: []string{sse.DefaultTopic}}))
		}
		assert.Empty(t, clients[0].(*recordingWriter).sent())
		assert.Empty(t, clients[1].(messageClient).MessageWriter.(*recordingWriter).sent())
		assert.Empty(t, clients[2].(messageClient).MessageWriter.(*recordingWriter).sent())
	})

	t.Run("Send failure", func(t *testing.T) {
		w := &recordingWriter{err: errors.New("connection closed")}
		err := replayer.Replay(sse.Subscription{
			Client: messageClient{MessageWriter: w, session: sess, messageID: ph.ID},
			Topics: []string{messageIDTopic(ph.ID)},
		})
		assert.Error(t, err)
	})
}

func TestMessageReplayerWithJoe(t *testing.T) {
	sess, ph := beginAnswer(t)
	require.True(t, sess.Transcript.MutateLast(ph.ID, func(m *models.Message) { m.Text = "Hel" }))

	joe := &sse.Joe{Replayer: messageReplayer{events: textEvents}}
	t.Cleanup(func() { _ = joe.Shutdown(context.Background()) })

	// The answer finished before anyone followed it; its events reach no subscriber.
	require.True(t, sess.Transcript.FinalizeLast(ph.ID))
	final, ok := sess.Transcript.Last()
	require.True(t, ok)
	for _, e := range textEvents(final) {
		require.NoError(t, joe.Publish(e, []string{messageIDTopic(ph.ID)}))
	}

	w := &recordingWriter{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = joe.Subscribe(ctx, sse.Subscription{
			Client: messageClient{MessageWriter: w, session: sess, messageID: ph.ID},
			Topics: []string{sse.DefaultTopic, messageIDTopic(ph.ID)},
		})
	}()

	assert.Eventually(t, func() bool {
		sent := w.sent()
		return len(sent) == 2 && sent[1] == closeMessageSSEType
	}, 2*time.Second, 10*time.Millisecond)
}
