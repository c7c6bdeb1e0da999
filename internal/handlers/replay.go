package handlers

import (
	"github.com/MegaGrindStone/genzai-web-ui/internal/chat"
	"github.com/MegaGrindStone/genzai-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// messageClient is the subscription client of a browser following one message. It carries what the
// replayer needs to send the message's current state.
type messageClient struct {
	sse.MessageWriter

	session   *chat.Session
	messageID string
}

// messageReplayer sends a new message subscriber the current state of its message. Joe calls Replay
// in the same loop that delivers publishes, right before the subscriber is registered, so no update
// falls between the replayed state and the live events.
type messageReplayer struct {
	events func(models.Message) []*sse.Message
}

// Put keeps nothing: the transcript already holds the state to replay.
func (r messageReplayer) Put(msg *sse.Message, topics []string) (*sse.Message, error) {
	if len(topics) == 0 {
		return nil, sse.ErrNoTopic
	}
	return msg, nil
}

func (r messageReplayer) Replay(sub sse.Subscription) error {
	client, ok := sub.Client.(messageClient)
	if !ok || client.session == nil {
		return nil
	}

	for _, msg := range client.session.Transcript.Messages() {
		if msg.ID != client.messageID {
			continue
		}

		events := r.events(msg)
		if len(events) == 0 {
			return nil
		}
		for _, e := range events {
			if err := client.Send(e); err != nil {
				return err
			}
		}
		return client.Flush()
	}
	return nil
}
