package chat

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/MegaGrindStone/genzai-web-ui/internal/models"
)

// TextGenerator streams an answer to text given the prior conversation. The returned sequence is
// lazy and finite, and is ranged over at most once.
type TextGenerator interface {
	StreamResponse(
		ctx context.Context,
		model string,
		text string,
		history []models.HistoryEntry,
	) iter.Seq2[models.Chunk, error]
}

// consumeStream folds the chunks of seq into the message with the given ID. The message text
// always holds the full text accumulated so far. A cancelled context ends consumption quietly;
// an error yielded by the backend is returned.
func consumeStream(
	ctx context.Context,
	transcript *Transcript,
	targetID string,
	seq iter.Seq2[models.Chunk, error],
	rec Recorder,
) error {
	if seq == nil {
		return nil
	}

	var accumulated strings.Builder
	for chunk, err := range seq {
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			return err
		}
		rec.ChunkReceived()

		if chunk.Text == "" && chunk.GroundingMetadata == nil {
			continue
		}
		accumulated.WriteString(chunk.Text)
		text := accumulated.String()

		transcript.MutateLast(targetID, func(m *models.Message) {
			m.Text = text
			if chunk.GroundingMetadata != nil {
				m.GroundingMetadata = chunk.GroundingMetadata
			}
		})

		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}
