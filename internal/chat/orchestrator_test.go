package chat_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/MegaGrindStone/genzai-web-ui/internal/chat"
	"github.com/MegaGrindStone/genzai-web-ui/internal/models"
)

var (
	textModel  = models.Model{Name: "gemini-2.5-flash", Label: "Gemini 2.5 Flash", Kind: models.KindText}
	imageModel = models.Model{Name: "gemini-2.5-flash-image", Label: "Gemini 2.5 Flash Image", Kind: models.KindImage}
)

// observed collects the text of every notification about one message.
type observed struct {
	mu    sync.Mutex
	texts map[string][]string
}

func (o *observed) observe(m models.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.texts == nil {
		o.texts = make(map[string][]string)
	}
	o.texts[m.ID] = append(o.texts[m.ID], m.Text)
}

func (o *observed) of(id string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.texts[id]...)
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx     context.Context
		obs     *observed
		session *chat.Session
	)

	BeforeEach(func() {
		ctx = context.Background()
		obs = &observed{}
		session = chat.NewSession("test", obs.observe)
	})

	lastMessage := func() models.Message {
		last, ok := session.Transcript.Last()
		Expect(ok).To(BeTrue())
		return last
	}

	Describe("text requests", func() {
		It("accumulates chunks and keeps the latest grounding metadata", func() {
			meta := &models.GroundingMetadata{SearchQueries: []string{"m:1"}}
			text := newFakeText(
				models.Chunk{Text: "Hel"},
				models.Chunk{Text: "lo"},
				models.Chunk{GroundingMetadata: meta},
			)
			o := chat.NewOrchestrator(text, nil)

			Expect(o.SendMessage(ctx, session, textModel, "Hi")).To(Succeed())

			msgs := session.Transcript.Messages()
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[0].Role).To(Equal(models.RoleUser))
			Expect(msgs[0].Text).To(Equal("Hi"))

			last := msgs[1]
			Expect(last.Role).To(Equal(models.RoleModel))
			Expect(last.Text).To(Equal("Hello"))
			Expect(last.GroundingMetadata).To(Equal(meta))
			Expect(last.IsStreaming).To(BeFalse())
			Expect(last.IsGeneratingImage).To(BeFalse())
			Expect(last.Image).To(BeEmpty())
			Expect(session.IsLoading()).To(BeFalse())
		})

		It("only ever grows the displayed text", func() {
			text := newFakeText(
				models.Chunk{Text: "a"},
				models.Chunk{},
				models.Chunk{Text: "b"},
				models.Chunk{Text: "c"},
			)
			o := chat.NewOrchestrator(text, nil)

			req, err := o.Begin(session, textModel, "letters")
			Expect(err).NotTo(HaveOccurred())
			req.Run(ctx)

			texts := obs.of(req.Placeholder.ID)
			Expect(texts).NotTo(BeEmpty())
			for i := 1; i < len(texts); i++ {
				Expect(strings.HasPrefix(texts[i], texts[i-1])).To(BeTrue(),
					"%q is not an extension of %q", texts[i], texts[i-1])
			}
			Expect(texts[len(texts)-1]).To(Equal("abc"))
		})

		It("keeps the most recent non-absent grounding metadata", func() {
			first := &models.GroundingMetadata{SearchQueries: []string{"first"}}
			second := &models.GroundingMetadata{Sources: []models.GroundingSource{{Title: "Go", URI: "https://go.dev"}}}
			text := newFakeText(
				models.Chunk{Text: "x", GroundingMetadata: first},
				models.Chunk{GroundingMetadata: second},
				models.Chunk{Text: "y"},
			)
			o := chat.NewOrchestrator(text, nil)

			Expect(o.SendMessage(ctx, session, textModel, "q")).To(Succeed())
			Expect(lastMessage().GroundingMetadata).To(Equal(second))
			Expect(lastMessage().Text).To(Equal("xy"))
		})

		It("leaves an empty answer when the stream yields nothing", func() {
			o := chat.NewOrchestrator(newFakeText(), nil)

			Expect(o.SendMessage(ctx, session, textModel, "silence")).To(Succeed())
			Expect(lastMessage().Text).To(BeEmpty())
			Expect(lastMessage().IsStreaming).To(BeFalse())
		})

		It("passes the transcript as it was before the request as history", func() {
			text := newFakeText(models.Chunk{Text: "first answer"})
			o := chat.NewOrchestrator(text, nil)
			Expect(o.SendMessage(ctx, session, textModel, "first question")).To(Succeed())

			text.chunks = []models.Chunk{{Text: "second answer"}}
			Expect(o.SendMessage(ctx, session, textModel, "second question")).To(Succeed())

			Expect(text.model).To(Equal(textModel.Name))
			Expect(text.text).To(Equal("second question"))
			Expect(text.history).To(Equal([]models.HistoryEntry{
				{Role: models.RoleUser, Text: "first question"},
				{Role: models.RoleModel, Text: "first answer"},
			}))
		})

		It("hides the backend reason of a failure", func() {
			text := newFakeText(models.Chunk{Text: "partial"})
			text.errAfter = 1
			text.err = &models.APIError{Status: http.StatusInternalServerError, Message: "secret upstream detail"}
			o := chat.NewOrchestrator(text, nil)

			req, err := o.Begin(session, textModel, "Hi")
			Expect(err).NotTo(HaveOccurred())
			outcome := req.Run(ctx)

			Expect(outcome.Category).To(Equal(chat.CategoryStreamFailure))
			last := lastMessage()
			Expect(last.Text).To(Equal(chat.TextFailureText))
			Expect(last.Text).NotTo(ContainSubstring("secret"))
			Expect(last.IsStreaming).To(BeFalse())
			Expect(req.States()).To(Equal([]chat.State{
				chat.StateIdle,
				chat.StateUserAppended,
				chat.StatePlaceholderAppended,
				chat.StateDispatching,
				chat.StateStreaming,
				chat.StateFailed,
				chat.StateFinalized,
			}))
		})

		It("recovers from a panicking backend and still finalizes", func() {
			o := chat.NewOrchestrator(panicText{}, nil)

			Expect(o.SendMessage(ctx, session, textModel, "boom")).To(Succeed())
			Expect(lastMessage().Text).To(Equal(chat.FallbackText))
			Expect(lastMessage().IsStreaming).To(BeFalse())
			Expect(session.IsLoading()).To(BeFalse())
		})
	})

	Describe("image requests", func() {
		It("synthesizes from the original text when enhancement fails", func() {
			enhancer := &fakeEnhancer{err: errors.New("enhancer down")}
			synth := &fakeSynthesizer{image: "IMG"}
			o := chat.NewOrchestrator(nil, nil,
				chat.WithEnhancer(enhancer),
				chat.WithImageSynthesizer(synth))

			req, err := o.Begin(session, imageModel, "a red fox")
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Placeholder.IsGeneratingImage).To(BeTrue())
			Expect(req.Run(ctx).Category).To(Equal(chat.CategoryNone))

			Expect(synth.calls).To(Equal(1))
			Expect(synth.got).To(Equal("a red fox"))

			last := lastMessage()
			Expect(last.Text).To(Equal(`Here is the generated image for: "a red fox"`))
			Expect(last.Image).To(Equal("IMG"))
			Expect(last.IsGeneratingImage).To(BeFalse())
			Expect(last.IsStreaming).To(BeFalse())
			Expect(last.GroundingMetadata).To(BeNil())
			Expect(req.States()).To(Equal([]chat.State{
				chat.StateIdle,
				chat.StateUserAppended,
				chat.StatePlaceholderAppended,
				chat.StateDispatching,
				chat.StateImageEnhance,
				chat.StateImageSynthesize,
				chat.StateCompleted,
				chat.StateFinalized,
			}))
		})

		It("uses the enhanced prompt but captions with the user's text", func() {
			enhancer := &fakeEnhancer{out: "a red fox, golden hour, 35mm"}
			synth := &fakeSynthesizer{image: "data:image/png;base64,AAA"}
			o := chat.NewOrchestrator(nil, nil,
				chat.WithEnhancer(enhancer),
				chat.WithImageSynthesizer(synth))

			Expect(o.SendMessage(ctx, session, imageModel, "a red fox")).To(Succeed())

			Expect(enhancer.got).To(Equal("a red fox"))
			Expect(synth.got).To(Equal("a red fox, golden hour, 35mm"))
			Expect(lastMessage().Text).To(Equal(`Here is the generated image for: "a red fox"`))
		})

		It("reports quota exhaustion with the cleaned reason", func() {
			synth := &fakeSynthesizer{err: &models.APIError{
				Status:  http.StatusTooManyRequests,
				Message: "Resource has been exhausted",
			}}
			o := chat.NewOrchestrator(nil, nil, chat.WithImageSynthesizer(synth))

			Expect(o.SendMessage(ctx, session, imageModel, "a cat")).To(Succeed())

			last := lastMessage()
			Expect(last.Text).To(ContainSubstring("quota limit"))
			Expect(last.Text).To(ContainSubstring("Resource has been exhausted"))
			Expect(last.Text).NotTo(ContainSubstring("API Error:"))
			Expect(last.IsGeneratingImage).To(BeFalse())
			Expect(last.IsStreaming).To(BeFalse())
		})

		It("reports an unavailable model", func() {
			synth := &fakeSynthesizer{err: &models.APIError{
				Status:  http.StatusNotFound,
				Message: "models/imagen is not found",
			}}
			o := chat.NewOrchestrator(nil, nil, chat.WithImageSynthesizer(synth))

			Expect(o.SendMessage(ctx, session, imageModel, "a cat")).To(Succeed())
			Expect(lastMessage().Text).To(ContainSubstring("not available"))
			Expect(lastMessage().Text).To(ContainSubstring("models/imagen is not found"))
		})

		It("treats an empty payload as a failure", func() {
			synth := &fakeSynthesizer{}
			o := chat.NewOrchestrator(nil, nil, chat.WithImageSynthesizer(synth))

			req, err := o.Begin(session, imageModel, "nothing")
			Expect(err).NotTo(HaveOccurred())
			outcome := req.Run(ctx)

			Expect(outcome.Category).To(Equal(chat.CategoryEmptyImageResult))
			last := lastMessage()
			Expect(last.Image).To(BeEmpty())
			Expect(last.Text).To(ContainSubstring(chat.ErrNoImage.Error()))
			Expect(last.IsGeneratingImage).To(BeFalse())
			Expect(last.IsStreaming).To(BeFalse())
		})
	})

	Describe("session lifecycle", func() {
		It("refuses blank text and concurrent requests", func() {
			o := chat.NewOrchestrator(newFakeText(), nil)

			_, err := o.Begin(session, textModel, "   ")
			Expect(err).To(MatchError(chat.ErrEmptyMessage))

			req, err := o.Begin(session, textModel, "one")
			Expect(err).NotTo(HaveOccurred())
			Expect(session.IsLoading()).To(BeTrue())

			_, err = o.Begin(session, textModel, "two")
			Expect(err).To(MatchError(chat.ErrRequestInFlight))

			req.Run(ctx)
			Expect(session.IsLoading()).To(BeFalse())
			Expect(session.Transcript.Len()).To(Equal(2))
		})

		It("runs a request at most once", func() {
			text := newFakeText(models.Chunk{Text: "once"})
			o := chat.NewOrchestrator(text, nil)

			req, err := o.Begin(session, textModel, "hi")
			Expect(err).NotTo(HaveOccurred())
			req.Run(ctx)
			req.Run(ctx)

			Expect(text.calls).To(Equal(1))
			Expect(req.States()).To(HaveLen(7))
		})

		It("drops mutations of a request that outlived a new conversation", func() {
			var o *chat.Orchestrator
			text := newFakeText(models.Chunk{Text: "stale "}, models.Chunk{Text: "answer"})
			text.beforeChunk = func(i int) {
				if i == 1 {
					o.StartNewConversation(session)
				}
			}
			o = chat.NewOrchestrator(text, nil)

			Expect(o.SendMessage(ctx, session, textModel, "old")).To(Succeed())

			Expect(session.Transcript.Len()).To(BeZero())
			Expect(session.IsLoading()).To(BeFalse())
		})

		It("does not disturb a newer request when a stale one finishes", func() {
			var (
				o     *chat.Orchestrator
				fresh *chat.Request
			)
			synth := &fakeSynthesizer{image: "IMG"}
			synth.before = func() {
				o.StartNewConversation(session)
				var err error
				fresh, err = o.Begin(session, textModel, "new question")
				Expect(err).NotTo(HaveOccurred())
			}
			o = chat.NewOrchestrator(newFakeText(models.Chunk{Text: "new answer"}), nil,
				chat.WithImageSynthesizer(synth))

			Expect(o.SendMessage(ctx, session, imageModel, "old picture")).To(Succeed())

			msgs := session.Transcript.Messages()
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[0].Text).To(Equal("new question"))
			Expect(msgs[1].ID).To(Equal(fresh.Placeholder.ID))
			Expect(msgs[1].IsStreaming).To(BeTrue())
			Expect(msgs[1].Image).To(BeEmpty())
			Expect(session.IsLoading()).To(BeTrue())

			fresh.Run(ctx)
			Expect(lastMessage().Text).To(Equal("new answer"))
			Expect(lastMessage().IsStreaming).To(BeFalse())
			Expect(session.IsLoading()).To(BeFalse())
		})

		It("closes the sidebar on a new conversation", func() {
			o := chat.NewOrchestrator(newFakeText(), nil)
			session.SetSidebarOpen(true)

			o.StartNewConversation(session)
			Expect(session.SidebarOpen()).To(BeFalse())
		})
	})
})
