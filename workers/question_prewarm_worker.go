package workers

import (
	"context"
	"log"
	"time"

	"code-duel-backend/services"
)

// QuestionPrewarmWorker keeps the question cache warm for popular topics so
// the first match on a topic does not pay generation latency.
type QuestionPrewarmWorker struct {
	Questions *services.QuestionService
	Topics    []string
	Count     int
	Interval  time.Duration
}

func NewQuestionPrewarmWorker(questions *services.QuestionService, topics []string) *QuestionPrewarmWorker {
	return &QuestionPrewarmWorker{
		Questions: questions,
		Topics:    topics,
		Count:     10,
		Interval:  9 * time.Minute, // just inside the 10m cache TTL
	}
}

// Start warms the cache immediately and then on every interval tick until
// the context is canceled.
func (w *QuestionPrewarmWorker) Start(ctx context.Context) {
	if len(w.Topics) == 0 {
		log.Println("Question prewarm worker has no topics configured, exiting")
		return
	}
	log.Printf("Starting question prewarm worker for %d topic(s)...", len(w.Topics))

	w.warm(ctx)

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Question prewarm worker stopped.")
			return
		case <-ticker.C:
			w.warm(ctx)
		}
	}
}

func (w *QuestionPrewarmWorker) warm(ctx context.Context) {
	for _, topic := range w.Topics {
		if ctx.Err() != nil {
			return
		}
		questions := w.Questions.Generate(ctx, topic, w.Count)
		log.Printf("📥 Prewarmed %d question(s) for topic %q", len(questions), topic)
	}
}
