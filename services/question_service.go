package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"code-duel-backend/models"
	"code-duel-backend/utils"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

const geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

// QuestionService generates question sets for a topic, caching them per
// (topic, count) for a bounded TTL. Generation never fails upward: any
// Gemini error falls back to the static question set.
type QuestionService struct {
	APIKey     string
	Model      string
	HTTPClient *http.Client
	CacheTTL   time.Duration

	mu    sync.Mutex
	cache map[string]questionSet
}

type questionSet struct {
	questions   []models.Question
	generatedAt time.Time
}

func NewQuestionService(apiKey string) *QuestionService {
	if apiKey == "" {
		log.Println("⚠️  GEMINI_API_KEY not set, question generation will use the static fallback set")
	}
	return &QuestionService{
		APIKey:     apiKey,
		Model:      "gemini-1.5-pro",
		HTTPClient: utils.HTTPClient,
		CacheTTL:   10 * time.Minute,
		cache:      make(map[string]questionSet),
	}
}

// Generate returns an ordered question sequence for the topic.
func (s *QuestionService) Generate(ctx context.Context, topic string, count int) []models.Question {
	cacheKey := fmt.Sprintf("%s_%d", slug.Make(topic), count)

	s.mu.Lock()
	if set, ok := s.cache[cacheKey]; ok && time.Since(set.generatedAt) < s.CacheTTL {
		s.mu.Unlock()
		log.Printf("Using cached questions for topic %q", topic)
		return set.questions
	}
	s.mu.Unlock()

	questions, err := s.generateWithGemini(ctx, topic, count)
	if err != nil {
		log.Printf("❌ Question generation failed for topic %q: %v, using fallback set", topic, err)
		questions = fallbackQuestions(topic, count)
	}

	s.mu.Lock()
	s.cache[cacheKey] = questionSet{questions: questions, generatedAt: time.Now().UTC()}
	s.mu.Unlock()

	return questions
}

// EvictExpired drops cache entries past their TTL. Called by the
// maintenance scheduler.
func (s *QuestionService) EvictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, set := range s.cache {
		if time.Since(set.generatedAt) >= s.CacheTTL {
			delete(s.cache, key)
		}
	}
}

// ClearCache drops every cached set.
func (s *QuestionService) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]questionSet)
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type generatedQuestion struct {
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	Explanation  string   `json:"explanation"`
	Difficulty   string   `json:"difficulty"`
}

func (s *QuestionService) generateWithGemini(ctx context.Context, topic string, count int) ([]models.Question, error) {
	if s.APIKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}

	var reqBody geminiRequest
	reqBody.Contents = []geminiContent{{Parts: []geminiPart{{Text: generationPrompt(topic, count)}}}}
	reqBody.GenerationConfig.Temperature = 0.7
	reqBody.GenerationConfig.MaxOutputTokens = 2048

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	url := fmt.Sprintf(geminiEndpoint, s.Model) + "?key=" + s.APIKey
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, string(body))
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return nil, fmt.Errorf("failed to decode gemini response: %w", err)
	}
	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	text := stripCodeFences(geminiResp.Candidates[0].Content.Parts[0].Text)

	var generated []generatedQuestion
	if err := json.Unmarshal([]byte(text), &generated); err != nil {
		return nil, fmt.Errorf("failed to parse generated questions: %w", err)
	}

	questions := make([]models.Question, 0, len(generated))
	for i, g := range generated {
		if len(g.Options) != 4 || g.CorrectIndex < 0 || g.CorrectIndex > 3 {
			log.Printf("⚠️  Dropping malformed generated question %d for topic %q", i, topic)
			continue
		}
		difficulty := models.Difficulty(g.Difficulty)
		switch difficulty {
		case models.DifficultyEasy, models.DifficultyMedium, models.DifficultyHard:
		default:
			difficulty = models.DifficultyMedium
		}
		questions = append(questions, models.Question{
			ID:           fmt.Sprintf("%s_%d_%s", slug.Make(topic), i, uuid.NewString()[:8]),
			Prompt:       g.Prompt,
			Options:      g.Options,
			CorrectIndex: g.CorrectIndex,
			Explanation:  g.Explanation,
			Topic:        topic,
			Difficulty:   difficulty,
		})
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("no usable questions in gemini response")
	}

	log.Printf("✅ Generated %d questions for topic %q", len(questions), topic)
	return questions, nil
}

// stripCodeFences extracts the JSON body when the model wraps it in markdown.
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, "```json"); idx >= 0 {
		text = text[idx+len("```json"):]
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
	} else {
		return text
	}
	if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

func generationPrompt(topic string, count int) string {
	return fmt.Sprintf(`You are a quiz generator. Produce EXACTLY N=%d multiple-choice questions for the topic: "%s".
Output must be a JSON array of objects with fields:
- id (string short id),
- prompt (string),
- options (array of 4 concise strings),
- correctIndex (0..3),
- explanation (1-2 sentences),
- topic (echo),
- difficulty ("easy"|"medium"|"hard").

Constraints:
- Each question must be unambiguous and factually correct.
- Only one correct option per question.
- Avoid repeating subtopics; vary coverage.
- Keep prompts under 160 characters.
- Ensure options are mutually exclusive.
- Focus on practical programming knowledge and concepts.

Generate %d questions now:`, count, topic, count)
}

var fallbackSets = map[string][]models.Question{
	"algorithms": {
		{
			Prompt:       "What is the time complexity of binary search?",
			Options:      []string{"O(n)", "O(log n)", "O(n²)", "O(1)"},
			CorrectIndex: 1,
			Explanation:  "Binary search divides the search space in half each time.",
		},
		{
			Prompt:       "Which algorithm is used for finding shortest paths?",
			Options:      []string{"DFS", "BFS", "Dijkstra", "Merge Sort"},
			CorrectIndex: 2,
			Explanation:  "Dijkstra's algorithm finds shortest paths in weighted graphs.",
		},
	},
	"javascript": {
		{
			Prompt:       "What does 'typeof null' return in JavaScript?",
			Options:      []string{"null", "undefined", "object", "boolean"},
			CorrectIndex: 2,
			Explanation:  "This is a known quirk in JavaScript where typeof null returns 'object'.",
		},
		{
			Prompt:       "Which method adds elements to the end of an array?",
			Options:      []string{"push()", "pop()", "shift()", "unshift()"},
			CorrectIndex: 0,
			Explanation:  "push() adds elements to the end of an array.",
		},
	},
}

// fallbackQuestions cycles the static set up to count entries.
func fallbackQuestions(topic string, count int) []models.Question {
	base, ok := fallbackSets[slug.Make(topic)]
	if !ok {
		base = fallbackSets["algorithms"]
	}

	questions := make([]models.Question, 0, count)
	for i := 0; i < count; i++ {
		q := base[i%len(base)]
		q.ID = fmt.Sprintf("fallback_%s_%d", slug.Make(topic), i)
		q.Topic = topic
		q.Difficulty = models.DifficultyMedium
		questions = append(questions, q)
	}
	return questions
}
