// Package analysis classifies post comments: per-comment sentiment and
// post-level discussion topics, both via a chat-completion classifier with
// heuristic fallbacks so a refresh never fails on analysis alone.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/itracker-hq/metrics-bot/internal/models"
)

// Classifier is the completion backend used for sentiment and topic prompts.
type Classifier interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Config holds the analysis batching limits.
type Config struct {
	SentimentBatchSize int           // Comments classified concurrently per batch
	BatchDelay         time.Duration // Pause between sentiment batches
	MaxTopicComments   int           // Comments considered for topic extraction
	PromptComments     int           // Comments actually included in the topic prompt
	MinValidComments   int           // Below this, topic extraction falls back to heuristics
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() *Config {
	return &Config{
		SentimentBatchSize: 10,
		BatchDelay:         time.Second,
		MaxTopicComments:   30,
		PromptComments:     15,
		MinValidComments:   3,
	}
}

// Analyzer runs sentiment and topic analysis over a post's comments.
type Analyzer struct {
	config     *Config
	classifier Classifier
}

// NewAnalyzer creates an analyzer backed by the given classifier. If config
// is nil, default configuration is used.
func NewAnalyzer(classifier Classifier, config *Config) *Analyzer {
	if classifier == nil {
		panic("analysis: classifier is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	return &Analyzer{config: config, classifier: classifier}
}

// Metadata describes one analysis pass over a post's comments.
type Metadata struct {
	AnalyzedAt       string `json:"analyzed_at"`
	ModelUsed        string `json:"model_used"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
	TotalComments    int    `json:"total_comments"`
}

// CommentsAnalysis is the comments_analysis document stored alongside a
// metrics snapshot.
type CommentsAnalysis struct {
	Comments []models.Comment `json:"comments"`
	Metadata Metadata         `json:"analysis_metadata"`
}

// Result bundles the stored analysis document with the extracted topics.
type Result struct {
	CommentsAnalysis *CommentsAnalysis
	Topics           []models.TopicRecord
}

// AnalyzeComments runs the full pass: sentiment per comment, then topic
// extraction over the comment texts. It never returns an error; degraded
// classifier output is replaced by fallbacks comment by comment.
func (a *Analyzer) AnalyzeComments(ctx context.Context, comments []models.Comment) *Result {
	start := time.Now()

	texts := make([]string, len(comments))
	validTexts := make([]string, 0, len(comments))
	for i, comment := range comments {
		texts[i] = comment.Text
		if comment.Text != "" {
			validTexts = append(validTexts, comment.Text)
		}
	}

	if len(validTexts) == 0 {
		return &Result{
			CommentsAnalysis: &CommentsAnalysis{
				Comments: []models.Comment{},
				Metadata: Metadata{
					AnalyzedAt:    time.Now().UTC().Format(time.RFC3339),
					ModelUsed:     "comments-analysis-service",
					TotalComments: 0,
				},
			},
			Topics: []models.TopicRecord{},
		}
	}

	log.Info().Int("comments", len(validTexts)).Msg("Starting comments analysis")

	sentiments := a.AnalyzeSentiments(ctx, texts)

	analyzed := make([]models.Comment, len(comments))
	copy(analyzed, comments)
	for i := range analyzed {
		sentiment := sentiments[i]
		analyzed[i].Sentiment = &sentiment
	}

	topics := a.AnalyzeTopics(ctx, validTexts)

	elapsed := time.Since(start)
	log.Info().
		Dur("elapsed", elapsed).
		Int("topics", len(topics)).
		Msg("Comments analysis completed")

	return &Result{
		CommentsAnalysis: &CommentsAnalysis{
			Comments: analyzed,
			Metadata: Metadata{
				AnalyzedAt:       time.Now().UTC().Format(time.RFC3339),
				ModelUsed:        "comments-analysis-service",
				ProcessingTimeMS: elapsed.Milliseconds(),
				TotalComments:    len(comments),
			},
		},
		Topics: topics,
	}
}

// AnalyzeSentiments classifies each text, in batches with a pause between
// them. The result always has one entry per input, in input order; a comment
// that cannot be classified gets the neutral fallback verdict.
func (a *Analyzer) AnalyzeSentiments(ctx context.Context, texts []string) []models.CommentSentiment {
	results := make([]models.CommentSentiment, len(texts))
	batchSize := a.config.SentimentBatchSize

	for offset := 0; offset < len(texts); offset += batchSize {
		end := min(offset+batchSize, len(texts))

		var wg sync.WaitGroup
		for i := offset; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = a.analyzeSingleSentiment(ctx, texts[i])
			}(i)
		}
		wg.Wait()

		if end < len(texts) {
			select {
			case <-ctx.Done():
				for i := end; i < len(texts); i++ {
					results[i] = errorFallbackSentiment()
				}
				return results
			case <-time.After(a.config.BatchDelay):
			}
		}
	}

	return results
}

type sentimentPayload struct {
	Label      string  `json:"label"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

func (a *Analyzer) analyzeSingleSentiment(ctx context.Context, text string) models.CommentSentiment {
	cleanText := strings.TrimSpace(text)
	if cleanText == "" {
		return models.CommentSentiment{Label: "neutral", Score: 0.5, Confidence: 0.1, Method: "empty-text"}
	}

	prompt := fmt.Sprintf(`Analiza el sentimiento del siguiente comentario de redes sociales.

Comentario: "%s"

Instrucciones:
- Clasifica como: positive, negative, o neutral
- Considera el contexto de redes sociales (emojis, jerga, ironía)
- Proporciona un score de 0 a 1 (qué tan fuerte es el sentimiento)
- Proporciona un nivel de confianza de 0 a 1

Responde SOLO en formato JSON:
{
  "label": "positive|negative|neutral",
  "score": 0.8,
  "confidence": 0.9,
  "reasoning": "breve explicación"
}`, cleanText)

	content, err := a.classifier.Complete(ctx, prompt, 150)
	if err != nil {
		log.Warn().Err(err).Msg("Sentiment classification failed, using fallback")
		return errorFallbackSentiment()
	}

	var parsed sentimentPayload
	if err := json.Unmarshal([]byte(stripJSONFences(content)), &parsed); err != nil {
		log.Warn().Err(err).Msg("Undecodable sentiment verdict, using fallback")
		return errorFallbackSentiment()
	}

	switch parsed.Label {
	case "positive", "negative", "neutral":
	default:
		return errorFallbackSentiment()
	}

	return models.CommentSentiment{
		Label:      parsed.Label,
		Score:      defaultIfZero(parsed.Score, 0.5),
		Confidence: defaultIfZero(parsed.Confidence, 0.5),
		Method:     "openai-gpt",
	}
}

func errorFallbackSentiment() models.CommentSentiment {
	return models.CommentSentiment{Label: "neutral", Score: 0.5, Confidence: 0.1, Method: "error-fallback"}
}

type topicPayload struct {
	TopicLabel            string   `json:"topic_label"`
	TopicDescription      string   `json:"topic_description"`
	Keywords              []string `json:"keywords"`
	RelevanceScore        float64  `json:"relevance_score"`
	ConfidenceScore       float64  `json:"confidence_score"`
	CommentCount          int      `json:"comment_count"`
	SentimentDistribution struct {
		Positive float64 `json:"positive"`
		Neutral  float64 `json:"neutral"`
		Negative float64 `json:"negative"`
	} `json:"sentiment_distribution"`
}

// AnalyzeTopics extracts the main discussion topics from comment texts.
// Comments shorter than 10 characters are discarded; fewer than the minimum
// left, or any classifier failure, produces the heuristic fallback topic.
func (a *Analyzer) AnalyzeTopics(ctx context.Context, texts []string) []models.TopicRecord {
	valid := make([]string, 0, len(texts))
	for _, text := range texts {
		if utf8.RuneCountInString(strings.TrimSpace(text)) > 10 {
			valid = append(valid, text)
		}
		if len(valid) == a.config.MaxTopicComments {
			break
		}
	}

	if len(valid) < a.config.MinValidComments {
		log.Warn().Int("valid", len(valid)).Msg("Not enough comments for topic extraction")
		return a.fallbackTopics(valid)
	}

	limited := valid
	if len(limited) > a.config.PromptComments {
		limited = limited[:a.config.PromptComments]
	}

	var sb strings.Builder
	for i, text := range limited {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, text)
	}

	prompt := fmt.Sprintf(`Analiza estos comentarios y extrae EXACTAMENTE 3 temas específicos sobre los que más se habla.

Comentarios:
%s
INSTRUCCIONES ESPECÍFICAS:
- Identifica los 3 temas principales sobre los que más se habla en los comentarios
- Los temas deben ser específicos y estar basados en el contenido real de los comentarios
- En keywords describe los TIPOS DE COMENTARIOS o PATRONES que encuentras
- Las keywords deben ser descripciones categóricas de lo que hacen o dicen los usuarios

EJEMPLOS de keywords que SÍ quiero:
- "Solicitudes de segunda parte"
- "Comentarios positivos sobre el video"
- "Referencias a personajes históricos mencionados"
- "Usuarios compartiendo experiencias similares"
- "Preguntas sobre detalles específicos"
- "Comparaciones con otros contenidos"

IMPORTANTE: Responde ÚNICAMENTE con un JSON array válido de exactamente 3 elementos.

[
  {
    "topic_label": "Título del tema principal",
    "topic_description": "Descripción de qué se comenta sobre este tema",
    "keywords": ["Tipo de comentario 1", "Patrón de comentario 2", "Categoría de comentario 3"],
    "relevance_score": 0.9,
    "confidence_score": 0.8,
    "comment_count": 12,
    "sentiment_distribution": {
      "positive": 0.6,
      "neutral": 0.3,
      "negative": 0.1
    }
  }
]`, sb.String())

	content, err := a.classifier.Complete(ctx, prompt, 800)
	if err != nil {
		log.Warn().Err(err).Msg("Topic extraction failed, using fallback")
		return a.fallbackTopics(valid)
	}

	var parsed []topicPayload
	if err := json.Unmarshal([]byte(stripJSONFences(content)), &parsed); err != nil {
		log.Warn().Err(err).Msg("Undecodable topic payload, using fallback")
		return a.fallbackTopics(valid)
	}
	if len(parsed) == 0 {
		return a.fallbackTopics(valid)
	}

	topics := make([]models.TopicRecord, 0, len(parsed))
	for _, topic := range parsed {
		commentCount := topic.CommentCount
		if commentCount == 0 {
			commentCount = len(limited) / len(parsed)
		}
		keywords := topic.Keywords
		if keywords == nil {
			keywords = []string{}
		}

		topics = append(topics, models.TopicRecord{
			TopicLabel:       defaultIfEmpty(topic.TopicLabel, "Tema identificado"),
			TopicDescription: defaultIfEmpty(topic.TopicDescription, "Descripción no disponible"),
			Keywords:         keywords,
			RelevanceScore:   clamp01(defaultIfZero(topic.RelevanceScore, 0.5)),
			ConfidenceScore:  clamp01(defaultIfZero(topic.ConfidenceScore, 0.5)),
			CommentCount:     commentCount,
			SentimentDistribution: models.SentimentDistribution{
				Positive: clamp01(defaultIfZero(topic.SentimentDistribution.Positive, 0.33)),
				Neutral:  clamp01(defaultIfZero(topic.SentimentDistribution.Neutral, 0.33)),
				Negative: clamp01(defaultIfZero(topic.SentimentDistribution.Negative, 0.33)),
			},
			ExtractedMethod:  "openai-gpt",
			LanguageDetected: "es",
		})
	}

	log.Info().Int("topics", len(topics)).Msg("Topic extraction succeeded")
	return topics
}

// fallbackTopics builds the single heuristic topic used when the classifier
// is unavailable or there is too little material to work with.
func (a *Analyzer) fallbackTopics(texts []string) []models.TopicRecord {
	return []models.TopicRecord{{
		TopicLabel:       "Temas principales",
		TopicDescription: "Temas principales extraídos automáticamente de los comentarios.",
		Keywords:         extractBasicKeywords(texts),
		RelevanceScore:   1.0,
		ConfidenceScore:  0.5,
		CommentCount:     len(texts),
		SentimentDistribution: models.SentimentDistribution{
			Positive: 0.33,
			Neutral:  0.34,
			Negative: 0.33,
		},
		ExtractedMethod:  "fallback-analysis",
		LanguageDetected: "es",
	}}
}

// extractBasicKeywords buckets comments by crude text patterns: praise,
// questions and requests for more content.
func extractBasicKeywords(texts []string) []string {
	var positive, questions, requests int
	for _, text := range texts {
		lower := strings.ToLower(text)

		if strings.Contains(lower, "me gusta") ||
			strings.Contains(lower, "excelente") ||
			strings.Contains(lower, "bueno") ||
			strings.Contains(lower, "👍") ||
			strings.Contains(lower, "❤️") {
			positive++
		}
		if strings.Contains(text, "?") ||
			strings.Contains(lower, "cómo") ||
			strings.Contains(lower, "qué") ||
			strings.Contains(lower, "cuándo") {
			questions++
		}
		if strings.Contains(lower, "más") ||
			strings.Contains(lower, "otro") ||
			strings.Contains(lower, "segunda parte") {
			requests++
		}
	}

	keywords := []string{}
	if positive > 0 {
		keywords = append(keywords, "Comentarios positivos")
	}
	if questions > 0 {
		keywords = append(keywords, "Preguntas de usuarios")
	}
	if requests > 0 {
		keywords = append(keywords, "Solicitudes de contenido")
	}
	if len(keywords) == 0 {
		keywords = append(keywords, "Interacción general")
	}

	return keywords
}

// stripJSONFences removes markdown code fences the model sometimes wraps
// around JSON output.
func stripJSONFences(content string) string {
	content = strings.ReplaceAll(content, "```json", "")
	content = strings.ReplaceAll(content, "```", "")
	return strings.TrimSpace(content)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func defaultIfZero(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}

func defaultIfEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
