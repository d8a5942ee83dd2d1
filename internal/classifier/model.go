package classifier

import (
	"math"
	"strings"
	"time"

	prose "github.com/jdkato/prose/v2"
)

// Category is the closed label set the keyword fallback routes into.
// Free-text human labels train the model directly; the enumeration only
// governs the untrained heuristic so wording drift cannot mis-route.
type Category string

const (
	CategoryPositive Category = "positive"
	CategoryNegative Category = "negative"
	CategoryNeutral  Category = "neutral"
)

// CategoryFallback is returned when no keyword rule fires.
const CategoryFallback = CategoryNeutral

var categoryKeywords = map[Category][]string{
	CategoryNegative: {"error", "fail", "problem", "issue", "broken", "wrong"},
	CategoryPositive: {"love", "great", "good", "nice", "ok", "thanks", "works"},
}

// Model is a multinomial naive Bayes text classifier over unigram and
// bigram counts, the shape of the bag-of-words model the labeled examples
// were collected for. It serializes to JSON for persistence.
type Model struct {
	LabelCounts  map[string]int            `json:"label_counts"`
	TokenCounts  map[string]map[string]int `json:"token_counts"`
	TotalTokens  map[string]int            `json:"total_tokens"`
	VocabSize    int                       `json:"vocab_size"`
	ExampleCount int                       `json:"example_count"`
	TrainedAt    time.Time                 `json:"trained_at"`
}

// Fit builds a model from labeled (text, label) pairs.
func Fit(texts []string, labels []string) *Model {
	m := &Model{
		LabelCounts: make(map[string]int),
		TokenCounts: make(map[string]map[string]int),
		TotalTokens: make(map[string]int),
		TrainedAt:   time.Now().UTC(),
	}

	vocab := make(map[string]struct{})

	for i, text := range texts {
		label := labels[i]
		m.LabelCounts[label]++
		m.ExampleCount++

		counts, ok := m.TokenCounts[label]
		if !ok {
			counts = make(map[string]int)
			m.TokenCounts[label] = counts
		}

		for _, token := range Features(text) {
			counts[token]++
			m.TotalTokens[label]++
			vocab[token] = struct{}{}
		}
	}

	m.VocabSize = len(vocab)
	return m
}

// Predict returns the most likely label with Laplace smoothing.
func (m *Model) Predict(text string) string {
	features := Features(text)

	var bestLabel string
	bestScore := math.Inf(-1)

	for label, labelCount := range m.LabelCounts {
		score := math.Log(float64(labelCount) / float64(m.ExampleCount))

		counts := m.TokenCounts[label]
		denom := float64(m.TotalTokens[label] + m.VocabSize)

		for _, token := range features {
			score += math.Log(float64(counts[token]+1) / denom)
		}

		if score > bestScore || (score == bestScore && label < bestLabel) {
			bestScore = score
			bestLabel = label
		}
	}

	return bestLabel
}

func (m *Model) Labels() []string {
	labels := make([]string, 0, len(m.LabelCounts))
	for label := range m.LabelCounts {
		labels = append(labels, label)
	}
	return labels
}

// Features tokenizes text into lowercase unigrams and bigrams.
func Features(text string) []string {
	tokens := tokenize(text)

	features := make([]string, 0, len(tokens)*2)
	for i, token := range tokens {
		features = append(features, token)
		if i > 0 {
			features = append(features, tokens[i-1]+" "+token)
		}
	}
	return features
}

func tokenize(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
	)
	if err != nil {
		// Whitespace split keeps classification working on tokenizer failure.
		return lowerAll(strings.Fields(text))
	}

	var tokens []string
	for _, tok := range doc.Tokens() {
		tokens = append(tokens, strings.ToLower(tok.Text))
	}
	return tokens
}

func lowerAll(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = strings.ToLower(w)
	}
	return out
}

// HeuristicPredict is the untrained fallback: keyword rules over the closed
// category set, defaulting to CategoryFallback.
func HeuristicPredict(text string) Category {
	lower := strings.ToLower(text)

	for _, category := range []Category{CategoryNegative, CategoryPositive} {
		for _, keyword := range categoryKeywords[category] {
			if strings.Contains(lower, keyword) {
				return category
			}
		}
	}
	return CategoryFallback
}
