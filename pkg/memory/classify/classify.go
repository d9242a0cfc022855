// Package classify decides whether an exchange is worth keeping long-term and
// how to label it. Everything here is a pure function over strings: no I/O,
// no failure modes. The keyword tables are data, not code, so the policy can
// evolve without recompiling.
package classify

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/elderwise/companion/pkg/memory/model"
)

// TypeBucket maps a fragment type to the keywords that select it. Buckets are
// evaluated in slice order and the first match wins, so the order in
// Vocabulary.TypeBuckets is a priority ranking.
type TypeBucket struct {
	Type     model.FragmentType `json:"type"`
	Keywords []string           `json:"keywords"`
}

// TagVocabulary unions literal term matches into the fragment's tag set.
// When Tag is empty each matched term becomes its own tag; otherwise any
// match contributes the single named tag.
type TagVocabulary struct {
	Tag   string   `json:"tag,omitempty"`
	Terms []string `json:"terms"`
}

// Vocabulary is the full keyword policy for significance, typing and tagging.
type Vocabulary struct {
	// Significant marks an exchange for long-term storage when any keyword
	// appears in either side of the exchange.
	Significant []string `json:"significant"`

	// TypeBuckets classify the user message; priority is slice order.
	TypeBuckets []TypeBucket `json:"type_buckets"`

	// TagVocabularies are scanned over the combined exchange text.
	TagVocabularies []TagVocabulary `json:"tag_vocabularies"`

	// Word-count thresholds beyond which an exchange is significant even
	// without a keyword hit.
	UserWordThreshold int `json:"user_word_threshold"`
	AIWordThreshold   int `json:"ai_word_threshold"`
}

// DefaultVocabulary returns the built-in policy. Buckets keep the observed
// priority order: health before emotion before event before preference; a
// message matching several buckets is typed by the first.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Significant: []string{
			"medication", "pain", "feel", "doctor", "appointment", "family",
			"remember", "forgot", "worried", "happy", "sad", "lonely",
		},
		TypeBuckets: []TypeBucket{
			{Type: model.TypeHealth, Keywords: []string{"medication", "pill", "doctor", "pain", "hurt"}},
			{Type: model.TypeEmotion, Keywords: []string{"feel", "sad", "happy", "lonely", "worried"}},
			{Type: model.TypeEvent, Keywords: []string{"remember", "forgot", "yesterday", "last week"}},
			{Type: model.TypePreference, Keywords: []string{"like", "enjoy", "prefer", "favorite"}},
		},
		TagVocabularies: []TagVocabulary{
			{Terms: []string{"medication", "doctor", "pain", "appointment", "symptom"}},
			{Terms: []string{"happy", "sad", "worried", "anxious", "lonely"}},
			{Tag: "daily", Terms: []string{"today", "morning", "evening"}},
			{Tag: "memory", Terms: []string{"yesterday", "last week", "remember"}},
		},
		UserWordThreshold: 10,
		AIWordThreshold:   20,
	}
}

// LoadVocabulary reads a vocabulary policy from a JSON file. Fields left
// unset fall back to the defaults so a policy file can override selectively.
func LoadVocabulary(path string) (Vocabulary, error) {
	vocab := DefaultVocabulary()
	data, err := os.ReadFile(path)
	if err != nil {
		return vocab, fmt.Errorf("read vocabulary file: %w", err)
	}
	if err := json.Unmarshal(data, &vocab); err != nil {
		return DefaultVocabulary(), fmt.Errorf("parse vocabulary file: %w", err)
	}
	if vocab.UserWordThreshold <= 0 {
		vocab.UserWordThreshold = 10
	}
	if vocab.AIWordThreshold <= 0 {
		vocab.AIWordThreshold = 20
	}
	return vocab, nil
}

// Classifier applies a vocabulary to exchanges.
type Classifier struct {
	vocab Vocabulary
}

// New returns a classifier over the given vocabulary.
func New(vocab Vocabulary) *Classifier {
	return &Classifier{vocab: vocab}
}

// NewDefault returns a classifier with the built-in vocabulary.
func NewDefault() *Classifier {
	return New(DefaultVocabulary())
}

// IsSignificant reports whether the exchange deserves long-term storage.
// This is a cheap heuristic: a keyword hit in either side, or a long enough
// message on either side. False positives are acceptable.
func (c *Classifier) IsSignificant(userMessage, aiResponse string) bool {
	combined := strings.ToLower(userMessage + " " + aiResponse)
	for _, kw := range c.vocab.Significant {
		if strings.Contains(combined, kw) {
			return true
		}
	}
	return len(strings.Fields(userMessage)) > c.vocab.UserWordThreshold ||
		len(strings.Fields(aiResponse)) > c.vocab.AIWordThreshold
}

// ClassifyType assigns a fragment type from the user message. First matching
// bucket wins; the default is a plain interaction.
func (c *Classifier) ClassifyType(userMessage string) model.FragmentType {
	lower := strings.ToLower(userMessage)
	for _, bucket := range c.vocab.TypeBuckets {
		for _, kw := range bucket.Keywords {
			if strings.Contains(lower, kw) {
				return bucket.Type
			}
		}
	}
	return model.TypeInteraction
}

// ExtractTags scans the combined exchange against every tag vocabulary and
// returns the deduplicated, sorted union of matches.
func (c *Classifier) ExtractTags(userMessage, aiResponse string) []string {
	combined := strings.ToLower(userMessage + " " + aiResponse)
	seen := make(map[string]struct{})
	for _, vocab := range c.vocab.TagVocabularies {
		for _, term := range vocab.Terms {
			if !strings.Contains(combined, term) {
				continue
			}
			tag := vocab.Tag
			if tag == "" {
				tag = term
			}
			seen[tag] = struct{}{}
		}
	}
	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
