package importer

import (
	"fmt"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/almeidatech/quizbank/internal/model"
	"github.com/almeidatech/quizbank/internal/store"
)

// fallbackConfidence is the fixed confidence recorded when no canonical topic
// matched and a new one had to be synthesized.
const fallbackConfidence = 0.3

// fuzzyMinConfidence is the floor a fuzzy match must clear. Raw edit distance
// alone over-matches short labels: two unrelated two-letter labels are always
// within two edits of each other.
const fuzzyMinConfidence = 0.6

// TopicMapper resolves free-text topic labels to canonical topic ids for one
// import run. Resolution order: exact normalized name match, then fuzzy match
// within the configured edit distance and above a confidence floor, then
// fallback creation of a new canonical topic. Resolution is idempotent within the run: the same label
// always yields the same id, via a run-lifetime cache.
type TopicMapper struct {
	store       *store.Store
	maxDistance int
	cache       map[string]model.TopicMapping
	topics      []model.Topic
	loaded      bool
}

// NewTopicMapper creates a mapper for a single import run.
func NewTopicMapper(s *store.Store, maxDistance int) *TopicMapper {
	return &TopicMapper{
		store:       s,
		maxDistance: maxDistance,
		cache:       make(map[string]model.TopicMapping),
	}
}

// Resolve maps one free-text label to a canonical topic. A label that matches
// nothing is never dropped: a new canonical topic is created for it
// (insert-if-absent, so concurrent imports creating the same name converge on
// one row).
func (m *TopicMapper) Resolve(label string) (model.TopicMapping, error) {
	key := NormalizeText(label)
	if mapping, ok := m.cache[key]; ok {
		return mapping, nil
	}

	if !m.loaded {
		topics, err := m.store.ListTopics()
		if err != nil {
			return model.TopicMapping{}, fmt.Errorf("list topics: %w", err)
		}
		m.topics = topics
		m.loaded = true
	}

	mapping, ok := m.match(label, key)
	if !ok {
		id, err := m.store.GetOrCreateTopic(label)
		if err != nil {
			return model.TopicMapping{}, fmt.Errorf("create topic %q: %w", label, err)
		}
		created := model.Topic{ID: id, Name: label}
		// Later labels in the same run may fuzzy-match the new topic.
		m.topics = append(m.topics, created)
		mapping = model.TopicMapping{
			Label:      label,
			TopicID:    id,
			Confidence: fallbackConfidence,
			Method:     model.MappingFallback,
		}
	}

	m.cache[key] = mapping
	return mapping, nil
}

// match finds the best existing topic for the label, or reports none.
func (m *TopicMapper) match(label, key string) (model.TopicMapping, bool) {
	bestDist := m.maxDistance + 1
	var best *model.Topic
	for i := range m.topics {
		name := NormalizeText(m.topics[i].Name)
		if name == key {
			return model.TopicMapping{
				Label:      label,
				TopicID:    m.topics[i].ID,
				Confidence: 1.0,
				Method:     model.MappingExact,
			}, true
		}
		if dist := fuzzy.LevenshteinDistance(key, name); dist < bestDist {
			bestDist = dist
			best = &m.topics[i]
		}
	}
	if best == nil {
		return model.TopicMapping{}, false
	}
	longer := len(key)
	if l := len(NormalizeText(best.Name)); l > longer {
		longer = l
	}
	confidence := 1.0
	if longer > 0 {
		confidence = 1.0 - float64(bestDist)/float64(longer)
	}
	if confidence < fuzzyMinConfidence {
		return model.TopicMapping{}, false
	}
	return model.TopicMapping{
		Label:      label,
		TopicID:    best.ID,
		Confidence: confidence,
		Method:     model.MappingFuzzy,
	}, true
}
