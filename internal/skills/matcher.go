package skills

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wisty/jimi/internal/models"
)

// DefaultScoreThreshold and DefaultMaxSkills are spec.md §4.6's default
// gating parameters.
const (
	DefaultScoreThreshold = 30
	DefaultMaxSkills      = 5
)

// MatcherConfig tunes the scorer's thresholds and its result cache.
type MatcherConfig struct {
	ScoreThreshold int
	MaxSkills      int
	CacheSize      int
	CacheTTL       time.Duration
}

func (c MatcherConfig) withDefaults() MatcherConfig {
	if c.ScoreThreshold <= 0 {
		c.ScoreThreshold = DefaultScoreThreshold
	}
	if c.MaxSkills <= 0 {
		c.MaxSkills = DefaultMaxSkills
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 256
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	return c
}

var wordPattern = regexp.MustCompile(`[a-z0-9]+`)

// Matcher scores SkillSpecs against the latest user input and selects
// the ones to inject, per spec §4.6's exact scoring rule. Results are
// cached (LRU, TTL) keyed by the hashed input text, grounded on the
// teacher's internal/cache/dedupe.go DedupeCache shape.
type Matcher struct {
	cfg    MatcherConfig
	mu     sync.Mutex
	cache  map[string]cacheEntry
	order  []string // least recently used first, for LRU eviction
}

type cacheEntry struct {
	result   []models.SkillSpec
	storedAt time.Time
}

// NewMatcher builds a Matcher with the given configuration.
func NewMatcher(cfg MatcherConfig) *Matcher {
	cfg = cfg.withDefaults()
	return &Matcher{
		cfg:   cfg,
		cache: make(map[string]cacheEntry),
	}
}

// Match scores every candidate skill whose Scope is in activeScopes
// against userInput and returns the selected subset, sorted by
// descending score, thresholded and capped per spec §4.6.
func (m *Matcher) Match(candidates []models.SkillSpec, activeScopes map[models.SkillScope]bool, userInput string) []models.SkillSpec {
	key := cacheKey(userInput)
	if cached, ok := m.lookupCache(key); ok {
		return cached
	}

	words := wordSet(userInput)
	lowerInput := strings.ToLower(userInput)

	type scored struct {
		spec  models.SkillSpec
		score int
	}
	var results []scored

	for _, s := range candidates {
		if activeScopes != nil && !activeScopes[s.Scope] {
			continue
		}
		score := scoreSkill(s, words, lowerInput)
		if score >= m.cfg.ScoreThreshold {
			results = append(results, scored{spec: s, score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	if len(results) > m.cfg.MaxSkills {
		results = results[:m.cfg.MaxSkills]
	}

	out := make([]models.SkillSpec, len(results))
	for i, r := range results {
		out[i] = r.spec
	}

	m.storeCache(key, out)
	return out
}

// scoreSkill implements spec §4.6's exact rule: +50 if any trigger
// exactly equals an input word, +40 skill name appears in input, +30 if
// any trigger is a substring of the input, +10 per keyword appearing in
// the description.
func scoreSkill(s models.SkillSpec, words map[string]bool, lowerInput string) int {
	score := 0

	exactHit, substringHit := false, false
	for _, trig := range s.Triggers {
		t := strings.ToLower(strings.TrimSpace(trig))
		if t == "" {
			continue
		}
		if words[t] {
			exactHit = true
		}
		if strings.Contains(lowerInput, t) {
			substringHit = true
		}
	}
	if exactHit {
		score += 50
	}
	if substringHit {
		score += 30
	}

	if s.Name != "" && strings.Contains(lowerInput, strings.ToLower(s.Name)) {
		score += 40
	}

	descWords := wordSet(s.Description)
	for w := range words {
		if descWords[w] {
			score += 10
		}
	}

	return score
}

// wordSet lowercases text and extracts its set of alphanumeric words.
func wordSet(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		out[w] = true
	}
	return out
}

func cacheKey(userInput string) string {
	sum := sha256.Sum256([]byte(userInput))
	return hex.EncodeToString(sum[:])
}

func (m *Matcher) lookupCache(key string) ([]models.SkillSpec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.cache[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.storedAt) > m.cfg.CacheTTL {
		delete(m.cache, key)
		m.removeOrder(key)
		return nil, false
	}
	m.touchOrder(key)
	return entry.result, true
}

func (m *Matcher) storeCache(key string, result []models.SkillSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.cache[key]; !exists {
		m.order = append(m.order, key)
	}
	m.cache[key] = cacheEntry{result: result, storedAt: time.Now()}

	for len(m.order) > m.cfg.CacheSize {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.cache, oldest)
	}
}

func (m *Matcher) touchOrder(key string) {
	m.removeOrder(key)
	m.order = append(m.order, key)
}

func (m *Matcher) removeOrder(key string) {
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}
