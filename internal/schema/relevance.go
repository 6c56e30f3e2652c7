package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// RelevanceSelector narrows a Summary down to the tables most likely to
// matter for one natural-language question, keeping prompts sent to the
// SQL generator small even against wide schemas. Selections are memoized
// per (database, normalized question, summary hash) so a bounded retry loop within one
// orchestrated request re-derives the same subset instantly instead of
// recomputing the bag-of-words match on every attempt.
type RelevanceSelector struct {
	cache *lru.Cache[string, []string]
}

// NewRelevanceSelector builds a selector with a bounded memoization cache.
func NewRelevanceSelector(size int) *RelevanceSelector {
	c, err := lru.New[string, []string](size)
	if err != nil {
		// Only returns an error for a non-positive size; fall back to a
		// minimal cache rather than propagating a constructor error for a
		// purely internal memoization detail.
		c, _ = lru.New[string, []string](1)
	}
	return &RelevanceSelector{cache: c}
}

var wordPattern = regexp.MustCompile(`[a-z0-9]+`)

func normalizeQuestion(question string) string {
	words := wordPattern.FindAllString(strings.ToLower(question), -1)
	sort.Strings(words)
	return strings.Join(words, " ")
}

func memoKey(database, normalized string) string {
	h := sha256.Sum256([]byte(database + "\x00" + normalized))
	return hex.EncodeToString(h[:])
}

// Select returns the qualified names of tables relevant to question,
// scored by how many of the question's words appear in the table or
// column names. If nothing scores above zero, every table is returned
// unfiltered so a narrow heuristic never hides the schema entirely.
func (r *RelevanceSelector) Select(s *Summary, question string) []string {
	normalized := normalizeQuestion(question)
	key := memoKey(s.Database, normalized)
	if cached, ok := r.cache.Get(key + s.Hash); ok {
		return cached
	}

	words := strings.Fields(normalized)
	wordSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		wordSet[w] = struct{}{}
	}

	type scored struct {
		name  string
		score int
	}
	var candidates []scored
	for name, t := range s.Tables {
		score := scoreTable(t, wordSet)
		if score > 0 {
			candidates = append(candidates, scored{name, score})
		}
	}

	var selected []string
	if len(candidates) == 0 {
		selected = s.TableNames()
	} else {
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].score != candidates[j].score {
				return candidates[i].score > candidates[j].score
			}
			return candidates[i].name < candidates[j].name
		})
		selected = make([]string, len(candidates))
		for i, c := range candidates {
			selected[i] = c.name
		}
	}

	r.cache.Add(key+s.Hash, selected)
	return selected
}

func scoreTable(t *Table, wordSet map[string]struct{}) int {
	score := 0
	for _, tok := range wordPattern.FindAllString(strings.ToLower(t.Name), -1) {
		if _, ok := wordSet[tok]; ok {
			score += 3
		}
	}
	for _, c := range t.Columns {
		for _, tok := range wordPattern.FindAllString(strings.ToLower(c.Name), -1) {
			if _, ok := wordSet[tok]; ok {
				score++
			}
		}
	}
	return score
}
