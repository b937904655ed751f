package memory

import (
	"regexp"
	"sort"
	"strings"
)

var (
	cnTokenRegex = regexp.MustCompile(`[\p{Han}]{2,}`)
	enTokenRegex = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_\-]{1,}`)
)

// tokenize splits a text into lowercase lexical tokens: CJK runs of two or
// more characters plus ASCII words.
func tokenize(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	tokens := make([]string, 0)
	seen := map[string]struct{}{}
	add := func(tok string) {
		if _, ok := seen[tok]; ok {
			return
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
	}

	for _, w := range cnTokenRegex.FindAllString(text, -1) {
		add(w)
	}
	for _, w := range enTokenRegex.FindAllString(strings.ToLower(text), -1) {
		add(w)
	}
	return tokens
}

// overlapScore counts query tokens that appear in the entry's content,
// context or tags, normalized by the query token count. Tag hits count a
// little extra since tags are curated.
func overlapScore(queryTokens []string, e Entry) float64 {
	if len(queryTokens) == 0 {
		return 0
	}

	haystack := strings.ToLower(e.Content + " " + e.Context)
	tagSet := make(map[string]struct{}, len(e.Tags))
	for _, tag := range e.Tags {
		tagSet[strings.ToLower(tag)] = struct{}{}
	}

	hits := 0.0
	for _, tok := range queryTokens {
		if strings.Contains(haystack, tok) {
			hits += 1.0
			continue
		}
		if _, ok := tagSet[tok]; ok {
			hits += 1.5
		}
	}
	return hits / float64(len(queryTokens))
}

// Ranker selects the memory entries most relevant to a query, bounded by a
// fixed maximum count.
type Ranker struct {
	store      *Store
	maxResults int
}

func NewRanker(store *Store, maxResults int) *Ranker {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Ranker{store: store, maxResults: maxResults}
}

// Rank filters to active entries at or above the importance threshold, scores
// them by lexical overlap with the query and returns the top entries ordered
// by score descending. Ties break by importance, then creation time, then ID,
// so the ordering is deterministic for fixed inputs.
func (r *Ranker) Rank(userID, query string, importanceThreshold int) ([]Entry, error) {
	entries, err := r.store.ListMemories(userID, ListFilter{
		MinImportance: importanceThreshold,
		ActiveOnly:    true,
	})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	queryTokens := tokenize(query)

	type scored struct {
		entry Entry
		score float64
	}
	candidates := make([]scored, 0, len(entries))
	for _, e := range entries {
		candidates = append(candidates, scored{entry: e, score: overlapScore(queryTokens, e)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].entry.Importance != candidates[j].entry.Importance {
			return candidates[i].entry.Importance > candidates[j].entry.Importance
		}
		if !candidates[i].entry.CreatedAt.Equal(candidates[j].entry.CreatedAt) {
			return candidates[i].entry.CreatedAt.Before(candidates[j].entry.CreatedAt)
		}
		return candidates[i].entry.ID < candidates[j].entry.ID
	})

	if len(candidates) > r.maxResults {
		candidates = candidates[:r.maxResults]
	}

	result := make([]Entry, 0, len(candidates))
	for _, c := range candidates {
		result = append(result, c.entry)
	}
	return result, nil
}
