package memory

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Extractor turns a conversation transcript into a profile patch and a list
// of validated memory entries. Both outputs are computed fully in memory; no
// persistence happens here.
type Extractor struct {
	llm LLMClient
}

func NewExtractor(llm LLMClient) *Extractor {
	return &Extractor{llm: llm}
}

// Extract runs the two LLM calls against the transcript. The returned patch
// may be empty; the entries are validated (invalid types dropped, importance
// clamped). Errors wrap ErrExtractionFailed.
func (x *Extractor) Extract(ctx context.Context, userID, transcript string, currentProfile *UserProfile) (*ProfilePatch, []Entry, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, nil, fmt.Errorf("%w: empty transcript", ErrExtractionFailed)
	}

	patch, err := x.llm.ExtractProfile(ctx, formatProfileForPrompt(currentProfile), transcript)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	raw, err := x.llm.ExtractMemories(ctx, transcript)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	entries := validateEntries(userID, raw)
	return patch, entries, nil
}

// validateEntries enforces the closed type vocabulary and importance bounds.
// Entries with an unrecognized type or missing content are dropped and logged
// as parse anomalies; out-of-range importance is clamped.
func validateEntries(userID string, raw []Entry) []Entry {
	valid := make([]Entry, 0, len(raw))
	for _, e := range raw {
		e.MemoryType = strings.ToLower(strings.TrimSpace(e.MemoryType))
		e.Content = strings.TrimSpace(e.Content)
		e.Context = strings.TrimSpace(e.Context)

		if e.Content == "" {
			log.Printf("[memory] dropped entry for %s: empty content", userID)
			continue
		}
		if !ValidMemoryTypes[e.MemoryType] {
			log.Printf("[memory] dropped entry for %s: unknown memory type %q", userID, e.MemoryType)
			continue
		}
		if e.Importance == 0 {
			e.Importance = DefaultImportance
		}
		if e.Importance < MinImportance {
			e.Importance = MinImportance
		}
		if e.Importance > MaxImportance {
			e.Importance = MaxImportance
		}
		e.UserID = userID
		valid = append(valid, e)
	}
	return valid
}

// formatProfileForPrompt renders the current profile as prompt context for
// the profile-update call.
func formatProfileForPrompt(p *UserProfile) string {
	if p == nil {
		return ""
	}
	var sb strings.Builder
	writeLine := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			sb.WriteString(label)
			sb.WriteString(": ")
			sb.WriteString(value)
			sb.WriteString("\n")
		}
	}
	writeLine("name", p.Name)
	if p.Age > 0 {
		sb.WriteString(fmt.Sprintf("age: %d\n", p.Age))
	}
	writeLine("interests", strings.Join(p.Interests, ", "))
	writeLine("home", p.Home)
	writeLine("occupation", p.Occupation)
	writeLine("conversation preferences", strings.Join(p.ConversationPrefs, ", "))
	writeLine("personality traits", strings.Join(p.PersonalityTraits, ", "))
	writeLine("work context", p.WorkContext)
	writeLine("communication style", p.CommunicationStyle)
	writeLine("timezone", p.Timezone)
	writeLine("language preference", p.LanguagePreference)
	return strings.TrimSpace(sb.String())
}
