package memory

import (
	"fmt"
	"strings"
)

const contextSnippetRunes = 50

// FormatUserContext renders a profile and ranked memories into the text block
// injected ahead of reply generation. Sections with no data are omitted; a
// nil profile with no memories yields an empty string. Pure function.
func FormatUserContext(profile *UserProfile, memories []Entry) string {
	sections := make([]string, 0, 2)

	if profileSection := formatProfileSection(profile); profileSection != "" {
		sections = append(sections, profileSection)
	}
	if memorySection := formatMemorySection(memories); memorySection != "" {
		sections = append(sections, memorySection)
	}

	return strings.Join(sections, "\n\n")
}

func formatProfileSection(p *UserProfile) string {
	if p == nil {
		return ""
	}

	lines := make([]string, 0, 11)
	addLine := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			lines = append(lines, label+": "+value)
		}
	}

	addLine("Name", p.Name)
	if p.Age > 0 {
		lines = append(lines, fmt.Sprintf("Age: %d", p.Age))
	}
	addLine("Occupation", p.Occupation)
	addLine("Home", p.Home)
	addLine("Interests", strings.Join(p.Interests, ", "))
	addLine("Personality", strings.Join(p.PersonalityTraits, ", "))
	addLine("Communication style", p.CommunicationStyle)
	addLine("Conversation preferences", strings.Join(p.ConversationPrefs, ", "))
	addLine("Language preference", p.LanguagePreference)
	addLine("Work context", p.WorkContext)
	addLine("Timezone", p.Timezone)

	if len(lines) == 0 {
		return ""
	}
	return "## User Profile\n" + strings.Join(lines, "\n")
}

func formatMemorySection(memories []Entry) string {
	if len(memories) == 0 {
		return ""
	}

	lines := make([]string, 0, len(memories))
	for _, m := range memories {
		line := "[" + m.MemoryType + "] " + m.Content
		if snippet := truncateRunes(m.Context, contextSnippetRunes); snippet != "" {
			line += " (context: " + snippet + ")"
		}
		lines = append(lines, line)
	}
	return "## Relevant Memories\n" + strings.Join(lines, "\n")
}

func truncateRunes(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
