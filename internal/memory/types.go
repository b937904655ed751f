package memory

import "time"

// Memory type vocabulary. Entries with a type outside this set are rejected
// during extraction validation and never persisted.
const (
	TypePreference   = "preference"
	TypeExperience   = "experience"
	TypeSkill        = "skill"
	TypeRelationship = "relationship"
	TypeGoal         = "goal"
	TypeConcern      = "concern"
	TypeHabit        = "habit"
	TypeAchievement  = "achievement"
	TypeProject      = "project"
	TypeTool         = "tool"
)

// ValidMemoryTypes is the closed set of recognized memory types.
var ValidMemoryTypes = map[string]bool{
	TypePreference:   true,
	TypeExperience:   true,
	TypeSkill:        true,
	TypeRelationship: true,
	TypeGoal:         true,
	TypeConcern:      true,
	TypeHabit:        true,
	TypeAchievement:  true,
	TypeProject:      true,
	TypeTool:         true,
}

// Importance bounds for memory entries.
const (
	MinImportance     = 1
	MaxImportance     = 10
	DefaultImportance = 5
)

// UserProfile is the single evolving profile document per user.
type UserProfile struct {
	UserID             string
	Name               string
	Age                int
	Interests          []string
	Home               string
	Occupation         string
	ConversationPrefs  []string
	PersonalityTraits  []string
	WorkContext        string
	CommunicationStyle string
	Timezone           string
	LanguagePreference string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	IsActive           bool
}

// ProfilePatch is a partial profile update. Nil fields leave the stored value
// untouched; non-nil fields overwrite it. Empty strings and empty lists are
// treated as absent.
type ProfilePatch struct {
	Name               *string  `json:"user_name"`
	Age                *int     `json:"age"`
	Interests          []string `json:"interests"`
	Home               *string  `json:"home"`
	Occupation         *string  `json:"occupation"`
	ConversationPrefs  []string `json:"conversation_preferences"`
	PersonalityTraits  []string `json:"personality_traits"`
	WorkContext        *string  `json:"work_context"`
	CommunicationStyle *string  `json:"communication_style"`
	Timezone           *string  `json:"timezone"`
	LanguagePreference *string  `json:"language_preference"`
}

// IsEmpty reports whether the patch carries no usable field.
func (p *ProfilePatch) IsEmpty() bool {
	if p == nil {
		return true
	}
	hasStr := func(s *string) bool { return s != nil && *s != "" }
	return !hasStr(p.Name) &&
		(p.Age == nil || *p.Age <= 0) &&
		len(p.Interests) == 0 &&
		!hasStr(p.Home) &&
		!hasStr(p.Occupation) &&
		len(p.ConversationPrefs) == 0 &&
		len(p.PersonalityTraits) == 0 &&
		!hasStr(p.WorkContext) &&
		!hasStr(p.CommunicationStyle) &&
		!hasStr(p.Timezone) &&
		!hasStr(p.LanguagePreference)
}

// TurnSource identifies the conversation a turn happened in. Entries
// extracted from that turn carry it so stored memories stay attributable to
// their origin chat.
type TurnSource struct {
	ChatID    string
	MessageID string
	ChatType  string
}

// Entry is one discrete extracted fact.
type Entry struct {
	ID              string
	UserID          string
	MemoryType      string
	Context         string
	Content         string
	Importance      int
	Tags            []string
	SourceChatID    string
	SourceMessageID string
	ChatType        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	IsActive        bool
}

// ListFilter narrows ListMemories results.
type ListFilter struct {
	Types         []string
	MinImportance int
	ActiveOnly    bool
	Limit         int
}

// Stats is a compact per-user snapshot used by status reporting.
type Stats struct {
	UserID        string
	HasProfile    bool
	TotalMemories int
	TypeCounts    map[string]int
}
