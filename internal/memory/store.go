package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// Store persists user profiles and memory entries in SQLite. Writes for the
// same user are serialized by the scheduler; the store mutex covers writes
// across different users.
type Store struct {
	db      *sql.DB
	mu      sync.Mutex
	entropy *rand.Rand
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			age INTEGER NOT NULL DEFAULT 0,
			interests TEXT NOT NULL DEFAULT '[]',
			home TEXT NOT NULL DEFAULT '',
			occupation TEXT NOT NULL DEFAULT '',
			conversation_preferences TEXT NOT NULL DEFAULT '[]',
			personality_traits TEXT NOT NULL DEFAULT '[]',
			work_context TEXT NOT NULL DEFAULT '',
			communication_style TEXT NOT NULL DEFAULT '',
			timezone TEXT NOT NULL DEFAULT '',
			language_preference TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now')),
			is_active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS user_memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			importance INTEGER NOT NULL DEFAULT 5,
			tags TEXT NOT NULL DEFAULT '[]',
			source_chat_id TEXT NOT NULL DEFAULT '',
			source_message_id TEXT NOT NULL DEFAULT '',
			chat_type TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now')),
			is_active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user ON user_memories(user_id, is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user_type ON user_memories(user_id, memory_type)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user_importance ON user_memories(user_id, importance)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// UpsertProfile applies a merge-patch to the user's profile, creating the row
// on first write. Nil or empty patch fields leave stored values untouched.
func (s *Store) UpsertProfile(userID string, patch *ProfilePatch) error {
	if patch == nil || patch.IsEmpty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert profile: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanProfileRow(tx.QueryRow(profileSelectSQL+` WHERE user_id = ?`, userID))
	switch {
	case err == sql.ErrNoRows:
		existing = &UserProfile{UserID: userID, IsActive: true}
	case err != nil:
		return fmt.Errorf("load profile for patch: %w", err)
	}

	applyPatch(existing, patch)

	_, err = tx.Exec(`
		INSERT INTO user_profiles (
			user_id, name, age, interests, home, occupation,
			conversation_preferences, personality_traits, work_context,
			communication_style, timezone, language_preference, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(user_id) DO UPDATE SET
			name = excluded.name,
			age = excluded.age,
			interests = excluded.interests,
			home = excluded.home,
			occupation = excluded.occupation,
			conversation_preferences = excluded.conversation_preferences,
			personality_traits = excluded.personality_traits,
			work_context = excluded.work_context,
			communication_style = excluded.communication_style,
			timezone = excluded.timezone,
			language_preference = excluded.language_preference,
			is_active = 1,
			updated_at = datetime('now')
	`,
		userID, existing.Name, existing.Age, marshalList(existing.Interests),
		existing.Home, existing.Occupation, marshalList(existing.ConversationPrefs),
		marshalList(existing.PersonalityTraits), existing.WorkContext,
		existing.CommunicationStyle, existing.Timezone, existing.LanguagePreference,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert profile: %w", err)
	}
	return nil
}

func applyPatch(p *UserProfile, patch *ProfilePatch) {
	setStr := func(dst *string, src *string) {
		if src != nil && strings.TrimSpace(*src) != "" {
			*dst = strings.TrimSpace(*src)
		}
	}
	setStr(&p.Name, patch.Name)
	if patch.Age != nil && *patch.Age > 0 {
		p.Age = *patch.Age
	}
	if len(patch.Interests) > 0 {
		p.Interests = patch.Interests
	}
	setStr(&p.Home, patch.Home)
	setStr(&p.Occupation, patch.Occupation)
	if len(patch.ConversationPrefs) > 0 {
		p.ConversationPrefs = patch.ConversationPrefs
	}
	if len(patch.PersonalityTraits) > 0 {
		p.PersonalityTraits = patch.PersonalityTraits
	}
	setStr(&p.WorkContext, patch.WorkContext)
	setStr(&p.CommunicationStyle, patch.CommunicationStyle)
	setStr(&p.Timezone, patch.Timezone)
	setStr(&p.LanguagePreference, patch.LanguagePreference)
}

const profileSelectSQL = `
	SELECT user_id, name, age, interests, home, occupation,
	       conversation_preferences, personality_traits, work_context,
	       communication_style, timezone, language_preference,
	       created_at, updated_at, is_active
	FROM user_profiles`

// GetProfile returns the active profile, or ErrProfileNotFound.
func (s *Store) GetProfile(userID string) (*UserProfile, error) {
	p, err := scanProfileRow(s.db.QueryRow(profileSelectSQL+` WHERE user_id = ? AND is_active = 1`, userID))
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfileRow(row rowScanner) (*UserProfile, error) {
	var p UserProfile
	var interests, prefs, traits string
	var createdAt, updatedAt string
	var active int
	err := row.Scan(
		&p.UserID, &p.Name, &p.Age, &interests, &p.Home, &p.Occupation,
		&prefs, &traits, &p.WorkContext, &p.CommunicationStyle,
		&p.Timezone, &p.LanguagePreference, &createdAt, &updatedAt, &active,
	)
	if err != nil {
		return nil, err
	}
	p.Interests = unmarshalList(interests)
	p.ConversationPrefs = unmarshalList(prefs)
	p.PersonalityTraits = unmarshalList(traits)
	p.CreatedAt = parseStoredTime(createdAt)
	p.UpdatedAt = parseStoredTime(updatedAt)
	p.IsActive = active == 1
	return &p, nil
}

// InsertMemories appends new active entries. An active entry with the same
// (user_id, memory_type, content) is refreshed in place instead of duplicated.
func (s *Store) InsertMemories(userID string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert memories: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		var existingID string
		err := tx.QueryRow(`
			SELECT id FROM user_memories
			WHERE user_id = ? AND memory_type = ? AND content = ? AND is_active = 1
		`, userID, e.MemoryType, e.Content).Scan(&existingID)

		switch {
		case err == nil:
			_, err = tx.Exec(`
				UPDATE user_memories
				SET context = ?, importance = ?, tags = ?,
				    source_chat_id = ?, source_message_id = ?, chat_type = ?,
				    updated_at = datetime('now')
				WHERE id = ?
			`, e.Context, e.Importance, marshalList(e.Tags),
				e.SourceChatID, e.SourceMessageID, e.ChatType, existingID)
			if err != nil {
				return fmt.Errorf("refresh memory: %w", err)
			}
		case err == sql.ErrNoRows:
			id := e.ID
			if id == "" {
				id = s.newID()
			}
			_, err = tx.Exec(`
				INSERT INTO user_memories (
					id, user_id, memory_type, context, content, importance,
					tags, source_chat_id, source_message_id, chat_type, is_active
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
			`, id, userID, e.MemoryType, e.Context, e.Content, e.Importance,
				marshalList(e.Tags), e.SourceChatID, e.SourceMessageID, e.ChatType)
			if err != nil {
				return fmt.Errorf("insert memory: %w", err)
			}
		default:
			return fmt.Errorf("check existing memory: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert memories: %w", err)
	}
	return nil
}

const memorySelectSQL = `
	SELECT id, user_id, memory_type, context, content, importance, tags,
	       source_chat_id, source_message_id, chat_type,
	       created_at, updated_at, is_active
	FROM user_memories`

// ListMemories returns entries for a user, filtered and ordered by importance
// descending with most recently updated first.
func (s *Store) ListMemories(userID string, f ListFilter) ([]Entry, error) {
	q := memorySelectSQL + ` WHERE user_id = ?`
	args := []any{userID}

	if f.ActiveOnly {
		q += ` AND is_active = 1`
	}
	if f.MinImportance > 0 {
		q += ` AND importance >= ?`
		args = append(args, f.MinImportance)
	}
	if len(f.Types) > 0 {
		q += ` AND memory_type IN (` + placeholders(len(f.Types)) + `)`
		for _, t := range f.Types {
			args = append(args, t)
		}
	}
	q += ` ORDER BY importance DESC, updated_at DESC, id ASC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// DeactivateMemory marks one entry inactive, preserving it for audit history.
func (s *Store) DeactivateMemory(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		UPDATE user_memories SET is_active = 0, updated_at = datetime('now') WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("deactivate memory: %w", err)
	}
	return nil
}

// DeleteUserData removes the profile and all memory entries for a user in one
// transaction.
func (s *Store) DeleteUserData(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete user data: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM user_profiles WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM user_memories WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete memories: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete user data: %w", err)
	}
	return nil
}

// ExpireMemories deactivates active entries last touched before cutoff whose
// importance is at or below maxImportance. Returns the number deactivated.
func (s *Store) ExpireMemories(cutoff time.Time, maxImportance int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE user_memories
		SET is_active = 0, updated_at = datetime('now')
		WHERE is_active = 1 AND importance <= ? AND updated_at < ?
	`, maxImportance, cutoff.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("expire memories: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire memories rows: %w", err)
	}
	return n, nil
}

// UserStats reports profile presence and per-type memory counts.
func (s *Store) UserStats(userID string) (*Stats, error) {
	stats := &Stats{UserID: userID, TypeCounts: make(map[string]int)}

	var one int
	err := s.db.QueryRow(`
		SELECT 1 FROM user_profiles WHERE user_id = ? AND is_active = 1
	`, userID).Scan(&one)
	switch {
	case err == nil:
		stats.HasProfile = true
	case err != sql.ErrNoRows:
		return nil, fmt.Errorf("stats profile: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT memory_type, COUNT(*) FROM user_memories
		WHERE user_id = ? AND is_active = 1
		GROUP BY memory_type
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("stats memories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var typ string
		var count int
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.TypeCounts[typ] = count
		stats.TotalMemories += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	result := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var tags, createdAt, updatedAt string
		var active int
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.MemoryType, &e.Context, &e.Content,
			&e.Importance, &tags, &e.SourceChatID, &e.SourceMessageID,
			&e.ChatType, &createdAt, &updatedAt, &active,
		); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		e.Tags = unmarshalList(tags)
		e.CreatedAt = parseStoredTime(createdAt)
		e.UpdatedAt = parseStoredTime(updatedAt)
		e.IsActive = active == 1
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return result, nil
}

func marshalList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalList(data string) []string {
	if strings.TrimSpace(data) == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil
	}
	return list
}

func parseStoredTime(value string) time.Time {
	layouts := []string{"2006-01-02 15:04:05", time.RFC3339}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = "?"
	}
	return strings.Join(parts, ",")
}
