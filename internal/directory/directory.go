// Package directory stores conversations, members, and conversation
// participation. It supplies the roundtable engine with its conversation
// metadata and active member rosters.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/farzinnasiri/the-council-sub001/internal/roundtable"
)

// ConversationKind distinguishes multi-persona halls from single-persona
// chambers. Only halls host a roundtable.
type ConversationKind string

const (
	KindHall    ConversationKind = "hall"
	KindChamber ConversationKind = "chamber"
)

type Conversation struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Title     string           `json:"title"`
	Kind      ConversationKind `json:"kind"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type Member struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Persona   string    `json:"persona,omitempty"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS members (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			persona TEXT NOT NULL DEFAULT '',
			archived INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS participants (
			conversation_id TEXT NOT NULL,
			member_id TEXT NOT NULL,
			joined_at TEXT NOT NULL,
			PRIMARY KEY(conversation_id, member_id)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTimeOrZero(input string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, input)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *Store) CreateConversation(ctx context.Context, userID, title string, kind ConversationKind) (*Conversation, error) {
	if kind != KindHall && kind != KindChamber {
		return nil, roundtable.Errorf(roundtable.KindInvalidState, "unknown conversation kind %q", kind)
	}
	now := nowRFC3339()
	conv := &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     strings.TrimSpace(title),
		Kind:      kind,
		CreatedAt: parseTimeOrZero(now),
		UpdatedAt: parseTimeOrZero(now),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations(id,user_id,title,kind,created_at,updated_at) VALUES(?,?,?,?,?,?)`,
		conv.ID, conv.UserID, conv.Title, conv.Kind, now, now,
	)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, kind, created_at, updated_at FROM conversations WHERE id=?`, id,
	).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.Kind, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, roundtable.Errorf(roundtable.KindNotFound, "conversation %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	conv.CreatedAt = parseTimeOrZero(created)
	conv.UpdatedAt = parseTimeOrZero(updated)
	return &conv, nil
}

func (s *Store) CreateMember(ctx context.Context, userID, name, persona string) (*Member, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, roundtable.Errorf(roundtable.KindInvalidState, "member name is required")
	}
	now := nowRFC3339()
	member := &Member{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Persona:   persona,
		CreatedAt: parseTimeOrZero(now),
		UpdatedAt: parseTimeOrZero(now),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO members(id,user_id,name,persona,archived,created_at,updated_at) VALUES(?,?,?,?,0,?,?)`,
		member.ID, member.UserID, member.Name, member.Persona, now, now,
	)
	if err != nil {
		return nil, err
	}
	return member, nil
}

func (s *Store) GetMember(ctx context.Context, id string) (*Member, error) {
	var m Member
	var archived int
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, persona, archived, created_at, updated_at FROM members WHERE id=?`, id,
	).Scan(&m.ID, &m.UserID, &m.Name, &m.Persona, &archived, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, roundtable.Errorf(roundtable.KindNotFound, "member %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	m.Archived = archived == 1
	m.CreatedAt = parseTimeOrZero(created)
	m.UpdatedAt = parseTimeOrZero(updated)
	return &m, nil
}

func (s *Store) ListMembers(ctx context.Context, userID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, persona, archived, created_at, updated_at FROM members WHERE user_id=? ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Member{}
	for rows.Next() {
		var m Member
		var archived int
		var created, updated string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Name, &m.Persona, &archived, &created, &updated); err != nil {
			return nil, err
		}
		m.Archived = archived == 1
		m.CreatedAt = parseTimeOrZero(created)
		m.UpdatedAt = parseTimeOrZero(updated)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ArchiveMember soft-deletes a member, removing it from every active roster.
func (s *Store) ArchiveMember(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE members SET archived=1, updated_at=? WHERE id=?`,
		nowRFC3339(), id,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return roundtable.Errorf(roundtable.KindNotFound, "member %s not found", id)
	}
	return nil
}

// AddParticipant adds a member to a conversation's roster. Adding the same
// member twice is a no-op.
func (s *Store) AddParticipant(ctx context.Context, conversationID, memberID string) error {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return err
	}
	member, err := s.GetMember(ctx, memberID)
	if err != nil {
		return err
	}
	if member.Archived {
		return roundtable.Errorf(roundtable.KindInvalidState, "member %s is archived", memberID)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO participants(conversation_id,member_id,joined_at) VALUES(?,?,?)`,
		conversationID, memberID, nowRFC3339(),
	)
	return err
}

// ActiveMemberIDs returns the conversation's non-archived participants in
// join order.
func (s *Store) ActiveMemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.member_id FROM participants p
		 JOIN members m ON m.id = p.member_id
		 WHERE p.conversation_id=? AND m.archived=0
		 ORDER BY p.rowid`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// MemberActive reports whether the member belongs to the user and is not
// archived.
func (s *Store) MemberActive(ctx context.Context, userID, memberID string) (bool, error) {
	var archived int
	err := s.db.QueryRowContext(ctx,
		`SELECT archived FROM members WHERE id=? AND user_id=?`, memberID, userID,
	).Scan(&archived)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return archived == 0, nil
}

// ConversationInfo implements roundtable.Directory.
func (s *Store) ConversationInfo(ctx context.Context, conversationID string) (roundtable.ConversationInfo, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return roundtable.ConversationInfo{}, err
	}
	return roundtable.ConversationInfo{UserID: conv.UserID, Hall: conv.Kind == KindHall}, nil
}
