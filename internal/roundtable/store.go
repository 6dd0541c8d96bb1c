package roundtable

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

// Store persists rounds and their intent sets. Round creation supersedes the
// predecessor, inserts the new round, and inserts its intents as one
// transaction, additionally serialized per conversation so round numbers stay
// strictly increasing under concurrent triggers.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, locks: map[string]*sync.Mutex{}}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rounds (
			user_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			round_number INTEGER NOT NULL,
			status TEXT NOT NULL,
			trigger_kind TEXT NOT NULL,
			trigger_message_id TEXT NOT NULL DEFAULT '',
			max_speakers INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT NOT NULL,
			PRIMARY KEY(conversation_id, round_number)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rounds_conversation_status ON rounds(conversation_id, status);`,
		`CREATE TABLE IF NOT EXISTS round_intents (
			user_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			round_number INTEGER NOT NULL,
			member_id TEXT NOT NULL,
			intent TEXT NOT NULL,
			target_member_id TEXT NOT NULL DEFAULT '',
			rationale TEXT NOT NULL DEFAULT '',
			selected INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY(conversation_id, round_number, member_id)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// conversationLock returns the mutex serializing writes for one conversation.
func (s *Store) conversationLock(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[conversationID] = lock
	}
	return lock
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreateRound supersedes every awaiting_user/in_progress round of the
// conversation, inserts a new round numbered one past the highest existing
// number, and inserts one intent row per input, atomically. maxSpeakers is
// clamped to a minimum of 1.
func (s *Store) CreateRound(ctx context.Context, userID, conversationID string, trigger Trigger, triggerMessageID string, maxSpeakers int, intents []IntentInput) (_ *State, err error) {
	if maxSpeakers < 1 {
		maxSpeakers = 1
	}
	if err = ValidateIntentSet(intents, nil); err != nil {
		return nil, err
	}
	selected := 0
	for _, in := range intents {
		if in.Selected {
			selected++
		}
	}
	if selected > maxSpeakers {
		return nil, Errorf(KindLimitExceeded, "%d selected intents exceed the %d speaker cap", selected, maxSpeakers)
	}

	lock := s.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var last int
	if err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(round_number), 0) FROM rounds WHERE conversation_id=?`,
		conversationID,
	).Scan(&last); err != nil {
		return nil, err
	}
	next := last + 1

	now := nowRFC3339()
	if _, err = tx.ExecContext(ctx,
		`UPDATE rounds SET status=?, updated_at=? WHERE conversation_id=? AND status IN (?, ?)`,
		StatusSuperseded, now, conversationID, StatusAwaitingUser, StatusInProgress,
	); err != nil {
		return nil, err
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO rounds(user_id,conversation_id,round_number,status,trigger_kind,trigger_message_id,max_speakers,updated_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		userID, conversationID, next, StatusAwaitingUser, trigger, triggerMessageID, maxSpeakers, now,
	); err != nil {
		return nil, err
	}

	for _, in := range intents {
		source := in.Source
		if source == "" {
			source = SourceIntentDefault
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO round_intents(user_id,conversation_id,round_number,member_id,intent,target_member_id,rationale,selected,source,updated_at)
			 VALUES(?,?,?,?,?,?,?,?,?,?)`,
			userID, conversationID, next, in.MemberID, in.Kind, in.TargetMemberID, in.Rationale, boolToInt(in.Selected), source, now,
		); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return s.Round(ctx, conversationID, next)
}

// Round returns one round with its full intent set.
func (s *Store) Round(ctx context.Context, conversationID string, roundNumber int) (*State, error) {
	round, err := s.loadRound(ctx, conversationID, roundNumber)
	if err != nil {
		return nil, err
	}
	intents, err := s.loadIntents(ctx, conversationID, roundNumber)
	if err != nil {
		return nil, err
	}
	return &State{Round: round, Intents: intents}, nil
}

// Latest returns the most recent non-superseded round for the conversation,
// or nil when the conversation has no rounds yet. A completed round is never
// superseded, so the latest round may legitimately be completed.
func (s *Store) Latest(ctx context.Context, conversationID string) (*State, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, conversation_id, round_number, status, trigger_kind, trigger_message_id, max_speakers, updated_at
		 FROM rounds WHERE conversation_id=? AND status<>? ORDER BY round_number DESC LIMIT 1`,
		conversationID, StatusSuperseded,
	)
	round, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	intents, err := s.loadIntents(ctx, conversationID, round.RoundNumber)
	if err != nil {
		return nil, err
	}
	return &State{Round: round, Intents: intents}, nil
}

// SetSelections replaces the selected set of an awaiting_user round. The
// status is re-read inside the transaction, so a round that was concurrently
// superseded or advanced rejects the write instead of silently applying it.
// Every intent row is patched: selected = membership in the requested set,
// source = user_manual.
func (s *Store) SetSelections(ctx context.Context, conversationID string, roundNumber int, memberIDs []string) (_ *State, err error) {
	lock := s.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var status RoundStatus
	var maxSpeakers int
	err = tx.QueryRowContext(ctx,
		`SELECT status, max_speakers FROM rounds WHERE conversation_id=? AND round_number=?`,
		conversationID, roundNumber,
	).Scan(&status, &maxSpeakers)
	if errors.Is(err, sql.ErrNoRows) {
		err = Errorf(KindNotFound, "round %d not found for conversation %s", roundNumber, conversationID)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if status != StatusAwaitingUser {
		err = Errorf(KindInvalidState, "round %d is %s, selections can only change while awaiting the user", roundNumber, status)
		return nil, err
	}

	requested := make([]string, 0, len(memberIDs))
	requestedSet := make(map[string]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		if _, dup := requestedSet[id]; dup {
			continue
		}
		requestedSet[id] = struct{}{}
		requested = append(requested, id)
	}
	if len(requested) > maxSpeakers {
		err = Errorf(KindLimitExceeded, "%d selections exceed the %d speaker cap", len(requested), maxSpeakers)
		return nil, err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT member_id FROM round_intents WHERE conversation_id=? AND round_number=?`,
		conversationID, roundNumber,
	)
	if err != nil {
		return nil, err
	}
	eligible := map[string]struct{}{}
	var intentMembers []string
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		eligible[id] = struct{}{}
		intentMembers = append(intentMembers, id)
	}
	if err = rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, id := range requested {
		if _, ok := eligible[id]; !ok {
			err = Errorf(KindNotEligible, "member %s has no intent in round %d", id, roundNumber)
			return nil, err
		}
	}

	now := nowRFC3339()
	for _, id := range intentMembers {
		_, selected := requestedSet[id]
		if _, err = tx.ExecContext(ctx,
			`UPDATE round_intents SET selected=?, source=?, updated_at=?
			 WHERE conversation_id=? AND round_number=? AND member_id=?`,
			boolToInt(selected), SourceUserManual, now, conversationID, roundNumber, id,
		); err != nil {
			return nil, err
		}
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE rounds SET updated_at=? WHERE conversation_id=? AND round_number=?`,
		now, conversationID, roundNumber,
	); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return s.Round(ctx, conversationID, roundNumber)
}

// MarkInProgress moves an awaiting_user round to in_progress.
func (s *Store) MarkInProgress(ctx context.Context, conversationID string, roundNumber int) (*State, error) {
	return s.transition(ctx, conversationID, roundNumber, StatusInProgress)
}

// MarkCompleted moves a round to completed from awaiting_user or in_progress.
func (s *Store) MarkCompleted(ctx context.Context, conversationID string, roundNumber int) (*State, error) {
	return s.transition(ctx, conversationID, roundNumber, StatusCompleted)
}

func (s *Store) transition(ctx context.Context, conversationID string, roundNumber int, next RoundStatus) (_ *State, err error) {
	lock := s.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current RoundStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM rounds WHERE conversation_id=? AND round_number=?`,
		conversationID, roundNumber,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		err = Errorf(KindNotFound, "round %d not found for conversation %s", roundNumber, conversationID)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if !IsAllowedTransition(current, next) {
		err = Errorf(KindInvalidState, "round %d cannot move from %s to %s", roundNumber, current, next)
		return nil, err
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE rounds SET status=?, updated_at=? WHERE conversation_id=? AND round_number=?`,
		next, nowRFC3339(), conversationID, roundNumber,
	); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return s.Round(ctx, conversationID, roundNumber)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (Round, error) {
	var r Round
	var updated string
	if err := row.Scan(&r.UserID, &r.ConversationID, &r.RoundNumber, &r.Status, &r.Trigger, &r.TriggerMessageID, &r.MaxSpeakers, &updated); err != nil {
		return Round{}, err
	}
	r.UpdatedAt = parseTimeOrZero(updated)
	return r, nil
}

func (s *Store) loadRound(ctx context.Context, conversationID string, roundNumber int) (Round, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, conversation_id, round_number, status, trigger_kind, trigger_message_id, max_speakers, updated_at
		 FROM rounds WHERE conversation_id=? AND round_number=?`,
		conversationID, roundNumber,
	)
	round, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Round{}, Errorf(KindNotFound, "round %d not found for conversation %s", roundNumber, conversationID)
	}
	return round, err
}

func (s *Store) loadIntents(ctx context.Context, conversationID string, roundNumber int) ([]Intent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, conversation_id, round_number, member_id, intent, target_member_id, rationale, selected, source, updated_at
		 FROM round_intents WHERE conversation_id=? AND round_number=? ORDER BY rowid`,
		conversationID, roundNumber,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Intent{}
	for rows.Next() {
		var item Intent
		var selected int
		var updated string
		if err := rows.Scan(&item.UserID, &item.ConversationID, &item.RoundNumber, &item.MemberID, &item.Kind, &item.TargetMemberID, &item.Rationale, &selected, &item.Source, &updated); err != nil {
			return nil, err
		}
		item.Selected = selected == 1
		item.UpdatedAt = parseTimeOrZero(updated)
		out = append(out, item)
	}
	return out, rows.Err()
}
