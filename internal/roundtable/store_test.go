package roundtable

import (
	"context"
	"database/sql"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farzinnasiri/the-council-sub001/internal/storage"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "hall.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := NewStore(db)
	require.NoError(t, err)
	return store, db
}

func speakIntents(members ...string) []IntentInput {
	out := make([]IntentInput, 0, len(members))
	for _, id := range members {
		out = append(out, IntentInput{MemberID: id, Kind: IntentSpeak})
	}
	return out
}

func TestCreateRound_NumbersAreContiguousFromOne(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		state, err := store.CreateRound(ctx, "u1", "conv", TriggerUserMessage, "", 2, speakIntents("A", "B"))
		require.NoError(t, err)
		assert.Equal(t, want, state.Round.RoundNumber)
		assert.Equal(t, StatusAwaitingUser, state.Round.Status)
	}
}

func TestCreateRound_SupersedesActivePredecessors(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.CreateRound(ctx, "u1", "conv", TriggerUserMessage, "", 1, speakIntents("A"))
	require.NoError(t, err)

	_, err = store.MarkInProgress(ctx, "conv", first.Round.RoundNumber)
	require.NoError(t, err)

	second, err := store.CreateRound(ctx, "u1", "conv", TriggerContinue, "", 1, speakIntents("A"))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Round.RoundNumber)

	old, err := store.Round(ctx, "conv", 1)
	require.NoError(t, err)
	assert.Equal(t, StatusSuperseded, old.Round.Status)
}

func TestCreateRound_CompletedRoundIsNotSuperseded(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateRound(ctx, "u1", "conv", TriggerUserMessage, "", 1, speakIntents("A"))
	require.NoError(t, err)
	_, err = store.MarkCompleted(ctx, "conv", 1)
	require.NoError(t, err)

	_, err = store.CreateRound(ctx, "u1", "conv", TriggerContinue, "", 1, speakIntents("A"))
	require.NoError(t, err)

	done, err := store.Round(ctx, "conv", 1)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Round.Status, "completed history must be preserved")

	latest, err := store.Latest(ctx, "conv")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Round.RoundNumber)
}

func TestCreateRound_OneIntentRowPerInput(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	inputs := []IntentInput{
		{MemberID: "A", Kind: IntentSpeak, Rationale: "has data"},
		{MemberID: "B", Kind: IntentChallenge, TargetMemberID: "A"},
		{MemberID: "C", Kind: IntentPass},
	}
	state, err := store.CreateRound(ctx, "u1", "conv", TriggerUserMessage, "msg-1", 2, inputs)
	require.NoError(t, err)
	require.Len(t, state.Intents, 3)

	byMember := map[string]Intent{}
	for _, in := range state.Intents {
		byMember[in.MemberID] = in
	}
	assert.Equal(t, IntentChallenge, byMember["B"].Kind)
	assert.Equal(t, "A", byMember["B"].TargetMemberID)
	assert.Equal(t, "has data", byMember["A"].Rationale)
	assert.Equal(t, 1, byMember["C"].RoundNumber)
	assert.Equal(t, "msg-1", state.Round.TriggerMessageID)
	for _, in := range state.Intents {
		assert.Equal(t, SourceIntentDefault, in.Source)
		assert.False(t, in.Selected)
	}
}

func TestCreateRound_ClampsMaxSpeakers(t *testing.T) {
	store, _ := newTestStore(t)

	state, err := store.CreateRound(context.Background(), "u1", "conv", TriggerUserMessage, "", 0, speakIntents("A"))
	require.NoError(t, err)
	assert.Equal(t, 1, state.Round.MaxSpeakers)
}

func TestCreateRound_SelectedCountCappedUpFront(t *testing.T) {
	store, _ := newTestStore(t)

	inputs := []IntentInput{
		{MemberID: "A", Kind: IntentSpeak, Selected: true, Source: SourceMention},
		{MemberID: "B", Kind: IntentSpeak, Selected: true, Source: SourceMention},
	}
	_, err := store.CreateRound(context.Background(), "u1", "conv", TriggerUserMessage, "", 1, inputs)
	require.Error(t, err)
	assert.Equal(t, KindLimitExceeded, KindOf(err))
}

func TestCreateRound_DuplicateMemberRejected(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.CreateRound(context.Background(), "u1", "conv", TriggerUserMessage, "", 1, speakIntents("A", "A"))
	require.Error(t, err)
	assert.Equal(t, KindDuplicateMember, KindOf(err))
}

func TestLatest_NoRoundsYet(t *testing.T) {
	store, _ := newTestStore(t)

	state, err := store.Latest(context.Background(), "conv")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestLatest_IsStableWithoutWrites(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateRound(ctx, "u1", "conv", TriggerUserMessage, "", 2, speakIntents("A", "B"))
	require.NoError(t, err)

	first, err := store.Latest(ctx, "conv")
	require.NoError(t, err)
	second, err := store.Latest(ctx, "conv")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSetSelections_Scenario(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateRound(ctx, "u1", "conv", TriggerUserMessage, "", 1, speakIntents("A", "B"))
	require.NoError(t, err)

	_, err = store.SetSelections(ctx, "conv", 1, []string{"A", "B"})
	require.Error(t, err)
	assert.Equal(t, KindLimitExceeded, KindOf(err))

	state, err := store.SetSelections(ctx, "conv", 1, []string{"A"})
	require.NoError(t, err)
	byMember := map[string]Intent{}
	for _, in := range state.Intents {
		byMember[in.MemberID] = in
	}
	assert.True(t, byMember["A"].Selected)
	assert.False(t, byMember["B"].Selected)
	assert.Equal(t, SourceUserManual, byMember["A"].Source)
	assert.Equal(t, SourceUserManual, byMember["B"].Source)
}

func TestSetSelections_FullReplaceUnselectsOmitted(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateRound(ctx, "u1", "conv", TriggerUserMessage, "", 1, speakIntents("A", "B"))
	require.NoError(t, err)

	_, err = store.SetSelections(ctx, "conv", 1, []string{"A"})
	require.NoError(t, err)

	state, err := store.SetSelections(ctx, "conv", 1, []string{"B"})
	require.NoError(t, err)
	byMember := map[string]Intent{}
	for _, in := range state.Intents {
		byMember[in.MemberID] = in
	}
	assert.False(t, byMember["A"].Selected)
	assert.True(t, byMember["B"].Selected)
}

func TestSetSelections_DedupesRequestedIDs(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateRound(ctx, "u1", "conv", TriggerUserMessage, "", 1, speakIntents("A", "B"))
	require.NoError(t, err)

	state, err := store.SetSelections(ctx, "conv", 1, []string{"A", "A"})
	require.NoError(t, err)
	selected := 0
	for _, in := range state.Intents {
		if in.Selected {
			selected++
		}
	}
	assert.Equal(t, 1, selected)
}

func TestSetSelections_NotEligible(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateRound(ctx, "u1", "conv", TriggerUserMessage, "", 2, speakIntents("A", "B"))
	require.NoError(t, err)

	_, err = store.SetSelections(ctx, "conv", 1, []string{"C"})
	require.Error(t, err)
	assert.Equal(t, KindNotEligible, KindOf(err))
}

func TestSetSelections_RoundNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.SetSelections(context.Background(), "conv", 9, []string{"A"})
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestSetSelections_RejectedOutsideAwaitingUserAndLeavesRowsUntouched(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateRound(ctx, "u1", "conv", TriggerUserMessage, "", 2, speakIntents("A", "B"))
	require.NoError(t, err)
	before, err := store.Round(ctx, "conv", 1)
	require.NoError(t, err)

	_, err = store.MarkInProgress(ctx, "conv", 1)
	require.NoError(t, err)

	_, err = store.SetSelections(ctx, "conv", 1, []string{"A"})
	require.Error(t, err)
	assert.Equal(t, KindInvalidState, KindOf(err))

	after, err := store.Round(ctx, "conv", 1)
	require.NoError(t, err)
	assert.Equal(t, before.Intents, after.Intents)
}

func TestTransitions(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// awaiting_user -> in_progress -> completed
	_, err := store.CreateRound(ctx, "u1", "conv", TriggerUserMessage, "", 1, speakIntents("A"))
	require.NoError(t, err)
	state, err := store.MarkInProgress(ctx, "conv", 1)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, state.Round.Status)
	state, err = store.MarkCompleted(ctx, "conv", 1)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Round.Status)

	// begin on a completed round
	_, err = store.MarkInProgress(ctx, "conv", 1)
	require.Error(t, err)
	assert.Equal(t, KindInvalidState, KindOf(err))

	// completing straight from awaiting_user is allowed
	_, err = store.CreateRound(ctx, "u1", "conv", TriggerContinue, "", 1, speakIntents("A"))
	require.NoError(t, err)
	_, err = store.MarkCompleted(ctx, "conv", 2)
	require.NoError(t, err)

	// a superseded round is terminal
	_, err = store.CreateRound(ctx, "u1", "conv", TriggerContinue, "", 1, speakIntents("A"))
	require.NoError(t, err)
	_, err = store.CreateRound(ctx, "u1", "conv", TriggerContinue, "", 1, speakIntents("A"))
	require.NoError(t, err)
	_, err = store.MarkCompleted(ctx, "conv", 3)
	require.Error(t, err)
	assert.Equal(t, KindInvalidState, KindOf(err))
	_, err = store.MarkInProgress(ctx, "conv", 3)
	require.Error(t, err)
	assert.Equal(t, KindInvalidState, KindOf(err))
}

func TestMarkInProgress_RoundNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.MarkInProgress(context.Background(), "conv", 1)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestCreateRound_ConcurrentCallsKeepNumbersStrictlyIncreasing(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreateRound(ctx, "u1", "conv", TriggerContinue, "", 1, speakIntents("A"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rows, err := db.Query(`SELECT round_number, status FROM rounds WHERE conversation_id=?`, "conv")
	require.NoError(t, err)
	defer rows.Close()

	var numbers []int
	active := 0
	for rows.Next() {
		var number int
		var status string
		require.NoError(t, rows.Scan(&number, &status))
		numbers = append(numbers, number)
		if status != string(StatusSuperseded) {
			active++
		}
	}
	require.NoError(t, rows.Err())

	sort.Ints(numbers)
	require.Len(t, numbers, workers)
	for i, n := range numbers {
		assert.Equal(t, i+1, n, "round numbers must be contiguous with no duplicates")
	}
	assert.Equal(t, 1, active, "exactly one round may be non-superseded")
}
