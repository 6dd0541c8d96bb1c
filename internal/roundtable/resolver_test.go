package roundtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveResponders_MentionNarrows(t *testing.T) {
	active := []string{"A", "B", "C"}

	got := ResolveResponders(active, []string{"B", "D"})
	assert.Equal(t, []string{"B"}, got, "inactive mentions must be dropped")
}

func TestResolveResponders_NoMentionsReturnsFullRoster(t *testing.T) {
	active := []string{"A", "B", "C"}

	assert.Equal(t, active, ResolveResponders(active, nil))
	assert.Equal(t, active, ResolveResponders(active, []string{}))
}

func TestResolveResponders_OnlyInactiveMentionsFallBack(t *testing.T) {
	active := []string{"A", "B", "C"}

	got := ResolveResponders(active, []string{"D"})
	assert.Equal(t, active, got)
}

func TestResolveResponders_DedupesPreservingFirstMentionOrder(t *testing.T) {
	active := []string{"A", "B", "C"}

	got := ResolveResponders(active, []string{"C", "A", "C", "A"})
	assert.Equal(t, []string{"C", "A"}, got)
}

func TestResolveResponders_ResultDoesNotAliasInput(t *testing.T) {
	active := []string{"A", "B"}

	got := ResolveResponders(active, nil)
	got[0] = "mutated"
	assert.Equal(t, "A", active[0])
}
