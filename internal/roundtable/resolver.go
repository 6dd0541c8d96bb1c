package roundtable

// ResolveResponders computes the default responder set for a new round. An
// explicit mention narrows participation to the mentioned, still-active
// members, deduplicated in order of first mention. Without any active
// mention every active member is a candidate responder.
func ResolveResponders(activeMemberIDs, mentionedMemberIDs []string) []string {
	active := make(map[string]struct{}, len(activeMemberIDs))
	for _, id := range activeMemberIDs {
		active[id] = struct{}{}
	}

	seen := make(map[string]struct{}, len(mentionedMemberIDs))
	var mentioned []string
	for _, id := range mentionedMemberIDs {
		if _, ok := active[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		mentioned = append(mentioned, id)
	}
	if len(mentioned) > 0 {
		return mentioned
	}

	out := make([]string, len(activeMemberIDs))
	copy(out, activeMemberIDs)
	return out
}
