package roundtable

import "fmt"

// ValidateIntentSet checks the shape invariants of a proposed intent set: no
// member appears twice, intent kinds are known, and challenge/support targets
// pass the supplied member check. Selection-count limits are enforced at
// persistence time, not here.
func ValidateIntentSet(intents []IntentInput, validMember func(string) bool) error {
	seen := make(map[string]struct{}, len(intents))
	for _, in := range intents {
		if in.MemberID == "" {
			return Errorf(KindNotFound, "intent is missing a member id")
		}
		if _, dup := seen[in.MemberID]; dup {
			return Errorf(KindDuplicateMember, "duplicate intent for member %s", in.MemberID)
		}
		seen[in.MemberID] = struct{}{}

		if !ValidIntentKind(in.Kind) {
			return fmt.Errorf("unknown intent %q for member %s", in.Kind, in.MemberID)
		}
		if validMember != nil && !validMember(in.MemberID) {
			return Errorf(KindNotFound, "member %s is not an active member", in.MemberID)
		}
		if in.TargetMemberID != "" {
			if in.Kind != IntentChallenge && in.Kind != IntentSupport {
				return Errorf(KindInvalidTarget, "intent %s for member %s does not take a target", in.Kind, in.MemberID)
			}
			if validMember != nil && !validMember(in.TargetMemberID) {
				return Errorf(KindInvalidTarget, "target member %s is not a valid member", in.TargetMemberID)
			}
		}
	}
	return nil
}
