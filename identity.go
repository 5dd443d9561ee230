package pairchat

// ============================================================================
// Conversation identity
// ============================================================================

// conversationIDSeparator joins the two participant ids. Every component that
// addresses a conversation must go through ConversationID; a different
// separator or ordering would silently split one conversation into two.
const conversationIDSeparator = "_"

// ConversationID derives the deterministic conversation id for a pair of
// users: the lexicographically smaller id first, then the separator, then the
// larger. Both participants compute the same id before any message exists,
// which is what lets either side address a conversation the backend has not
// created yet.
//
// Returns "" when either id is empty.
func ConversationID(a, b string) string {
	if a == "" || b == "" {
		return ""
	}
	if a < b {
		return a + conversationIDSeparator + b
	}
	return b + conversationIDSeparator + a
}
