package chat

import "errors"

// ErrNoActiveConversation is returned by send operations when no conversation
// is selected.
var ErrNoActiveConversation = errors.New("no active conversation")

// ErrNotParticipant marks content for a conversation the user is not a member
// of. It is handled internally and never surfaced to the end user.
var ErrNotParticipant = errors.New("not a conversation participant")
