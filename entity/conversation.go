package entity

// Conversation is a named or anonymous channel with a participant set and an
// optional attached automated agent.
type Conversation struct {
	ID           string   `json:"id" bson:"_id"`
	Name         string   `json:"name,omitempty" bson:"name,omitempty"`
	Participants []string `json:"participants" bson:"participants"`
	HasAgent     bool     `json:"has_agent" bson:"has_agent"`
}

// HasParticipant reports whether userID is a member of the conversation.
// Only participants may be delivered conversation content.
func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Title returns the display name, falling back to the conversation id for
// anonymous channels.
func (c Conversation) Title() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}
