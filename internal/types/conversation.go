package types

// Role identifies who authored a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the chat history. Seq is the 1-based position
// assigned by the conversation log.
type Turn struct {
	Role    Role   `json:"role" validate:"oneof=user assistant"`
	Content string `json:"content"`
	Seq     int    `json:"seq,omitempty"`
}

// Valid reports whether the role is one of the known roles
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}
