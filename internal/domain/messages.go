package domain

// Push channel message kinds.
const (
	MessageForceLogout = "force-logout"
	MessagePong        = "pong"
	MessageError       = "error"
	MessageReady       = "ready"
)

type ClientMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

type ServerMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Time    int64  `json:"t,omitempty"`
}
