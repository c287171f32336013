package types

// DebugFields are the three strings shown on the introspection panel.
type DebugFields struct {
	Raw    string `json:"raw"`
	Color  string `json:"color"`
	Action string `json:"action"`
}

type UIDecision struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Tick      uint64          `json:"tick"`
	Decision  DisplayDecision `json:"decision"`
}

type UIDebug struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Debug     DebugFields `json:"debug"`
}

type UISession struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}
