package types

type DataResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type UploadResponse struct {
	DocumentID   string `json:"document_id"`
	OriginalName string `json:"original_name,omitempty"`
}

// StatusResponse answers the status query endpoint.
type StatusResponse struct {
	DocumentID string         `json:"document_id"`
	Stage      DocumentStatus `json:"stage"`
	Progress   float64        `json:"progress"`
	Retryable  bool           `json:"retryable,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Websocket message envelope for the analysis watch stream.
const (
	TypeWebsocketPing      = "ping"
	TypeWebsocketPong      = "pong"
	TypeWebsocketProgress  = "progress"
	TypeWebsocketCompleted = "completed"
	TypeWebsocketError     = "error"
)

type WebSocketResponse struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
