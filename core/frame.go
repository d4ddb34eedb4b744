package core

// FrameType discriminates the typed JSON messages carried on the shared
// duplex transport.
type FrameType string

const (
	// FrameStartStream asks the backend to begin a node operation (outbound).
	FrameStartStream FrameType = "start_stream"
	// FrameCancelStream asks the backend to abort a node operation (outbound).
	FrameCancelStream FrameType = "cancel_stream"
	// FrameChunk carries a partial response fragment (inbound).
	FrameChunk FrameType = "chunk"
	// FrameEnd terminates a stream or sub-stream (inbound).
	FrameEnd FrameType = "end"
	// FrameError terminates a stream with an error (inbound).
	FrameError FrameType = "error"
)

// TokenUsage captures token usage statistics reported with a terminal frame.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StartRequest is the outbound payload that launches one node operation. The
// scheduler treats Config as opaque; it is the node's stored configuration
// (prompt, model parameters, ...) interpreted by the backend executor.
type StartRequest struct {
	GraphID    string         `json:"graph_id"`
	NodeID     string         `json:"node_id"`
	StreamType string         `json:"stream_type"`
	Title      string         `json:"title,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
}

// FramePayload is the union of all frame payload fields. Which fields are
// populated depends on the frame type; unset fields are omitted on the wire.
type FramePayload struct {
	GraphID    string         `json:"graph_id,omitempty"`
	NodeID     string         `json:"node_id"`
	StreamType string         `json:"stream_type,omitempty"`
	Title      string         `json:"title,omitempty"`
	Config     map[string]any `json:"config,omitempty"`

	// Content is the text fragment of a chunk frame. A non-empty SubID marks
	// the fragment as belonging to a fan-out sub-stream of the node.
	Content string      `json:"content,omitempty"`
	SubID   string      `json:"sub_id,omitempty"`
	Usage   *TokenUsage `json:"usage,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Frame is one discrete message on the transport.
type Frame struct {
	Type    FrameType    `json:"type"`
	Payload FramePayload `json:"payload"`
}

// NewStartFrame builds the outbound frame that starts a node operation.
func NewStartFrame(req StartRequest) Frame {
	return Frame{
		Type: FrameStartStream,
		Payload: FramePayload{
			GraphID:    req.GraphID,
			NodeID:     req.NodeID,
			StreamType: req.StreamType,
			Title:      req.Title,
			Config:     req.Config,
		},
	}
}

// NewCancelFrame builds the outbound frame that aborts a node operation.
func NewCancelFrame(graphID, nodeID string) Frame {
	return Frame{
		Type:    FrameCancelStream,
		Payload: FramePayload{GraphID: graphID, NodeID: nodeID},
	}
}

// NewChunkFrame builds an inbound-style chunk frame. Used by backends and tests.
func NewChunkFrame(nodeID, subID, content string) Frame {
	return Frame{
		Type:    FrameChunk,
		Payload: FramePayload{NodeID: nodeID, SubID: subID, Content: content},
	}
}

// NewEndFrame builds a terminal end frame. An empty subID terminates the
// primary stream; a non-empty subID terminates only that sub-stream.
func NewEndFrame(nodeID, subID string, usage *TokenUsage) Frame {
	return Frame{
		Type:    FrameEnd,
		Payload: FramePayload{NodeID: nodeID, SubID: subID, Usage: usage},
	}
}

// NewErrorFrame builds a terminal error frame.
func NewErrorFrame(nodeID, message string) Frame {
	return Frame{
		Type:    FrameError,
		Payload: FramePayload{NodeID: nodeID, Message: message},
	}
}
