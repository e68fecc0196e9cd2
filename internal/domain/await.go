package domain

// AwaitMetadata links a paused run to the external request it is blocked on.
// It is kept out of the Run record itself so it can be consumed atomically,
// exactly once, on resume.
//
// The two variants form a closed union; resolving a resume switches
// exhaustively on the concrete type.
type AwaitMetadata interface {
	awaitMetadata()
}

// ElicitationAwait marks a run paused on an elicitation request.
type ElicitationAwait struct {
	RequestID string
}

// ToolConfirmationAwait marks a run paused on a tool permission gate.
type ToolConfirmationAwait struct {
	RequestID string
	SessionID string
}

func (ElicitationAwait) awaitMetadata()      {}
func (ToolConfirmationAwait) awaitMetadata() {}
