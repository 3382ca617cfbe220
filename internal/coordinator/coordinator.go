package coordinator

import "github.com/handoffhq/handoff/internal/model"

// ApprovalResponse is the resolution of an ApprovalRequest.
type ApprovalResponse struct {
	Status model.ApprovalStatus
}

// PromptResponse is the resolution of a ContinuationPrompt.
type PromptResponse struct {
	Decision    model.PromptDecision
	Instruction *string
}

// IPCReplyResponse is the resolution of a local companion command that
// needed operator input relayed back over the socket.
type IPCReplyResponse struct {
	Payload map[string]any
}

// Coordinator bundles the three blocking-response registries the tool
// handler and IPC server share: approvals, continuation prompts, and
// IPC-originated replies. Three independent registries rather than one
// keyed union avoids cross-kind ID collisions and keeps each payload
// type concrete.
type Coordinator struct {
	Approvals *Registry[ApprovalResponse]
	Prompts   *Registry[PromptResponse]
	IPCReplies *Registry[IPCReplyResponse]
}

// New constructs a Coordinator with all three registries initialized.
func New() *Coordinator {
	return &Coordinator{
		Approvals:  NewRegistry[ApprovalResponse](),
		Prompts:    NewRegistry[PromptResponse](),
		IPCReplies: NewRegistry[IPCReplyResponse](),
	}
}
