package approval

// AutoApproveCallbackID is the pre-registered hook callback id that
// short-circuits to allow. Agents that route tool calls through a
// pre-hook send this id when the engine told them approvals are off.
const AutoApproveCallbackID = "helmsman-auto-approve"

// HookDecision is the answer to an executor pre-hook callback.
type HookDecision string

const (
	// DecisionAllow lets the tool call proceed immediately.
	DecisionAllow HookDecision = "allow"
	// DecisionAsk tells the agent to re-emit the call through the
	// approval path.
	DecisionAsk HookDecision = "ask"
	// DecisionDeny rejects the call outright.
	DecisionDeny HookDecision = "deny"
)

// ResolveHookCallback answers an executor pre-hook "can-use-tool"
// callback. A nil registry means no approval service is wired: every
// callback returns allow. Otherwise the known auto-approve id
// short-circuits to allow and anything unknown returns ask, prompting
// the agent to go through the approval path.
func (r *Registry) ResolveHookCallback(callbackID string) HookDecision {
	if r == nil {
		return DecisionAllow
	}
	if callbackID == AutoApproveCallbackID {
		return DecisionAllow
	}
	return DecisionAsk
}
