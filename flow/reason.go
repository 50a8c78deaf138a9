package flow

// FlowEndReason holds the reason why a flow was expired.
type FlowEndReason byte

const (
	// FlowEndReasonIdle idle timeout expired
	FlowEndReasonIdle FlowEndReason = 1
	// FlowEndReasonActive active timeout expired
	FlowEndReasonActive FlowEndReason = 2
	// FlowEndReasonEnd end of flow detected (e.g. tcp teardown)
	FlowEndReasonEnd FlowEndReason = 3
	// FlowEndReasonForcedEnd source exhausted or run stopped
	FlowEndReasonForcedEnd FlowEndReason = 4
)

func (fe FlowEndReason) String() string {
	switch fe {
	case FlowEndReasonIdle:
		return "IdleTimeout"
	case FlowEndReasonActive:
		return "ActiveTimeout"
	case FlowEndReasonEnd:
		return "EndOfFlow"
	case FlowEndReasonForcedEnd:
		return "ForcedEndOfFlow"
	default:
		return "UnknownEndReason"
	}
}
