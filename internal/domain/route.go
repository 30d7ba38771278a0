package domain

type RouteTag string

const (
	RouteGroupToSpecialThread RouteTag = "group_to_special_thread"
	RouteGroupSameThread      RouteTag = "group_same_thread"
	RoutePrivateEcho          RouteTag = "private_echo"
	RouteGroupSameChat        RouteTag = "group_same_chat"
)

// RouteDecision is where a downloaded artifact is delivered. ThreadID 0 means no thread.
// Tag is for observability only.
type RouteDecision struct {
	ChatID   int64
	ThreadID int
	Tag      RouteTag
}
