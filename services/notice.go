package services

// NoticeKind tells the UI which message to show.
type NoticeKind int

const (
	NoticeCancelled NoticeKind = iota
	NoticeQueueClosed
	NoticeDisconnected
	NoticeActionFailed
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeCancelled:
		return "cancelled"
	case NoticeQueueClosed:
		return "queue_closed"
	case NoticeDisconnected:
		return "disconnected"
	case NoticeActionFailed:
		return "action_failed"
	default:
		return "unknown"
	}
}

// Notice is a user-facing event. Retryable notices may be offered with a
// retry or re-check action.
type Notice struct {
	Kind      NoticeKind
	StoreID   int64
	Message   string
	Retryable bool
}
