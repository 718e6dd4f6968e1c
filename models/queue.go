package models

// QueueEntry is one position in a store's live queue as reported by the server.
// Rank 1 is the next party to be admitted.
type QueueEntry struct {
	UserID int64 `json:"userId"`
	Rank   int   `json:"rank"`
}

// QueueSnapshot is the owner view of a queue. Every snapshot is complete and
// replaces the previous one.
type QueueSnapshot struct {
	TotalWaitingNumber int          `json:"totalWaitingNumber"`
	UserIDs            []QueueEntry `json:"userIds"`
}

// WaitingStatus is the response of the own-status check.
type WaitingStatus struct {
	IsWaiting bool `json:"isWaiting"`
	Rank      *int `json:"rank,omitempty"`
}

// WaitingSession is the client-side record of the current user's membership
// in a store's queue.
type WaitingSession struct {
	StoreID   int64 `json:"storeId"`
	UserID    int64 `json:"userId"`
	IsWaiting bool  `json:"isWaiting"`
	Rank      *int  `json:"rank"`
}

// FindRank returns the rank of userID in entries. The entries are trusted in
// server order and never re-sorted.
func FindRank(entries []QueueEntry, userID int64) (int, bool) {
	for _, e := range entries {
		if e.UserID == userID {
			return e.Rank, true
		}
	}
	return 0, false
}

// Clone returns a copy that shares no memory with s.
func (s QueueSnapshot) Clone() QueueSnapshot {
	out := QueueSnapshot{TotalWaitingNumber: s.TotalWaitingNumber}
	if s.UserIDs != nil {
		out.UserIDs = make([]QueueEntry, len(s.UserIDs))
		copy(out.UserIDs, s.UserIDs)
	}
	return out
}

// Clone returns a copy that shares no memory with s.
func (s WaitingSession) Clone() WaitingSession {
	out := s
	if s.Rank != nil {
		r := *s.Rank
		out.Rank = &r
	}
	return out
}

// IntPtr is a small helper for optional ranks.
func IntPtr(v int) *int { return &v }
