package channel

import (
	"encoding/json"
	"strings"

	"waiting-client/models"

	"github.com/tidwall/gjson"
)

// Kind tags a decoded push payload.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindClosure
	KindRankUpdate
)

func (k Kind) String() string {
	switch k {
	case KindClosure:
		return "closure"
	case KindRankUpdate:
		return "rank_update"
	default:
		return "unrecognized"
	}
}

const (
	// ClosedToken is the short closure signal.
	ClosedToken = "CLOSED"
	// ClosedMarker is the long closure signal. Matched case-insensitively.
	ClosedMarker = "waiting closed"
)

// Message is a push payload decoded once at the channel boundary.
type Message struct {
	Kind    Kind
	Entries []models.QueueEntry
	Raw     string
}

// Decode classifies a raw payload. It never fails: anything that is neither a
// closure signal nor a userIds object comes back as KindUnrecognized.
func Decode(raw []byte) Message {
	s := strings.TrimSpace(string(raw))
	msg := Message{Kind: KindUnrecognized, Raw: s}
	if s == "" {
		return msg
	}

	if isClosure(s) {
		msg.Kind = KindClosure
		return msg
	}
	if !gjson.Valid(s) {
		return msg
	}

	res := gjson.Parse(s)
	switch {
	case res.Type == gjson.String:
		if isClosure(res.String()) {
			msg.Kind = KindClosure
		}
		return msg
	case !res.IsObject():
		return msg
	}

	ids := res.Get("userIds")
	if !ids.IsArray() {
		return msg
	}

	entries := make([]models.QueueEntry, 0, len(ids.Array()))
	if err := json.Unmarshal([]byte(ids.Raw), &entries); err != nil {
		return msg
	}
	msg.Kind = KindRankUpdate
	msg.Entries = entries
	return msg
}

func isClosure(s string) bool {
	s = strings.TrimSpace(s)
	return s == ClosedToken || strings.EqualFold(s, ClosedMarker)
}
