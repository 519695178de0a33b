// Package reconcile merges the three message sources of a conversation into the
// displayed timeline.
//
// Merge is a pure function: it owns no state, never fails, and never mutates its
// inputs. Callers recompute the timeline whenever any input changes.
package reconcile

import (
	"sort"

	"linkchat/cmd/internal/chat"
)

// Inputs are the three message collections of one conversation.
type Inputs struct {
	// LocalUser decides which messages carry a delivery status.
	LocalUser string

	// History is the baseline fetched once per activation.
	History []chat.Message
	// Live holds messages received on the socket, in arrival order.
	Live []chat.Message
	// Pending holds locally sent messages not yet seen in History or Live.
	Pending []chat.Message
}

// Merge returns the deduplicated timeline sorted by timestamp.
//
// Precedence per merge key: Live over History over Pending. Messages authored by
// LocalUser that come from History or Live are at least delivered; peer messages
// carry no status. Pending entries keep their own status and are only added when
// neither their key nor their client token is already present.
func Merge(in Inputs) []chat.Message {
	total := len(in.History) + len(in.Live) + len(in.Pending)
	if total == 0 {
		return nil
	}

	t := newTimeline(total)

	for _, m := range in.History {
		t.put(confirmed(m, in.LocalUser))
	}
	for _, m := range in.Live {
		t.put(confirmed(m, in.LocalUser))
	}
	for _, m := range in.Pending {
		if t.covers(m) {
			continue
		}
		t.put(m)
	}

	return t.sorted()
}

// confirmed tags a server-originated message with its status.
func confirmed(m chat.Message, localUser string) chat.Message {
	if m.Sender == localUser && localUser != "" {
		m.Status = m.Status.Advance(chat.StatusDelivered)
		return m
	}
	m.Status = chat.StatusNone
	return m
}

type timeline struct {
	order  []string
	byKey  map[string]chat.Message
	tokens map[string]struct{}
	texts  map[string]struct{}
}

func newTimeline(n int) *timeline {
	return &timeline{
		order:  make([]string, 0, n),
		byKey:  make(map[string]chat.Message, n),
		tokens: make(map[string]struct{}, n),
		texts:  make(map[string]struct{}, n),
	}
}

// put inserts or overwrites by merge key. An overwrite keeps the original position,
// so ties in timestamp still resolve by first insertion.
func (t *timeline) put(m chat.Message) {
	k := m.Key()
	if prev, ok := t.byKey[k]; ok {
		m.Status = prev.Status.Advance(m.Status)
		if m.ClientMsgID == "" {
			m.ClientMsgID = prev.ClientMsgID
		}
	} else {
		t.order = append(t.order, k)
	}
	t.byKey[k] = m

	if m.ClientMsgID != "" {
		t.tokens[m.ClientMsgID] = struct{}{}
	}
	t.texts[textKey(m)] = struct{}{}
}

// covers reports whether a pending entry is already represented by a confirmed one.
func (t *timeline) covers(p chat.Message) bool {
	if _, ok := t.byKey[p.Key()]; ok {
		return true
	}
	if p.ClientMsgID != "" {
		_, ok := t.tokens[p.ClientMsgID]
		return ok
	}
	if p.ID != "" {
		return false
	}
	// Legacy fallback for entries without a client token: match on author and body.
	_, ok := t.texts[textKey(p)]
	return ok
}

func (t *timeline) sorted() []chat.Message {
	out := make([]chat.Message, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.byKey[k])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func textKey(m chat.Message) string {
	return m.Sender + "\x00" + m.Content
}
