package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"linkchat/cmd/internal/chat"
	"linkchat/cmd/internal/conversation"
	"linkchat/cmd/internal/transport"
)

// badge is the delivery marker shown after a local message.
func badge(s chat.Status) string {
	switch s {
	case chat.StatusSending:
		return "[sending]"
	case chat.StatusSent:
		return "[sent ✓]"
	case chat.StatusDelivered:
		return "[delivered ✓✓]"
	case chat.StatusRead:
		return "[read ✓✓]"
	default:
		return ""
	}
}

func formatMessage(m chat.Message, local string) string {
	ts := "--:--"
	if !m.Timestamp.IsZero() {
		ts = m.Timestamp.Local().Format("15:04")
	}
	who := m.Sender
	if m.Sender == local {
		who = "you"
	}
	line := fmt.Sprintf("%s %s: %s", ts, who, m.Content)
	if b := badge(m.Status); b != "" {
		line += " " + b
	}
	return line
}

// identity follows a message from pending to acknowledged: the client token
// survives the ack, the server id does not exist before it.
func identity(m chat.Message) string {
	if m.ClientMsgID != "" {
		return "token:" + m.ClientMsgID + "\x00" + m.Sender
	}
	return m.Key()
}

// timelinePrinter writes an append-only transcript of a conversation view:
// new messages, status upgrades of local ones, and state notices.
type timelinePrinter struct {
	mu    sync.Mutex
	w     io.Writer
	local string

	seen       map[string]chat.Status
	state      conversation.State
	connection transport.State
	alert      string
}

func newTimelinePrinter(w io.Writer, local string) *timelinePrinter {
	return &timelinePrinter{w: w, local: local, seen: make(map[string]chat.Status)}
}

func (p *timelinePrinter) Render(v conversation.View) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v.State != p.state {
		p.state = v.State
		switch v.State {
		case conversation.StateLoadingHistory:
			fmt.Fprintf(p.w, "-- loading conversation with %s\n", v.Counterpart)
		case conversation.StateReady:
			fmt.Fprintf(p.w, "-- %s (room %s)\n", v.Counterpart, v.Room)
		case conversation.StateError:
			fmt.Fprintf(p.w, "!! %v (type /retry)\n", v.Err)
		}
	}

	if v.Connection != p.connection {
		prev := p.connection
		p.connection = v.Connection
		if v.Connection == transport.StateReconnecting || (v.Connection == transport.StateConnected && prev == transport.StateReconnecting) {
			fmt.Fprintf(p.w, "-- connection %s\n", v.Connection)
		}
	}

	for _, m := range v.Messages {
		id := identity(m)
		prev, ok := p.seen[id]
		switch {
		case !ok:
			fmt.Fprintln(p.w, formatMessage(m, p.local))
		case m.Status > prev:
			fmt.Fprintf(p.w, "   %s %s\n", truncate(m.Content, 24), badge(m.Status))
		default:
			continue
		}
		p.seen[id] = m.Status
	}

	if v.Alert != p.alert {
		p.alert = v.Alert
		if v.Alert != "" {
			fmt.Fprintf(p.w, "!! %s\n", v.Alert)
		}
	}
}

// Line prints m as a single transcript line.
func (p *timelinePrinter) Line(m chat.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, formatMessage(m, p.local))
}

// Notice prints a one-line status message between timeline entries.
func (p *timelinePrinter) Notice(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "-- "+format+"\n", args...)
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
