package notify

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"tradedesk/internal/domain"
)

// maxBodyLen bounds the fenced part of a rendered message so the whole
// text stays under Telegram's 4096 character limit.
const maxBodyLen = 3800

// EventTradeSettled is the only event the gateway delivers.
const EventTradeSettled = "trade.settled"

// Message is the notification for one settled trade.
type Message struct {
	Event     string             `json:"event"`
	AccountID string             `json:"account_id"`
	Record    domain.TradeRecord `json:"record"`
	Timestamp time.Time          `json:"timestamp"`
}

// FromRecord builds the notification for a settled trade.
func FromRecord(rec domain.TradeRecord) Message {
	return Message{
		Event:     EventTradeSettled,
		AccountID: rec.AccountID,
		Record:    rec,
		Timestamp: rec.Timestamp,
	}
}

// Title is the one-line headline for the message.
func (m Message) Title() string {
	return "Trade executed"
}

type section struct {
	title string
	lines []string
}

func (m Message) sections() []section {
	r := m.Record
	return []section{
		{title: "Order", lines: []string{
			"Account: " + m.AccountID,
			"Intent: " + r.Intent.String(),
		}},
		{title: "Fill", lines: []string{
			"Price: " + r.Quote.Price.StringFixed(2) + " (" + string(r.Quote.Source) + ")",
			"Amount: " + r.Amount.StringFixed(2),
			"Cash after: " + r.ResultingBalance.StringFixed(2),
			"Record: " + r.ID,
		}},
	}
}

// RenderMarkdown renders the message for Telegram. The fenced body is
// truncated to fit a single message and the fence is always closed.
func (m Message) RenderMarkdown() string {
	var body strings.Builder
	secs := m.sections()
	for i, sec := range secs {
		body.WriteString(sanitize(sec.title) + "\n")
		for _, line := range sec.lines {
			if line = strings.TrimSpace(line); line == "" {
				continue
			}
			fmt.Fprintf(&body, "- %s\n", sanitize(line))
		}
		if i != len(secs)-1 {
			body.WriteString("\n")
		}
	}

	var b strings.Builder
	b.WriteString("✅ *" + m.Title() + "*\n\n")
	b.WriteString("```\n")
	b.WriteString(truncate(strings.TrimRight(body.String(), "\n"), maxBodyLen))
	b.WriteString("\n```")
	if !m.Timestamp.IsZero() {
		b.WriteString("\nTime: " + m.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	return b.String()
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}
