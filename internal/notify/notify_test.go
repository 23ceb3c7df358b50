package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedesk/internal/domain"
	"tradedesk/internal/util"
)

// fakeSender fails the first failures calls.
type fakeSender struct {
	name     string
	failures int
	err      error
	calls    atomic.Int32
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Send(ctx context.Context, _ Message) error {
	n := int(f.calls.Add(1))
	if n <= f.failures {
		if f.err != nil {
			return f.err
		}
		return errors.New("boom")
	}
	return nil
}

func sampleRecord() domain.TradeRecord {
	return domain.TradeRecord{
		ID:        "rec-1",
		AccountID: "alice",
		Intent:    domain.TradeIntent{Symbol: "TSLA", Side: domain.SideBuy, Quantity: 10},
		Quote: domain.Quote{
			Symbol: "TSLA", Price: decimal.NewFromInt(150), MarketOpen: true,
			Source: domain.QuoteSourcePrimary, AsOf: time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC),
		},
		Amount:           decimal.NewFromInt(1500),
		ResultingBalance: decimal.NewFromInt(500),
		Timestamp:        time.Date(2025, 3, 4, 15, 0, 1, 0, time.UTC),
		IdempotencyKey:   "k",
	}
}

func TestGatewayRetriesUntilSuccess(t *testing.T) {
	s := &fakeSender{name: "fake", failures: 2}
	g := NewGateway([]Sender{s}, 2, time.Millisecond, util.Discard())

	require.NoError(t, g.Notify(context.Background(), FromRecord(sampleRecord())))
	assert.Equal(t, int32(3), s.calls.Load())
}

func TestGatewayExhaustsRetries(t *testing.T) {
	s := &fakeSender{name: "fake", failures: 10}
	g := NewGateway([]Sender{s}, 2, time.Millisecond, util.Discard())

	err := g.Notify(context.Background(), FromRecord(sampleRecord()))
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Equal(t, int32(3), s.calls.Load())
}

func TestGatewayPermanentErrorStops(t *testing.T) {
	s := &fakeSender{name: "fake", failures: 10, err: util.Permanent(errors.New("bad token"))}
	g := NewGateway([]Sender{s}, 5, time.Millisecond, util.Discard())

	err := g.Notify(context.Background(), FromRecord(sampleRecord()))
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestGatewayCancelled(t *testing.T) {
	s := &fakeSender{name: "fake", failures: 10}
	g := NewGateway([]Sender{s}, 5, time.Hour, util.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := g.Notify(ctx, FromRecord(sampleRecord()))
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestGatewaySendersRetriedIndependently(t *testing.T) {
	good := &fakeSender{name: "good"}
	flaky := &fakeSender{name: "flaky", failures: 1}
	dead := &fakeSender{name: "dead", failures: 100}
	g := NewGateway([]Sender{good, flaky, dead}, 1, time.Millisecond, util.Discard())

	err := g.Notify(context.Background(), FromRecord(sampleRecord()))
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Contains(t, err.Error(), "dead")
	assert.NotContains(t, err.Error(), "flaky")
	assert.Equal(t, int32(1), good.calls.Load())
	assert.Equal(t, int32(2), flaky.calls.Load())
	assert.Equal(t, int32(2), dead.calls.Load())
}

func TestMessageRendering(t *testing.T) {
	msg := FromRecord(sampleRecord())
	assert.Equal(t, EventTradeSettled, msg.Event)

	md := msg.RenderMarkdown()
	assert.True(t, strings.HasPrefix(md, "✅ *Trade executed*"))
	assert.Contains(t, md, "- Intent: buy 10 TSLA")
	assert.Contains(t, md, "- Price: 150.00 (primary)")
	assert.Contains(t, md, "- Cash after: 500.00")
	assert.Contains(t, md, "Time: 2025-03-04 15:00:01 UTC")
}

func TestMessageSanitizesFences(t *testing.T) {
	rec := sampleRecord()
	rec.ID = "```oops```"
	md := FromRecord(rec).RenderMarkdown()
	assert.Equal(t, 2, strings.Count(md, "```"))
}

func TestMessageTruncatesOnRuneBoundary(t *testing.T) {
	rec := sampleRecord()
	rec.ID = strings.Repeat("é", maxBodyLen)
	md := FromRecord(rec).RenderMarkdown()

	assert.True(t, utf8.ValidString(md))
	assert.Equal(t, 2, strings.Count(md, "```"))
	assert.Contains(t, md, "...\n```\nTime: ")
	assert.Less(t, utf8.RuneCountInString(md), 4096)
}

func TestTelegramSender(t *testing.T) {
	var mu sync.Mutex
	var got map[string]any
	var status atomic.Int32
	status.Store(http.StatusOK)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /botTOKEN/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		code := int(status.Load())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": code == http.StatusOK, "description": "desc"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tg, err := NewTelegramSender(srv.URL, "TOKEN", "42")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, tg.Send(ctx, FromRecord(sampleRecord())))
	mu.Lock()
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "Markdown", got["parse_mode"])
	assert.Contains(t, got["text"], "Trade executed")
	mu.Unlock()

	// 5xx is retried.
	status.Store(http.StatusBadGateway)
	s := &countingSender{Sender: tg}
	g := NewGateway([]Sender{s}, 2, time.Millisecond, util.Discard())
	err = g.Notify(ctx, FromRecord(sampleRecord()))
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Equal(t, int32(3), s.calls.Load())

	// 401 is not.
	status.Store(http.StatusUnauthorized)
	s = &countingSender{Sender: tg}
	g = NewGateway([]Sender{s}, 2, time.Millisecond, util.Discard())
	err = g.Notify(ctx, FromRecord(sampleRecord()))
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Equal(t, int32(1), s.calls.Load())
}

type countingSender struct {
	Sender
	calls atomic.Int32
}

func (c *countingSender) Send(ctx context.Context, msg Message) error {
	c.calls.Add(1)
	return c.Sender.Send(ctx, msg)
}

func TestTelegramSenderRequiresCredentials(t *testing.T) {
	_, err := NewTelegramSender("", "", "42")
	assert.Error(t, err)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSender(t *testing.T) {
	w := &fakeWriter{}
	k := &KafkaSender{w: w, topic: "trades"}

	require.NoError(t, k.Send(context.Background(), FromRecord(sampleRecord())))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "alice", string(w.msgs[0].Key))
	assert.Equal(t, EventTradeSettled, string(w.msgs[0].Headers[0].Value))

	var event Message
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &event))
	assert.Equal(t, EventTradeSettled, event.Event)
	assert.Equal(t, "rec-1", event.Record.ID)
	assert.True(t, event.Record.Amount.Equal(decimal.NewFromInt(1500)))

	w.err = errors.New("broker down")
	assert.ErrorContains(t, k.Send(context.Background(), FromRecord(sampleRecord())), "broker down")

	_, err := NewKafkaSender(nil, "trades")
	assert.Error(t, err)
}

func TestLogSender(t *testing.T) {
	l := NewLogSender(util.Discard())
	assert.Equal(t, "log", l.Name())
	assert.NoError(t, l.Send(context.Background(), FromRecord(sampleRecord())))
}
