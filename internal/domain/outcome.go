package domain

// OutcomeKind tags the terminal result of one orchestration attempt.
type OutcomeKind string

const (
	OutcomeSuccess            OutcomeKind = "success"
	OutcomeMarketClosed       OutcomeKind = "market_closed"
	OutcomePriceUnavailable   OutcomeKind = "price_unavailable"
	OutcomeInsufficientFunds  OutcomeKind = "insufficient_funds"
	OutcomeNotificationFailed OutcomeKind = "notification_failed"
	OutcomeSystemUnavailable  OutcomeKind = "system_unavailable"
)

// Component names a collaborator that can be reported as unavailable.
// Notification faults surface as NotificationFailed instead.
type Component string

const (
	ComponentMarketGateway Component = "market_gateway"
	ComponentLedgerService Component = "ledger_service"
)

// Outcome is the single terminal result of an Execute call. Record is set
// only for Success and NotificationFailed; FailedComponent only for
// SystemUnavailable.
type Outcome struct {
	Kind            OutcomeKind  `json:"kind"`
	Record          *TradeRecord `json:"record,omitempty"`
	FailedComponent Component    `json:"failed_component,omitempty"`
	Reason          string       `json:"reason,omitempty"`
}

func Success(rec TradeRecord) Outcome {
	return Outcome{Kind: OutcomeSuccess, Record: &rec}
}

func MarketClosed() Outcome {
	return Outcome{Kind: OutcomeMarketClosed}
}

func PriceUnavailable(reason string) Outcome {
	return Outcome{Kind: OutcomePriceUnavailable, Reason: reason}
}

func InsufficientFunds(reason string) Outcome {
	return Outcome{Kind: OutcomeInsufficientFunds, Reason: reason}
}

func NotificationFailed(rec TradeRecord, reason string) Outcome {
	return Outcome{Kind: OutcomeNotificationFailed, Record: &rec, Reason: reason}
}

func SystemUnavailable(c Component, reason string) Outcome {
	return Outcome{Kind: OutcomeSystemUnavailable, FailedComponent: c, Reason: reason}
}

// Settled reports whether the trade has an economic effect.
func (o Outcome) Settled() bool {
	return o.Kind == OutcomeSuccess || o.Kind == OutcomeNotificationFailed
}

// Message is a short user-facing description of the outcome.
func (o Outcome) Message() string {
	switch o.Kind {
	case OutcomeSuccess:
		return "Trade executed: " + o.Record.Intent.String() + " at " + o.Record.Quote.Price.StringFixed(2)
	case OutcomeNotificationFailed:
		return "Trade executed: " + o.Record.Intent.String() + " at " + o.Record.Quote.Price.StringFixed(2) + " (notification not delivered)"
	case OutcomeMarketClosed:
		return "Market is closed"
	case OutcomePriceUnavailable:
		return "Price unavailable"
	case OutcomeInsufficientFunds:
		return "Insufficient funds or holdings"
	case OutcomeSystemUnavailable:
		return "Service unavailable: " + string(o.FailedComponent)
	default:
		return string(o.Kind)
	}
}
