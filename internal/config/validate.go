package config

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var knownSources = map[string]bool{"alpaca": true, "polygon": true, "simulated": true}

// Validate checks fields that would otherwise fail late at wiring time.
func (c *Config) Validate() error {
	var errs []error
	if !knownSources[c.Market.Primary] {
		errs = append(errs, fmt.Errorf("market.primary: unknown source %q", c.Market.Primary))
	}
	if !knownSources[c.Market.Fallback] {
		errs = append(errs, fmt.Errorf("market.fallback: unknown source %q", c.Market.Fallback))
	}
	if c.Market.SourceTimeout <= 0 {
		errs = append(errs, fmt.Errorf("market.source_timeout must be positive, got %s", c.Market.SourceTimeout))
	} else if c.Engine.QuoteTimeout < 2*c.Market.SourceTimeout {
		errs = append(errs, fmt.Errorf("engine.quote_timeout %s must be at least twice market.source_timeout %s",
			c.Engine.QuoteTimeout, c.Market.SourceTimeout))
	}
	if c.Polygon.Plan != "free" && c.Polygon.Plan != "paid" {
		errs = append(errs, fmt.Errorf("polygon.plan: want free or paid, got %q", c.Polygon.Plan))
	}
	if c.Ledger.AccountID == "" {
		errs = append(errs, errors.New("ledger.account_id is required"))
	}
	if cash, err := decimal.NewFromString(c.Ledger.InitialCash); err != nil {
		errs = append(errs, fmt.Errorf("ledger.initial_cash: %w", err))
	} else if cash.IsNegative() {
		errs = append(errs, errors.New("ledger.initial_cash must not be negative"))
	}
	if c.Notify.MaxRetries < 0 {
		errs = append(errs, errors.New("notify.max_retries must not be negative"))
	}
	if len(c.Notify.Kafka.Brokers) > 0 && c.Notify.Kafka.Topic == "" {
		errs = append(errs, errors.New("notify.kafka.topic is required when brokers are set"))
	}
	for sym, p := range c.Market.SimulatedPrices {
		if _, err := decimal.NewFromString(p); err != nil {
			errs = append(errs, fmt.Errorf("market.simulated_prices[%s]: %w", sym, err))
		}
	}
	return errors.Join(errs...)
}

// InitialCash returns the parsed opening balance.
func (c *Config) InitialCash() decimal.Decimal {
	return decimal.RequireFromString(c.Ledger.InitialCash)
}
