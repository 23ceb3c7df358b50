package market

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"tradedesk/internal/config"
	"tradedesk/internal/util"
)

// NewSource builds the named source from configuration.
func NewSource(kind string, cfg *config.Config) (Source, error) {
	switch kind {
	case "alpaca":
		return NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, cfg.Alpaca.DataURL), nil
	case "polygon":
		var limiter *util.RateLimiter
		if cfg.Polygon.Plan == string(PolygonFree) && cfg.Polygon.RateLimitPerMin > 0 {
			limiter = util.NewRateLimiter(cfg.Polygon.RateLimitPerMin, cfg.Polygon.RateLimitPerMin)
		}
		return NewPolygonSource(cfg.Polygon.BaseURL, cfg.Polygon.APIKey, PolygonPlan(cfg.Polygon.Plan), limiter), nil
	case "simulated":
		prices := make(map[string]decimal.Decimal, len(cfg.Market.SimulatedPrices))
		for sym, p := range cfg.Market.SimulatedPrices {
			v, err := decimal.NewFromString(p)
			if err != nil {
				return nil, fmt.Errorf("simulated price %s: %w", sym, err)
			}
			prices[sym] = v
		}
		return NewSimulatedSource("simulated", prices), nil
	default:
		return nil, fmt.Errorf("unknown market source %q", kind)
	}
}

// NewGatewayFromConfig wires the configured primary and fallback sources.
func NewGatewayFromConfig(cfg *config.Config, log *slog.Logger) (*Gateway, error) {
	primary, err := NewSource(cfg.Market.Primary, cfg)
	if err != nil {
		return nil, fmt.Errorf("primary: %w", err)
	}
	fallback, err := NewSource(cfg.Market.Fallback, cfg)
	if err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}
	if cfg.Market.RunWhenClosed {
		primary, fallback = AlwaysOpen{primary}, AlwaysOpen{fallback}
	}
	return NewGateway(primary, fallback, cfg.Market.SourceTimeout, WithLogger(log)), nil
}
