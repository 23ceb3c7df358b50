package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tradedesk/pkg/tradedesk"
)

const version = "0.1.0"

// errNotSettled makes the process exit with status 2 when the server
// answered but the trade did not happen.
var errNotSettled = errors.New("trade not settled")

func main() {
	fs := flag.NewFlagSet("tradedesk-cli", flag.ExitOnError)
	server := fs.String("server", envOr("TRADEDESK_URL", "http://127.0.0.1:8080"), "tradedesk-server base URL")
	account := fs.String("account", envOr("ACCOUNT_ID", "default"), "account ID for account/trades")
	requestID := fs.String("id", "", "request ID; resubmitting the same ID settles at most once")
	limit := fs.Int("limit", 20, "number of trades to list")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tradedesk-cli [options] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version                    Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  buy SYMBOL QUANTITY        Buy shares\n")
		fmt.Fprintf(os.Stderr, "  sell SYMBOL QUANTITY       Sell shares\n")
		fmt.Fprintf(os.Stderr, "  account                    Show cash and holdings\n")
		fmt.Fprintf(os.Stderr, "  trades                     List recent trades\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	args := fs.Args()
	if len(args) < 1 {
		fs.Usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, 2*time.Minute)
	defer cancelTimeout()

	client := tradedesk.NewClient(*server)

	var err error
	switch args[0] {
	case "version":
		fmt.Printf("tradedesk-cli %s\n", version)

	case "buy", "sell":
		if len(args) != 3 {
			fs.Usage()
			os.Exit(1)
		}
		err = trade(ctx, client, args[0], args[1], args[2], *requestID)

	case "account":
		err = showAccount(ctx, client, *account)

	case "trades":
		err = listTrades(ctx, client, *account, *limit)

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		fs.Usage()
		os.Exit(1)
	}
	switch {
	case errors.Is(err, errNotSettled):
		os.Exit(2)
	case err != nil:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func trade(ctx context.Context, c *tradedesk.Client, side, symbol, qty, requestID string) error {
	n, err := strconv.ParseInt(qty, 10, 64)
	if err != nil {
		return fmt.Errorf("quantity %q: %w", qty, err)
	}
	out, err := c.ExecuteTrade(ctx, symbol, side, n, requestID)
	if err != nil {
		return err
	}

	fmt.Println(out.Message)
	if r := out.Record; r != nil {
		fmt.Printf("  record   %s\n", r.ID)
		fmt.Printf("  price    %s (%s)\n", r.Quote.Price.StringFixed(2), r.Quote.Source)
		fmt.Printf("  amount   %s\n", r.Amount.StringFixed(2))
		fmt.Printf("  cash     %s\n", r.ResultingBalance.StringFixed(2))
	}
	if out.Reason != "" {
		fmt.Printf("  reason   %s\n", out.Reason)
	}
	if !out.Settled() {
		return errNotSettled
	}
	return nil
}

func showAccount(ctx context.Context, c *tradedesk.Client, id string) error {
	acct, err := c.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("Account %s\n", acct.ID)
	fmt.Printf("  cash     %s\n", acct.Cash.StringFixed(2))
	if len(acct.Holdings) == 0 {
		fmt.Println("  no holdings")
	}
	if v := acct.Valuation; v != nil {
		for _, p := range v.Positions {
			fmt.Printf("  %-8s %6d @ %10s = %12s\n", p.Symbol, p.Quantity, p.Price.StringFixed(2), p.Value.StringFixed(2))
		}
		fmt.Printf("  value    %s\n", v.PortfolioValue.StringFixed(2))
		fmt.Printf("  p&l      %s (from %s)\n", v.ProfitLoss.StringFixed(2), acct.InitialCash.StringFixed(2))
		if len(v.Unpriced) > 0 {
			fmt.Printf("  unpriced %s\n", strings.Join(v.Unpriced, ", "))
		}
		return nil
	}
	for sym, qty := range acct.Holdings {
		fmt.Printf("  %-8s %d\n", sym, qty)
	}
	return nil
}

func listTrades(ctx context.Context, c *tradedesk.Client, id string, limit int) error {
	recs, err := c.ListTrades(ctx, id, limit)
	if err != nil {
		return err
	}
	for _, r := range recs {
		fmt.Printf("%s  %-4s %6d %-6s @ %10s  = %12s  cash %12s\n",
			r.Timestamp.Local().Format("2006-01-02 15:04:05"),
			r.Intent.Side, r.Intent.Quantity, r.Intent.Symbol,
			r.Quote.Price.StringFixed(2), r.Amount.StringFixed(2), r.ResultingBalance.StringFixed(2))
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
