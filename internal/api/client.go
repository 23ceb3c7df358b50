package api

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"tradedesk/internal/domain"
	"tradedesk/internal/ledger"
)

// LedgerClient talks to a remote ledger. It offers the same methods as
// ledger.Service and translates gRPC codes back into ledger errors.
type LedgerClient struct {
	conn   grpc.ClientConnInterface
	closer func() error
}

// NewLedgerClient wraps an existing connection.
func NewLedgerClient(conn grpc.ClientConnInterface) *LedgerClient {
	return &LedgerClient{conn: conn, closer: func() error { return nil }}
}

// DialLedger connects to the ledger at addr. The connection is plaintext.
func DialLedger(addr string, opts ...grpc.DialOption) (*LedgerClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dialing ledger %s: %w", addr, err)
	}
	return &LedgerClient{conn: conn, closer: conn.Close}, nil
}

// Close releases the underlying connection if the client owns it.
func (c *LedgerClient) Close() error {
	return c.closer()
}

// Settle settles a trade on the remote ledger.
func (c *LedgerClient) Settle(ctx context.Context, accountID string, intent domain.TradeIntent, quote domain.Quote, key string) (domain.TradeRecord, error) {
	out, err := c.invoke(ctx, "Settle", settleRequest{AccountID: accountID, Intent: intent, Quote: quote, Key: key})
	if err != nil {
		return domain.TradeRecord{}, err
	}
	return fromStruct[domain.TradeRecord](out)
}

// Account fetches an account snapshot.
func (c *LedgerClient) Account(ctx context.Context, accountID string) (domain.Account, error) {
	out, err := c.invoke(ctx, "GetAccount", accountRequest{AccountID: accountID})
	if err != nil {
		return domain.Account{}, err
	}
	return fromStruct[domain.Account](out)
}

// Records lists the newest records for an account.
func (c *LedgerClient) Records(ctx context.Context, accountID string, limit int) ([]domain.TradeRecord, error) {
	out, err := c.invoke(ctx, "ListRecords", listRecordsRequest{AccountID: accountID, Limit: limit})
	if err != nil {
		return nil, err
	}
	resp, err := fromStruct[listRecordsResponse](out)
	if err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *LedgerClient) invoke(ctx context.Context, method string, req any) (*structpb.Struct, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ledgerServiceName+"/"+method, in, out); err != nil {
		return nil, fromStatus(ctx, err)
	}
	return out, nil
}

// fromStatus maps gRPC codes onto ledger errors.
func fromStatus(ctx context.Context, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	switch st.Code() {
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", ledger.ErrInsufficientFunds, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, st.Message())
	case codes.Canceled:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s", ledger.ErrUnavailable, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s", ledger.ErrUnavailable, st.Message())
	default:
		return fmt.Errorf("ledger %s: %s", st.Code(), st.Message())
	}
}
