package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"tradedesk/internal/domain"
	"tradedesk/internal/ledger"
)

const ledgerServiceName = "tradedesk.ledger.v1.Ledger"

// Ledger is the ledger backend exposed over gRPC. *ledger.Service
// satisfies it.
type Ledger interface {
	Settle(ctx context.Context, accountID string, intent domain.TradeIntent, quote domain.Quote, key string) (domain.TradeRecord, error)
	Account(ctx context.Context, accountID string) (domain.Account, error)
	Records(ctx context.Context, accountID string, limit int) ([]domain.TradeRecord, error)
}

// ledgerHandler is the method set registered under ledgerServiceDesc.
type ledgerHandler interface {
	Settle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAccount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRecords(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// LedgerService adapts a Ledger to the gRPC wire.
type LedgerService struct {
	ledger Ledger
}

// NewLedgerService creates a LedgerService backed by l.
func NewLedgerService(l Ledger) *LedgerService {
	return &LedgerService{ledger: l}
}

func (s *LedgerService) Settle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := fromStruct[settleRequest](in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.AccountID == "" || req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "account_id and key are required")
	}
	rec, err := s.ledger.Settle(ctx, req.AccountID, req.Intent, req.Quote, req.Key)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeReply(rec)
}

func (s *LedgerService) GetAccount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := fromStruct[accountRequest](in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	acct, err := s.ledger.Account(ctx, req.AccountID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeReply(acct)
}

func (s *LedgerService) ListRecords(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := fromStruct[listRecordsRequest](in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	recs, err := s.ledger.Records(ctx, req.AccountID, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeReply(listRecordsResponse{Records: recs})
}

func encodeReply(v any) (*structpb.Struct, error) {
	out, err := toStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// toStatus maps ledger errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ledger.ErrAccountNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ledger.ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// RegisterLedgerService registers svc on s.
func RegisterLedgerService(s grpc.ServiceRegistrar, svc *LedgerService) {
	s.RegisterService(&ledgerServiceDesc, svc)
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ledgerServiceName,
	HandlerType: (*ledgerHandler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Settle", Handler: unaryHandler("Settle", ledgerHandler.Settle)},
		{MethodName: "GetAccount", Handler: unaryHandler("GetAccount", ledgerHandler.GetAccount)},
		{MethodName: "ListRecords", Handler: unaryHandler("ListRecords", ledgerHandler.ListRecords)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tradedesk/ledger/v1/ledger.proto",
}

func unaryHandler(method string, call func(ledgerHandler, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		h := srv.(ledgerHandler)
		if interceptor == nil {
			return call(h, ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ledgerServiceName + "/" + method,
		}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(h, ctx, req.(*structpb.Struct))
		})
	}
}

// loggingInterceptor logs each unary call with its status code.
func loggingInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		level := slog.LevelDebug
		if code != codes.OK && code != codes.FailedPrecondition && code != codes.NotFound {
			level = slog.LevelWarn
		}
		log.Log(ctx, level, "grpc call", "method", info.FullMethod, "code", code.String(), "elapsed", time.Since(start))
		return resp, err
	}
}
