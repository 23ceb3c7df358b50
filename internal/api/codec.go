package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"tradedesk/internal/domain"
)

// Ledger messages travel as structpb.Struct. The Go types below are the
// schema; they are converted through their JSON form.

type settleRequest struct {
	AccountID string             `json:"account_id"`
	Intent    domain.TradeIntent `json:"intent"`
	Quote     domain.Quote       `json:"quote"`
	Key       string             `json:"key"`
}

type accountRequest struct {
	AccountID string `json:"account_id"`
}

type listRecordsRequest struct {
	AccountID string `json:"account_id"`
	Limit     int    `json:"limit"`
}

type listRecordsResponse struct {
	Records []domain.TradeRecord `json:"records"`
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	return s, nil
}

func fromStruct[T any](s *structpb.Struct) (T, error) {
	var out T
	if s == nil {
		return out, fmt.Errorf("decoding %T: empty message", out)
	}
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return out, fmt.Errorf("decoding %T: %w", out, err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("decoding %T: %w", out, err)
	}
	return out, nil
}
