package farm

import (
	"context"
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Example Workflow: Portfolio Valuation
// --------------------------------------------------------------------------

// TradePosition is one leg of a valuation request.
type TradePosition struct {
	TradeId  string  `json:"tradeId"`
	Notional float64 `json:"notional"`
	Rate     float64 `json:"rate"`
}

// ValuationRequest is the workload of a portfolio valuation request.
type ValuationRequest struct {
	PortfolioId string          `json:"portfolioId"`
	Currency    string          `json:"currency,omitempty"`
	Trades      []TradePosition `json:"trades"`
}

// ValuationResult is the outcome of a completed valuation.
type ValuationResult struct {
	PortfolioId string  `json:"portfolioId"`
	Currency    string  `json:"currency,omitempty"`
	TradeCount  int     `json:"tradeCount"`
	Value       float64 `json:"value"`
}

// ValuationWorkflow is a deterministic portfolio valuation used as the
// default farm workload: it prices each trade as notional times rate and
// sums the portfolio. Real pricing models plug in behind IWorkflow.
type ValuationWorkflow struct{}

func (ValuationWorkflow) Execute(ctx context.Context, req *Request) (json.RawMessage, error) {
	var val ValuationRequest
	if err := json.Unmarshal(req.Workload, &val); err != nil {
		return nil, fmt.Errorf("decode valuation workload: %w", err)
	}
	if val.PortfolioId == "" {
		return nil, fmt.Errorf("valuation workload has no portfolio id")
	}

	total := 0.0
	for _, trade := range val.Trades {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		total += trade.Notional * trade.Rate
	}

	return json.Marshal(&ValuationResult{
		PortfolioId: val.PortfolioId,
		Currency:    val.Currency,
		TradeCount:  len(val.Trades),
		Value:       total,
	})
}
