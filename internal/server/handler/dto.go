package handler

import (
	"time"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

type marketResponse struct {
	ID              string     `json:"id"`
	Question        string     `json:"question"`
	Category        string     `json:"category"`
	Status          string     `json:"status"`
	YesPool         string     `json:"yes_pool"`
	NoPool          string     `json:"no_pool"`
	Probability     int        `json:"probability"`
	PayoutType      string     `json:"payout_type"`
	TokenAddress    string     `json:"token_address"`
	TokenAddress2   string     `json:"token_address_2,omitempty"`
	ImageURL        string     `json:"image_url,omitempty"`
	ResolvedOutcome string     `json:"resolved_outcome,omitempty"`
	CommitmentHash  string     `json:"commitment_hash,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// newMarketResponse never exposes the commitment secret; it is revealed
// only through the verify endpoint once the market is settled.
func newMarketResponse(m domain.Market) marketResponse {
	return marketResponse{
		ID:              m.ID,
		Question:        m.Question,
		Category:        m.Category,
		Status:          string(m.Status),
		YesPool:         m.YesPool.String(),
		NoPool:          m.NoPool.String(),
		Probability:     m.Probability,
		PayoutType:      string(m.PayoutType),
		TokenAddress:    m.TokenAddress,
		TokenAddress2:   m.TokenAddress2,
		ImageURL:        m.ImageURL,
		ResolvedOutcome: string(m.ResolvedOutcome),
		CommitmentHash:  m.CommitmentHash,
		ExpiresAt:       m.ExpiresAt,
		CreatedAt:       m.CreatedAt,
		ResolvedAt:      m.ResolvedAt,
	}
}

type payoutResponse struct {
	ID          string    `json:"id"`
	MarketID    string    `json:"market_id"`
	BetIDs      []string  `json:"bet_ids"`
	UserID      string    `json:"user_id"`
	Recipient   string    `json:"recipient,omitempty"`
	Amount      string    `json:"amount"`
	Mode        string    `json:"mode"`
	TxSignature *string   `json:"tx_signature,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func newPayoutResponses(in []domain.PayoutResult) []payoutResponse {
	out := make([]payoutResponse, 0, len(in))
	for _, p := range in {
		out = append(out, payoutResponse{
			ID:          p.ID,
			MarketID:    p.MarketID,
			BetIDs:      p.BetIDs,
			UserID:      p.UserID,
			Recipient:   p.Recipient,
			Amount:      p.Amount.String(),
			Mode:        string(p.Mode),
			TxSignature: p.TxSignature,
			Error:       p.Error,
			CreatedAt:   p.CreatedAt,
		})
	}
	return out
}

type automationLogResponse struct {
	ID            string    `json:"id"`
	ExecutionTime time.Time `json:"execution_time"`
	MarketID      string    `json:"market_id,omitempty"`
	QuestionType  string    `json:"question_type"`
	TokenAddress  string    `json:"token_address,omitempty"`
	TokenAddress2 string    `json:"token_address_2,omitempty"`
	Success       bool      `json:"success"`
	ErrorMessage  string    `json:"error_message,omitempty"`
}

func newAutomationLogResponse(l domain.AutomatedMarketLog) automationLogResponse {
	return automationLogResponse{
		ID:            l.ID,
		ExecutionTime: l.ExecutionTime,
		MarketID:      l.MarketID,
		QuestionType:  string(l.QuestionType),
		TokenAddress:  l.TokenAddress,
		TokenAddress2: l.TokenAddress2,
		Success:       l.Success,
		ErrorMessage:  l.ErrorMessage,
	}
}
