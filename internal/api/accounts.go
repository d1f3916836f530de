package api

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// AccountService handles account and balance operations.
type AccountService struct {
	db DBClient
}

// NewAccountService creates a new AccountService.
func NewAccountService(db DBClient) *AccountService {
	return &AccountService{db: db}
}

// GetAccount handles GET /v1/account
// The user is re-read so the balance is current rather than the value
// loaded during authentication.
func (a *AccountService) GetAccount(ctx context.Context, input *GetAccountInput) (*GetAccountOutput, error) {
	caller, ok := GetUser(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	user, err := a.db.GetUser(ctx, caller.ID)
	if err != nil {
		return nil, mapBillingError(err)
	}

	return &GetAccountOutput{Body: toAccountResponse(user)}, nil
}

// ListTransactions handles GET /v1/account/transactions
func (a *AccountService) ListTransactions(ctx context.Context, input *ListTransactionsInput) (*ListTransactionsOutput, error) {
	user, ok := GetUser(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	txs, err := a.db.ListTransactions(ctx, user.ID, input.Limit)
	if err != nil {
		return nil, mapBillingError(err)
	}

	resp := ListTransactionsResponse{Transactions: make([]TransactionResponse, 0, len(txs))}
	for _, t := range txs {
		resp.Transactions = append(resp.Transactions, TransactionResponse{
			ID:          t.ID,
			Type:        t.Type,
			Amount:      t.Amount,
			Description: t.Description,
			CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		})
	}

	return &ListTransactionsOutput{Body: resp}, nil
}
