package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"firefly-ai-categorize/internal/firefly"
)

var ErrInvalidWebhook = errors.New("invalid webhook")

const (
	triggerStoreTransaction = "STORE_TRANSACTION"
	responseTransactions    = "TRANSACTIONS"
	typeWithdrawal          = "withdrawal"
)

type webhookPayload struct {
	Trigger  string `json:"trigger"`
	Response string `json:"response"`
	Content  struct {
		ID           firefly.ID `json:"id"`
		Transactions []struct {
			Type            string     `json:"type"`
			Description     string     `json:"description"`
			DestinationName string     `json:"destination_name"`
			Amount          string     `json:"amount"`
			CategoryID      firefly.ID `json:"category_id"`
			Tags            []string   `json:"tags"`
		} `json:"transactions"`
	} `json:"content"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidWebhook, fmt.Sprintf(format, args...))
}

// ParseWebhook turns a Firefly "store transaction" webhook into an enqueue
// request. Only fresh, uncategorized withdrawals are accepted.
func ParseWebhook(body []byte) (EnqueueRequest, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return EnqueueRequest{}, invalid("malformed json: %v", err)
	}

	switch {
	case p.Trigger != triggerStoreTransaction:
		return EnqueueRequest{}, invalid("trigger must be %s, got %q", triggerStoreTransaction, p.Trigger)
	case p.Response != responseTransactions:
		return EnqueueRequest{}, invalid("response must be %s, got %q", responseTransactions, p.Response)
	case p.Content.ID == "":
		return EnqueueRequest{}, invalid("content.id is required")
	case len(p.Content.Transactions) == 0:
		return EnqueueRequest{}, invalid("content.transactions is empty")
	}

	tx := p.Content.Transactions[0]
	switch {
	case !strings.EqualFold(tx.Type, typeWithdrawal):
		return EnqueueRequest{}, invalid("only withdrawals are categorized, got %q", tx.Type)
	case tx.CategoryID != "":
		return EnqueueRequest{}, invalid("transaction already has category %s", tx.CategoryID)
	case strings.TrimSpace(tx.Description) == "":
		return EnqueueRequest{}, invalid("description is required")
	case strings.TrimSpace(tx.DestinationName) == "":
		return EnqueueRequest{}, invalid("destination_name is required")
	}

	return EnqueueRequest{
		TransactionID: string(p.Content.ID),
		MerchantName:  tx.DestinationName,
		Description:   tx.Description,
		Amount:        tx.Amount,
		Tags:          tx.Tags,
	}, nil
}

// EnqueueFromWebhook checks the signature when a secret is configured, then
// validates and enqueues the payload.
func (s *JobService) EnqueueFromWebhook(ctx context.Context, body []byte, signature string) (int64, error) {
	if s.webhookSecret != "" {
		if err := VerifySignature(s.webhookSecret, signature, body); err != nil {
			return 0, err
		}
	}

	req, err := ParseWebhook(body)
	if err != nil {
		return 0, err
	}
	if err := req.validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	return s.Enqueue(ctx, req)
}
