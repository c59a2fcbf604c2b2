// Package firefly talks to the Firefly III REST API.
package firefly

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"firefly-ai-categorize/internal/categorize"
	"firefly-ai-categorize/internal/entity"
)

var ErrUnexpectedStatus = errors.New("unexpected status from firefly")

var (
	_ categorize.CategoryProvider = (*Client)(nil)
	_ categorize.HistoryProvider  = (*Client)(nil)
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client for the instance at baseURL. A zero timeout
// leaves requests bounded only by the caller's context.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// ID decodes identifiers Firefly sends either as strings or as numbers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("firefly id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

type pagination struct {
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
}

type categoriesResponse struct {
	Data []struct {
		ID         ID `json:"id"`
		Attributes struct {
			Name string `json:"name"`
		} `json:"attributes"`
	} `json:"data"`
	Meta struct {
		Pagination pagination `json:"pagination"`
	} `json:"meta"`
}

// ListCategories walks every page of /api/v1/categories.
func (c *Client) ListCategories(ctx context.Context) ([]entity.Category, error) {
	var out []entity.Category
	for page := 1; ; page++ {
		var resp categoriesResponse
		q := url.Values{"page": {strconv.Itoa(page)}}
		if err := c.do(ctx, http.MethodGet, "/api/v1/categories?"+q.Encode(), nil, &resp); err != nil {
			return nil, fmt.Errorf("list categories: %w", err)
		}
		for _, d := range resp.Data {
			out = append(out, entity.Category{ID: string(d.ID), Name: d.Attributes.Name})
		}
		if len(resp.Data) == 0 || page >= resp.Meta.Pagination.TotalPages {
			break
		}
	}
	return out, nil
}

type split struct {
	JournalID       ID      `json:"transaction_journal_id"`
	Description     string  `json:"description"`
	DestinationName string  `json:"destination_name"`
	CategoryID      ID      `json:"category_id"`
	CategoryName    *string `json:"category_name"`
	Amount          string  `json:"amount"`
	Date            string  `json:"date"`
}

type searchResponse struct {
	Data []struct {
		ID         ID `json:"id"`
		Attributes struct {
			Transactions []split `json:"transactions"`
		} `json:"attributes"`
	} `json:"data"`
}

// RecentByMerchant searches transactions paid to merchantName and returns at
// most limit splits, newest first.
func (c *Client) RecentByMerchant(ctx context.Context, merchantName string, limit int) ([]entity.TransactionSnapshot, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := url.Values{
		"query": {fmt.Sprintf("destination_account_is:%q", merchantName)},
		"limit": {strconv.Itoa(limit)},
		"page":  {"1"},
	}

	var resp searchResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/search/transactions?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("search transactions: %w", err)
	}

	var out []entity.TransactionSnapshot
	for _, group := range resp.Data {
		for _, s := range group.Attributes.Transactions {
			out = append(out, s.snapshot(group.ID))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s split) snapshot(groupID ID) entity.TransactionSnapshot {
	snap := entity.TransactionSnapshot{
		ID:              string(groupID),
		Description:     s.Description,
		DestinationName: s.DestinationName,
		Amount:          s.Amount,
	}
	if s.JournalID != "" {
		snap.ID = string(s.JournalID)
	}
	if s.CategoryName != nil && *s.CategoryName != "" {
		name := *s.CategoryName
		snap.CategoryName = &name
		if s.CategoryID != "" {
			id := string(s.CategoryID)
			snap.CategoryID = &id
		}
	}
	if t, err := time.Parse(time.RFC3339, s.Date); err == nil {
		snap.Date = t
	}
	return snap
}

type updateRequest struct {
	ApplyRules   bool          `json:"apply_rules"`
	FireWebhooks bool          `json:"fire_webhooks"`
	Transactions []updateSplit `json:"transactions"`
}

type updateSplit struct {
	CategoryID string   `json:"category_id"`
	Tags       []string `json:"tags"`
}

// ApplyCategory sets the category and replaces the tags of a transaction.
// Rules and webhooks stay off so the update does not enqueue itself again.
func (c *Client) ApplyCategory(ctx context.Context, transactionID, categoryID string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	body := updateRequest{
		Transactions: []updateSplit{{CategoryID: categoryID, Tags: tags}},
	}
	if err := c.do(ctx, http.MethodPut, "/api/v1/transactions/"+url.PathEscape(transactionID), body, nil); err != nil {
		return fmt.Errorf("update transaction %s: %w", transactionID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
