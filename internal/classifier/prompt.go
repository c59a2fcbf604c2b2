package classifier

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"firefly-ai-categorize/internal/categorize"
)

const systemPrompt = `You categorize personal finance transactions.
Pick exactly one category from the list you are given. Never invent a category.
Answer with JSON only: {"category": "<name>"}. If none of the categories fits, answer {"category": null}.`

// BuildPrompt renders the user message for a classification request.
// ctxText is already trimmed to the token budget.
func BuildPrompt(req categorize.ClassifyRequest, ctxText string) string {
	var b strings.Builder

	b.WriteString("Categories:\n")
	for _, c := range req.Categories {
		fmt.Fprintf(&b, "- %s\n", c)
	}

	b.WriteString("\nTransaction:\n")
	fmt.Fprintf(&b, "Merchant: %s\n", req.MerchantName)
	fmt.Fprintf(&b, "Description: %s\n", req.Description)
	fmt.Fprintf(&b, "Amount: %s\n", formatAmount(req.Amount))

	if len(req.History) > 0 {
		b.WriteString("\nRecent transactions with this merchant:\n")
		for _, t := range req.History {
			category := "uncategorized"
			if t.Categorized() {
				category = *t.CategoryName
			}
			date := "unknown date"
			if !t.Date.IsZero() {
				date = t.Date.Format("2006-01-02")
			}
			fmt.Fprintf(&b, "- %s | %s | %s | %s\n", date, t.Description, formatAmount(t.Amount), category)
		}
	}

	if ctxText != "" {
		b.WriteString("\nAbout the merchant (web search):\n")
		b.WriteString(ctxText)
		b.WriteString("\n")
	}

	return b.String()
}

// formatAmount prints an absolute value with two decimals. Unparseable input
// is passed through untouched.
func formatAmount(s string) string {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return s
	}
	return d.Abs().StringFixed(2)
}
