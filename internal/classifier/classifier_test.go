package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firefly-ai-categorize/internal/categorize"
	"firefly-ai-categorize/internal/config"
	"firefly-ai-categorize/internal/entity"
	"firefly-ai-categorize/internal/logging"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   string
		wantOK bool
	}{
		{"json", `{"category": "Groceries"}`, "Groceries", true},
		{"fenced json", "```json\n{\"category\": \"Dining\"}\n```", "Dining", true},
		{"json in prose", `Sure! {"category":"Bills"} hope that helps`, "Bills", true},
		{"json null", `{"category": null}`, "", false},
		{"json empty", `{"category": ""}`, "", false},
		{"bare name", "Groceries.", "Groceries", true},
		{"quoted name", `"Dining"`, "Dining", true},
		{"none", "None", "", false},
		{"blank", "   ", "", false},
		{"multi line prose", "I think\nmaybe groceries", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseCategory(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	dining := "Dining"
	req := categorize.ClassifyRequest{
		Categories:   []string{"Groceries", "Dining"},
		MerchantName: "Corner Bistro",
		Description:  "dinner",
		Amount:       "-23.5",
		History: []entity.TransactionSnapshot{
			{Description: "lunch", Amount: "12", CategoryName: &dining, Date: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
			{Description: "coffee", Amount: "abc"},
		},
	}

	p := BuildPrompt(req, "A small bistro downtown")

	assert.Contains(t, p, "- Groceries\n- Dining\n")
	assert.Contains(t, p, "Merchant: Corner Bistro")
	assert.Contains(t, p, "Amount: 23.50")
	assert.Contains(t, p, "- 2026-01-02 | lunch | 12.00 | Dining")
	assert.Contains(t, p, "- unknown date | coffee | abc | uncategorized")
	assert.Contains(t, p, "A small bistro downtown")
}

func TestBuildPrompt_OmitsEmptySections(t *testing.T) {
	p := BuildPrompt(categorize.ClassifyRequest{Categories: []string{"Bills"}, Amount: "1"}, "")

	assert.NotContains(t, p, "Recent transactions")
	assert.NotContains(t, p, "web search")
}

func TestTrimToTokens_ShortTextUntouched(t *testing.T) {
	assert.Equal(t, "short", TrimToTokens("short", 400))
	assert.Equal(t, "anything goes", TrimToTokens("anything goes", 0))
}

func resetEncoding(t *testing.T) {
	t.Helper()
	prev := enc.Swap(nil)
	t.Cleanup(func() { enc.Store(prev) })
}

func TestTrimToTokens_FallsBackWithoutEncoding(t *testing.T) {
	resetEncoding(t)

	assert.Equal(t, strings.Repeat("a", 20), TrimToTokens(strings.Repeat("a", 100), 5))
}

func TestWarmEncoding_LoadErrorKeepsFallback(t *testing.T) {
	resetEncoding(t)

	ok := warmEncoding(func() (*tiktoken.Tiktoken, error) {
		return nil, errors.New("no network")
	}, time.Second, logging.Nop())

	assert.False(t, ok)
	assert.Nil(t, enc.Load())
	assert.Equal(t, "abcd", TrimToTokens("abcdefgh", 1))
}

func TestWarmEncoding_SlowLoadFinishesInBackground(t *testing.T) {
	resetEncoding(t)
	release := make(chan struct{})
	loaded := &tiktoken.Tiktoken{}

	ok := warmEncoding(func() (*tiktoken.Tiktoken, error) {
		<-release
		return loaded, nil
	}, 20*time.Millisecond, logging.Nop())
	assert.False(t, ok)
	assert.Nil(t, enc.Load())

	close(release)
	require.Eventually(t, func() bool { return enc.Load() == loaded }, time.Second, 5*time.Millisecond)
}

func TestTrimRunes(t *testing.T) {
	assert.Equal(t, "héll", trimRunes("héllo", 4))
	assert.Equal(t, "hi", trimRunes("hi", 4))
}

type fakeBackend struct {
	answer string
	err    error
	user   string
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Complete(ctx context.Context, system, user string) (string, error) {
	f.user = user
	return f.answer, f.err
}

func TestClassifier_Categorize(t *testing.T) {
	backend := &fakeBackend{answer: `{"category": "Groceries"}`}
	c := NewClassifier(backend, 0, logging.Nop())

	got, ok, err := c.Categorize(context.Background(), categorize.ClassifyRequest{
		Categories:   []string{"Groceries"},
		MerchantName: "ACME",
		Amount:       "5",
		Context:      "ACME sells food",
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Groceries", got)
	assert.True(t, strings.Contains(backend.user, "ACME sells food"))
}

func TestClassifier_BackendError(t *testing.T) {
	boom := errors.New("rate limited")
	c := NewClassifier(&fakeBackend{err: boom}, 0, logging.Nop())

	_, ok, err := c.Categorize(context.Background(), categorize.ClassifyRequest{})
	require.ErrorIs(t, err, boom)
	assert.False(t, ok)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), config.ClassifierConfig{Provider: "claude", APIKey: "k"}, logging.Nop())
	require.Error(t, err)
}
