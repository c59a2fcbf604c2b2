package categorize_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firefly-ai-categorize/internal/categorize"
	"firefly-ai-categorize/internal/entity"
	"firefly-ai-categorize/internal/logging"
)

type fakeCategories struct {
	list []entity.Category
	err  error
}

func (f *fakeCategories) ListCategories(ctx context.Context) ([]entity.Category, error) {
	return f.list, f.err
}

type fakeHistory struct {
	recent []entity.TransactionSnapshot
	err    error
	calls  int
}

func (f *fakeHistory) RecentByMerchant(ctx context.Context, merchant string, limit int) ([]entity.TransactionSnapshot, error) {
	f.calls++
	if len(f.recent) > limit {
		return f.recent[:limit], f.err
	}
	return f.recent, f.err
}

type fakeSearch struct {
	text  string
	calls int
}

func (f *fakeSearch) Search(ctx context.Context, merchant string) (string, bool) {
	f.calls++
	return f.text, f.text != ""
}

type fakeClassifier struct {
	answer string
	err    error
	calls  int
	last   categorize.ClassifyRequest
}

func (f *fakeClassifier) Categorize(ctx context.Context, req categorize.ClassifyRequest) (string, bool, error) {
	f.calls++
	f.last = req
	return f.answer, f.answer != "", f.err
}

type fakeCache struct {
	entries     map[string]entity.CacheEntry
	invalidated []string
	overrides   int
	err         error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]entity.CacheEntry{}}
}

func (f *fakeCache) Get(ctx context.Context, merchant string) (*entity.CacheEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	e, ok := f.entries[merchant]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (f *fakeCache) Set(ctx context.Context, merchant, name, id string) error {
	if f.err != nil {
		return f.err
	}
	f.entries[merchant] = entity.CacheEntry{MerchantName: merchant, CategoryName: name, CategoryID: id}
	return nil
}

func (f *fakeCache) UpdateFromOverride(ctx context.Context, merchant, name, id string) error {
	f.overrides++
	if _, ok := f.entries[merchant]; ok {
		f.entries[merchant] = entity.CacheEntry{MerchantName: merchant, CategoryName: name, CategoryID: id}
	}
	return nil
}

func (f *fakeCache) Invalidate(ctx context.Context, merchant string) error {
	f.invalidated = append(f.invalidated, merchant)
	delete(f.entries, merchant)
	return nil
}

type harness struct {
	categories *fakeCategories
	history    *fakeHistory
	search     *fakeSearch
	classifier *fakeClassifier
	cache      *fakeCache
	engine     *categorize.Engine
}

func newHarness() *harness {
	h := &harness{
		categories: &fakeCategories{list: []entity.Category{
			{ID: "1", Name: "Groceries"},
			{ID: "2", Name: "Dining"},
		}},
		history:    &fakeHistory{},
		search:     &fakeSearch{},
		classifier: &fakeClassifier{},
		cache:      newFakeCache(),
	}
	h.engine = categorize.NewEngine(categorize.Deps{
		Categories: h.categories,
		History:    h.history,
		Context:    h.search,
		Classifier: h.classifier,
		Cache:      h.cache,
	}, 5, logging.Nop())
	return h
}

func strp(s string) *string { return &s }

func snapshot(id, categoryID, categoryName string, daysAgo int) entity.TransactionSnapshot {
	s := entity.TransactionSnapshot{
		ID:              id,
		Description:     "purchase",
		DestinationName: "ACME",
		Amount:          "10.00",
		Date:            time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -daysAgo),
	}
	if categoryName != "" {
		s.CategoryID = strp(categoryID)
		s.CategoryName = strp(categoryName)
	}
	return s
}

func job() *entity.Job {
	return &entity.Job{
		ID:            1,
		TransactionID: "tx-1",
		MerchantName:  "ACME",
		Description:   "weekly shop",
		Amount:        "-42.10",
	}
}

func TestDecide_NoCategoriesSkips(t *testing.T) {
	h := newHarness()
	h.categories.list = nil
	h.cache.entries["ACME"] = entity.CacheEntry{CategoryName: "Groceries", CategoryID: "1"}

	d, err := h.engine.Decide(context.Background(), job())
	require.NoError(t, err)
	assert.Equal(t, entity.DecisionSkip, d.Kind)
	assert.Equal(t, categorize.ReasonNoCategories, d.Reason)
	assert.Zero(t, h.classifier.calls)
}

func TestDecide_CacheHitWithoutHistory(t *testing.T) {
	h := newHarness()
	h.cache.entries["ACME"] = entity.CacheEntry{CategoryName: "Groceries", CategoryID: "1"}
	h.history.recent = []entity.TransactionSnapshot{snapshot("a", "", "", 1)}

	d, err := h.engine.Decide(context.Background(), job())
	require.NoError(t, err)
	assert.Equal(t, entity.Decision{Kind: entity.DecisionCache, CategoryID: "1", CategoryName: "Groceries"}, d)
	assert.Zero(t, h.classifier.calls)
	assert.Zero(t, h.search.calls)
}

func TestDecide_AllAgreeKeepsCache(t *testing.T) {
	h := newHarness()
	h.cache.entries["ACME"] = entity.CacheEntry{CategoryName: "Groceries", CategoryID: "1"}
	h.history.recent = []entity.TransactionSnapshot{
		snapshot("a", "1", "Groceries", 1),
		snapshot("b", "1", "Groceries", 2),
	}

	d, err := h.engine.Decide(context.Background(), job())
	require.NoError(t, err)
	assert.Equal(t, entity.DecisionCache, d.Kind)
	assert.Zero(t, h.cache.overrides)
}

func TestDecide_UnanimousDisagreementIsOverride(t *testing.T) {
	h := newHarness()
	h.cache.entries["ACME"] = entity.CacheEntry{CategoryName: "Groceries", CategoryID: "1"}
	h.categories.list = append(h.categories.list, entity.Category{ID: "3", Name: "Dining"})
	h.history.recent = []entity.TransactionSnapshot{
		snapshot("newest", "2", "Dining", 1),
		snapshot("b", "3", "Dining", 2),
		snapshot("c", "3", "Dining", 3),
	}

	d, err := h.engine.Decide(context.Background(), job())
	require.NoError(t, err)
	assert.Equal(t, entity.DecisionOverride, d.Kind)
	assert.Equal(t, "Dining", d.CategoryName)
	assert.Equal(t, "2", d.CategoryID, "override comes from the most recent transaction")
	assert.Equal(t, 1, h.cache.overrides)
	assert.Equal(t, "2", h.cache.entries["ACME"].CategoryID)
	assert.Zero(t, h.classifier.calls)
}

func TestDecide_MixedSignalKeepsCache(t *testing.T) {
	h := newHarness()
	h.cache.entries["ACME"] = entity.CacheEntry{CategoryName: "Groceries", CategoryID: "1"}
	h.history.recent = []entity.TransactionSnapshot{
		snapshot("a", "2", "Dining", 1),
		snapshot("b", "2", "Dining", 2),
		snapshot("c", "1", "Groceries", 3),
	}

	d, err := h.engine.Decide(context.Background(), job())
	require.NoError(t, err)
	assert.Equal(t, entity.DecisionCache, d.Kind)
	assert.Equal(t, "Groceries", d.CategoryName)
	assert.Zero(t, h.cache.overrides)
}

func TestDecide_StaleCacheIsInvalidated(t *testing.T) {
	h := newHarness()
	h.cache.entries["ACME"] = entity.CacheEntry{CategoryName: "Old", CategoryID: "99"}
	h.classifier.answer = "Groceries"

	d, err := h.engine.Decide(context.Background(), job())
	require.NoError(t, err)
	assert.Equal(t, []string{"ACME"}, h.cache.invalidated)
	assert.NotEqual(t, entity.DecisionCache, d.Kind)
	assert.Equal(t, entity.DecisionModel, d.Kind)
	assert.Equal(t, "1", h.cache.entries["ACME"].CategoryID)
}

func TestDecide_UnknownOverrideFallsBackToModel(t *testing.T) {
	h := newHarness()
	h.cache.entries["ACME"] = entity.CacheEntry{CategoryName: "Groceries", CategoryID: "1"}
	h.history.recent = []entity.TransactionSnapshot{snapshot("a", "42", "Deleted", 1)}
	h.classifier.answer = "Dining"

	d, err := h.engine.Decide(context.Background(), job())
	require.NoError(t, err)
	assert.Equal(t, entity.DecisionModel, d.Kind)
	assert.Equal(t, "2", d.CategoryID)
	assert.Zero(t, h.cache.overrides)
	assert.Equal(t, 1, h.classifier.calls)
}

func TestDecide_ModelPathPassesContextAndHistory(t *testing.T) {
	h := newHarness()
	h.search.text = "ACME is a supermarket chain"
	h.history.recent = []entity.TransactionSnapshot{snapshot("a", "", "", 1)}
	h.classifier.answer = "groceries"

	d, err := h.engine.Decide(context.Background(), job())
	require.NoError(t, err)
	assert.Equal(t, entity.Decision{Kind: entity.DecisionModel, CategoryID: "1", CategoryName: "Groceries"}, d)

	req := h.classifier.last
	assert.Equal(t, []string{"Groceries", "Dining"}, req.Categories)
	assert.Equal(t, "ACME", req.MerchantName)
	assert.Equal(t, "-42.10", req.Amount)
	assert.Equal(t, "ACME is a supermarket chain", req.Context)
	assert.Len(t, req.History, 1)

	entry := h.cache.entries["ACME"]
	assert.Equal(t, "Groceries", entry.CategoryName)
}

func TestDecide_ClassifierWithoutAnswerSkips(t *testing.T) {
	h := newHarness()

	d, err := h.engine.Decide(context.Background(), job())
	require.NoError(t, err)
	assert.Equal(t, entity.Skip(categorize.ReasonNoProposal), d)
	assert.Empty(t, h.cache.entries)
}

func TestDecide_UnresolvableAnswerSkips(t *testing.T) {
	h := newHarness()
	h.classifier.answer = "Utilities"

	d, err := h.engine.Decide(context.Background(), job())
	require.NoError(t, err)
	assert.Equal(t, entity.Skip(categorize.ReasonCategoryNotFound), d)
	assert.Empty(t, h.cache.entries)
}

func TestDecide_CollaboratorErrorsPropagate(t *testing.T) {
	h := newHarness()
	boom := errors.New("firefly down")
	h.categories.err = boom

	_, err := h.engine.Decide(context.Background(), job())
	require.ErrorIs(t, err, boom)

	var storeErr *categorize.StoreError
	assert.False(t, errors.As(err, &storeErr))
}

func TestDecide_CacheFailureIsStoreError(t *testing.T) {
	h := newHarness()
	h.cache.err = errors.New("connection refused")

	_, err := h.engine.Decide(context.Background(), job())
	require.Error(t, err)

	var storeErr *categorize.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "get", storeErr.Op)
}
