// Package categorize decides which category a queued transaction belongs to.
//
// The engine prefers the merchant memo, watches recent history for manual
// corrections of that memo, and falls back to a classifier when the memo is
// missing, stale, or contradicted by an unusable override.
package categorize

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"firefly-ai-categorize/internal/entity"
	"firefly-ai-categorize/internal/metrics"
)

const (
	ReasonNoCategories     = "no categories configured"
	ReasonNoProposal       = "classifier could not determine category"
	ReasonCategoryNotFound = "category not found"

	DefaultHistoryLimit = 5
)

// StoreError marks a merchant-cache persistence failure. These are not
// collaborator failures and must not be retried by job bookkeeping.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("merchant cache %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

type Deps struct {
	Categories CategoryProvider
	History    HistoryProvider
	Context    MerchantContextProvider
	Classifier Classifier
	Cache      CacheStore
}

type Engine struct {
	categories   CategoryProvider
	history      HistoryProvider
	context      MerchantContextProvider
	classifier   Classifier
	cache        CacheStore
	historyLimit int
	log          *zerolog.Logger
}

func NewEngine(deps Deps, historyLimit int, log *zerolog.Logger) *Engine {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Engine{
		categories:   deps.Categories,
		history:      deps.History,
		context:      deps.Context,
		classifier:   deps.Classifier,
		cache:        deps.Cache,
		historyLimit: historyLimit,
		log:          log,
	}
}

// Decide resolves a category for job. Every call validates against a fresh
// category list, so a memo pointing at a deleted category never survives.
func (e *Engine) Decide(ctx context.Context, job *entity.Job) (entity.Decision, error) {
	d, err := e.decide(ctx, job)
	if err == nil {
		metrics.IncDecision(string(d.Kind))
	}
	return d, err
}

func (e *Engine) decide(ctx context.Context, job *entity.Job) (entity.Decision, error) {
	categories, err := e.categories.ListCategories(ctx)
	if err != nil {
		return entity.Decision{}, fmt.Errorf("list categories: %w", err)
	}
	if len(categories) == 0 {
		return entity.Skip(ReasonNoCategories), nil
	}
	idx := indexCategories(categories)

	entry, err := e.cache.Get(ctx, job.MerchantName)
	if err != nil {
		return entity.Decision{}, &StoreError{Op: "get", Err: err}
	}

	if entry != nil {
		if !idx.has(entry.CategoryID) {
			if err := e.cache.Invalidate(ctx, job.MerchantName); err != nil {
				return entity.Decision{}, &StoreError{Op: "invalidate", Err: err}
			}
			metrics.CacheInvalidationsTotal.Inc()
			e.log.Info().
				Str("merchant", job.MerchantName).
				Str("category_id", entry.CategoryID).
				Msg("cached category no longer exists, entry invalidated")
		} else {
			d, err := e.fromCache(ctx, job, entry)
			if err != nil {
				return entity.Decision{}, err
			}
			if d.Kind == entity.DecisionCache {
				return d, nil
			}

			if idx.has(d.CategoryID) {
				if err := e.cache.UpdateFromOverride(ctx, job.MerchantName, d.CategoryName, d.CategoryID); err != nil {
					return entity.Decision{}, &StoreError{Op: "override", Err: err}
				}
				e.log.Info().
					Str("merchant", job.MerchantName).
					Str("from", entry.CategoryName).
					Str("to", d.CategoryName).
					Msg("manual override detected, cache updated")
				return d, nil
			}
			e.log.Info().
				Str("merchant", job.MerchantName).
				Str("category_id", d.CategoryID).
				Msg("override category unknown, falling back to classifier")
		}
	}

	return e.fromModel(ctx, job, categories)
}

// fromCache compares the memo with the categorized part of recent history.
// Unanimous disagreement is an override taken from the most recent
// transaction. Anything else keeps the memo.
func (e *Engine) fromCache(ctx context.Context, job *entity.Job, entry *entity.CacheEntry) (entity.Decision, error) {
	recent, err := e.history.RecentByMerchant(ctx, job.MerchantName, e.historyLimit)
	if err != nil {
		return entity.Decision{}, fmt.Errorf("recent transactions: %w", err)
	}

	memo := entity.Decision{
		Kind:         entity.DecisionCache,
		CategoryID:   entry.CategoryID,
		CategoryName: entry.CategoryName,
	}

	var (
		matching  int
		differing []entity.TransactionSnapshot
	)
	for _, t := range recent {
		if !t.Categorized() {
			continue
		}
		if *t.CategoryName == entry.CategoryName {
			matching++
		} else {
			differing = append(differing, t)
		}
	}

	if len(differing) == 0 || matching > 0 {
		return memo, nil
	}

	latest := differing[0]
	d := entity.Decision{Kind: entity.DecisionOverride, CategoryName: *latest.CategoryName}
	if latest.CategoryID != nil {
		d.CategoryID = *latest.CategoryID
	}
	return d, nil
}

func (e *Engine) fromModel(ctx context.Context, job *entity.Job, categories []entity.Category) (entity.Decision, error) {
	webContext, _ := e.context.Search(ctx, job.MerchantName)

	recent, err := e.history.RecentByMerchant(ctx, job.MerchantName, e.historyLimit)
	if err != nil {
		return entity.Decision{}, fmt.Errorf("recent transactions: %w", err)
	}

	names := make([]string, 0, len(categories))
	for _, c := range categories {
		names = append(names, c.Name)
	}

	proposed, ok, err := e.classifier.Categorize(ctx, ClassifyRequest{
		Categories:   names,
		MerchantName: job.MerchantName,
		Description:  job.Description,
		Amount:       job.Amount,
		History:      recent,
		Context:      webContext,
	})
	if err != nil {
		return entity.Decision{}, fmt.Errorf("classify: %w", err)
	}
	if !ok {
		return entity.Skip(ReasonNoProposal), nil
	}

	category, found := ResolveCategory(proposed, categories)
	if !found {
		e.log.Info().
			Str("merchant", job.MerchantName).
			Str("proposed", proposed).
			Msg("classifier proposed an unknown category")
		return entity.Skip(ReasonCategoryNotFound), nil
	}

	if err := e.cache.Set(ctx, job.MerchantName, category.Name, category.ID); err != nil {
		return entity.Decision{}, &StoreError{Op: "set", Err: err}
	}
	return entity.Decision{
		Kind:         entity.DecisionModel,
		CategoryID:   category.ID,
		CategoryName: category.Name,
	}, nil
}
