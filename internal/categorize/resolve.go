package categorize

import (
	"strings"

	"firefly-ai-categorize/internal/entity"
)

// ResolveCategory maps a classifier answer onto the category list. Matching
// runs in three passes and the first hit in list order wins:
//  1. exact, case-insensitive
//  2. case-insensitive substring in either direction
//  3. the same substring test with plural word endings folded ("groceries" -> "grocery")
func ResolveCategory(proposed string, categories []entity.Category) (entity.Category, bool) {
	want := strings.ToLower(strings.TrimSpace(proposed))
	if want == "" {
		return entity.Category{}, false
	}

	for _, c := range categories {
		if strings.EqualFold(strings.TrimSpace(c.Name), want) {
			return c, true
		}
	}

	if c, ok := findContaining(want, categories, strings.ToLower); ok {
		return c, true
	}
	return findContaining(foldPlurals(want), categories, func(s string) string {
		return foldPlurals(strings.ToLower(s))
	})
}

func findContaining(want string, categories []entity.Category, norm func(string) string) (entity.Category, bool) {
	if want == "" {
		return entity.Category{}, false
	}
	for _, c := range categories {
		name := norm(strings.TrimSpace(c.Name))
		if name == "" {
			continue
		}
		if strings.Contains(want, name) || strings.Contains(name, want) {
			return c, true
		}
	}
	return entity.Category{}, false
}

func foldPlurals(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		switch {
		case len(w) > 4 && strings.HasSuffix(w, "ies"):
			words[i] = w[:len(w)-3] + "y"
		case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
			words[i] = w[:len(w)-1]
		}
	}
	return strings.Join(words, " ")
}

type categoryIndex map[string]entity.Category

func indexCategories(categories []entity.Category) categoryIndex {
	idx := make(categoryIndex, len(categories))
	for _, c := range categories {
		idx[c.ID] = c
	}
	return idx
}

func (idx categoryIndex) has(id string) bool {
	if id == "" {
		return false
	}
	_, ok := idx[id]
	return ok
}
