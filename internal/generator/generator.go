// SPDX-License-Identifier: MPL-2.0

package generator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"

	"github.com/faultlab/faultlab/internal/catalog"
	"github.com/faultlab/faultlab/internal/failure"
	"github.com/faultlab/faultlab/internal/scenario"
)

var (
	// Compile-time interface checks
	_ Generator = (*GenAI)(nil)
	_ Generator = (*FromCatalog)(nil)
)

type (
	// Generator produces a new issue. An empty category lets the generator
	// choose; an empty difficulty means easy.
	Generator interface {
		Generate(ctx context.Context, difficulty scenario.Difficulty, category scenario.Category) (*scenario.Issue, error)
	}

	// FromCatalog picks uniformly among matching catalog issues. The
	// catalog can be swapped while requests are in flight.
	FromCatalog struct {
		catalog atomic.Pointer[catalog.Catalog]
		intn    func(n int) int
	}
)

// NewFromCatalog creates a catalog-backed generator.
func NewFromCatalog(c *catalog.Catalog) *FromCatalog {
	g := &FromCatalog{intn: rand.IntN}
	g.catalog.Store(c)
	return g
}

// Reload replaces the catalog used by later Generate calls.
func (g *FromCatalog) Reload(c *catalog.Catalog) {
	g.catalog.Store(c)
}

// Catalog returns the current catalog.
func (g *FromCatalog) Catalog() *catalog.Catalog {
	return g.catalog.Load()
}

// Generate returns a copy of a random catalog issue matching the request.
func (g *FromCatalog) Generate(ctx context.Context, difficulty scenario.Difficulty, category scenario.Category) (*scenario.Issue, error) {
	if err := checkRequest(difficulty, category); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, failure.Wrap(err, failure.KindGeneration, "pick catalog issue")
	}

	matches := g.catalog.Load().Filter(difficulty.OrDefault(), category)
	if len(matches) == 0 {
		return nil, failure.NewErrorContext().
			WithKind(failure.KindGeneration).
			WithOperation("pick catalog issue").
			WithResource(fmt.Sprintf("difficulty=%s category=%s", difficulty.OrDefault(), categoryOrAny(category))).
			WithSuggestion("Run 'faultlab catalog list' to see the available scenarios").
			WithSuggestion("Add scenarios with generator.catalog_dir").
			Wrap(fmt.Errorf("no catalog issue matches")).
			BuildError()
	}
	return matches[g.intn(len(matches))], nil
}

func checkRequest(difficulty scenario.Difficulty, category scenario.Category) error {
	if err := difficulty.Validate(); err != nil {
		return failure.InvalidInput("generate issue", err.Error())
	}
	if err := category.Validate(); err != nil {
		return failure.InvalidInput("generate issue", err.Error())
	}
	return nil
}

func categoryOrAny(c scenario.Category) string {
	if c == "" {
		return "any"
	}
	return string(c)
}
