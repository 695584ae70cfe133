// Package questionbank imports real prediction-market questions from
// Manifold so generated scenarios read like live markets.
package questionbank

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonnyspicer/mango"
)

// Searcher is the part of the Manifold client the scanner uses.
type Searcher interface {
	SearchMarkets(req mango.SearchMarketsRequest) (*[]mango.FullMarket, error)
}

var _ Searcher = (*mango.Client)(nil)

// Question is one imported market question.
type Question struct {
	ID          string
	Text        string
	URL         string
	Probability float64
}

// Scanner fetches open binary markets from the Manifold API.
type Scanner struct {
	client Searcher
}

func NewScanner(client Searcher) *Scanner {
	return &Scanner{client: client}
}

// ScanBinary fetches open binary markets sorted by liquidity. Resolved and
// blank questions are skipped.
func (s *Scanner) ScanBinary(limit int64) ([]Question, error) {
	markets, err := s.client.SearchMarkets(mango.SearchMarketsRequest{
		Filter:       "open",
		ContractType: "BINARY",
		Sort:         "liquidity",
		Limit:        limit,
	})
	if err != nil {
		return nil, fmt.Errorf("searching binary markets: %w", err)
	}
	if markets == nil {
		return nil, nil
	}

	result := make([]Question, 0, len(*markets))
	for _, m := range *markets {
		text := strings.TrimSpace(m.Question)
		if m.IsResolved || text == "" {
			continue
		}
		result = append(result, Question{
			ID:          m.Id,
			Text:        text,
			URL:         m.Url,
			Probability: m.Probability,
		})
	}
	slog.Info("scanned binary markets", "count", len(result))
	return result, nil
}
