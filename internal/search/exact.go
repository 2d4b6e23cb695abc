package search

import (
	"context"
	"strings"

	scopyerr "github.com/Suehn/Scopy-sub006/internal/errors"
	"github.com/Suehn/Scopy-sub006/internal/store"
)

// buildMatchQuery converts a user query into an FTS5 MATCH expression.
// Each whitespace token becomes a quoted prefix term ("tok"*), with
// embedded quotes doubled, and terms are joined by implicit AND. The
// prefix star is what makes "ab" match "abc"; FTS terms never match on
// bare substrings.
func buildMatchQuery(query string) string {
	tokens := strings.Fields(query)
	if len(tokens) == 0 {
		return ""
	}
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		escaped := strings.ReplaceAll(tok, `"`, `""`)
		terms[i] = `"` + escaped + `"*`
	}
	return strings.Join(terms, " ")
}

// searchExact answers an exact-mode request through the FTS table.
// Results are always complete (never a prefilter page): Total is known
// exactly when the probe shows there is no further page.
func (e *Engine) searchExact(ctx context.Context, req *Request) (*ResultPage, error) {
	match := buildMatchQuery(req.Query)
	if match == "" {
		return nil, scopyerr.InvalidQuery("query has no searchable tokens", nil)
	}

	byRelevance := req.SortMode != SortRecent
	page, err := e.reader.SearchExact(ctx, match, req.filter(), byRelevance, req.Limit, req.Offset)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	return finishPage(page, req), nil
}

// finishPage converts a store page to a result page, deriving Total
// from the LIMIT n+1 probe when the result fits.
func finishPage(page *store.Page, req *Request) *ResultPage {
	out := &ResultPage{
		Items:   page.Items,
		HasMore: page.HasMore,
		Total:   TotalUnknown,
	}
	if !page.HasMore {
		if len(page.Items) == 0 && req.Offset > 0 {
			// Offset ran past the corpus; the probe says nothing about
			// the real count.
			return out
		}
		out.Total = req.Offset + len(page.Items)
	}
	return out
}
