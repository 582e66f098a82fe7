package web_search

import (
	"context"

	"github.com/mohammad-safakhou/deepresearch/tools/web_search/brave"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search/models"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search/serper"
)

type Error struct{ Msg string }

func (e *Error) Error() string { return e.Msg }

// WebSearcher discovers candidate URLs for a query, optionally scoped to
// specific sites (e.g. instagram.com for the instagram platform bucket).
type WebSearcher interface {
	Discover(ctx context.Context, q string, k int, sites []string) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var ErrUnsupportedProvider = &Error{"unsupported provider"}

func NewWebSearcher(provider Provider, apiKey string) (WebSearcher, error) {
	switch provider {
	case SerperProvider:
		return serper.Search{ApiKey: apiKey}, nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}
