package feed

import (
	"context"
	"errors"
	"strings"
)

// Source binds one feed URL to a fetcher and the RSS parser.
type Source struct {
	url     string
	fetcher *Fetcher
}

// NewSource creates a source for url. A nil fetcher uses the defaults.
func NewSource(url string, fetcher *Fetcher) (*Source, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("feed: url is required")
	}
	if fetcher == nil {
		fetcher = NewFetcher(0, 0)
	}
	return &Source{url: url, fetcher: fetcher}, nil
}

// URL returns the feed address.
func (s *Source) URL() string {
	return s.url
}

// Fetch downloads and parses the feed. Errors are *FetchError or *ParseError.
func (s *Source) Fetch(ctx context.Context) (Snapshot, error) {
	raw, err := s.fetcher.Fetch(ctx, s.url)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}
