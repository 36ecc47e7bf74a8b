package fetch

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// SourceCoinGecko is the crypto price source
const SourceCoinGecko = "coingecko"

// CoinGecko fetches spot prices from the CoinGecko simple price API. Keys
// are coin ids such as "bitcoin".
type CoinGecko struct {
	client   *http.Client
	baseURL  string
	currency string
}

// NewCoinGecko creates a price fetcher quoting in currency (e.g. "usd").
func NewCoinGecko(client *http.Client, baseURL, currency string) *CoinGecko {
	if client == nil {
		client = http.DefaultClient
	}
	if currency == "" {
		currency = "usd"
	}
	return &CoinGecko{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		currency: strings.ToLower(currency),
	}
}

func (c *CoinGecko) Fetch(ctx context.Context, key string) (float64, error) {
	q := url.Values{}
	q.Set("ids", key)
	q.Set("vs_currencies", c.currency)

	// {"bitcoin":{"usd":50000}}
	var body map[string]map[string]float64
	if err := getJSON(ctx, c.client, SourceCoinGecko, key, c.baseURL+"/simple/price?"+q.Encode(), &body); err != nil {
		return 0, err
	}

	price, ok := body[key][c.currency]
	if !ok {
		return 0, newError(SourceCoinGecko, key, KindNotFound, ErrUnknownKey)
	}
	return price, nil
}
