package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// SourceUSGS is the earthquake feed source
const SourceUSGS = "usgs"

// usgsFeeds are the summary feeds published by the USGS
var usgsFeeds = map[string]bool{}

func init() {
	for _, level := range []string{"significant", "4.5", "2.5", "1.0", "all"} {
		for _, period := range []string{"hour", "day", "week", "month"} {
			usgsFeeds[level+"_"+period] = true
		}
	}
}

// USGS reports the largest magnitude in a USGS GeoJSON summary feed. Keys
// are feed names such as "all_hour" or "significant_day"; an empty feed
// yields 0.
type USGS struct {
	client  *http.Client
	baseURL string
}

// NewUSGS creates an earthquake feed fetcher
func NewUSGS(client *http.Client, baseURL string) *USGS {
	if client == nil {
		client = http.DefaultClient
	}
	return &USGS{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type usgsFeed struct {
	Features []struct {
		ID         string `json:"id"`
		Properties struct {
			Mag   *float64 `json:"mag"`
			Place string   `json:"place"`
			Time  int64    `json:"time"`
		} `json:"properties"`
	} `json:"features"`
}

func (u *USGS) Fetch(ctx context.Context, key string) (float64, error) {
	if !usgsFeeds[key] {
		return 0, newError(SourceUSGS, key, KindNotFound, fmt.Errorf("%w: feed %q", ErrUnknownKey, key))
	}

	var feed usgsFeed
	if err := getJSON(ctx, u.client, SourceUSGS, key, u.baseURL+"/"+key+".geojson", &feed); err != nil {
		return 0, err
	}

	var largest float64
	for _, f := range feed.Features {
		if f.Properties.Mag != nil && *f.Properties.Mag > largest {
			largest = *f.Properties.Mag
		}
	}
	return largest, nil
}
