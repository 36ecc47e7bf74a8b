package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// SourceWeather is the Open-Meteo forecast source
const SourceWeather = "weather"

// Coordinates locate a city for the weather source
type Coordinates struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// DefaultCities are the locations known out of the box
func DefaultCities() map[string]Coordinates {
	return map[string]Coordinates{
		"berlin": {Latitude: 52.52, Longitude: 13.405},
		"london": {Latitude: 51.5074, Longitude: -0.1278},
		"paris":  {Latitude: 48.8566, Longitude: 2.3522},
	}
}

// weatherMetrics maps key metric names to Open-Meteo hourly variables
var weatherMetrics = map[string]string{
	"temperature": "temperature_2m",
	"humidity":    "relative_humidity_2m",
	"wind_speed":  "windspeed_10m",
}

// Weather reads the latest hourly reading from the Open-Meteo forecast API.
// Keys have the form "<city>/<metric>", e.g. "berlin/temperature".
type Weather struct {
	client  *http.Client
	baseURL string
	cities  map[string]Coordinates
}

// NewWeather creates a weather fetcher for cities (DefaultCities when nil).
func NewWeather(client *http.Client, baseURL string, cities map[string]Coordinates) *Weather {
	if client == nil {
		client = http.DefaultClient
	}
	if len(cities) == 0 {
		cities = DefaultCities()
	}
	normalized := make(map[string]Coordinates, len(cities))
	for name, c := range cities {
		normalized[strings.ToLower(name)] = c
	}
	return &Weather{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		cities:  normalized,
	}
}

type forecast struct {
	Hourly map[string]any `json:"hourly"`
}

func (w *Weather) Fetch(ctx context.Context, key string) (float64, error) {
	city, metric, ok := strings.Cut(key, "/")
	if !ok {
		return 0, newError(SourceWeather, key, KindNotFound, fmt.Errorf("%w: expected <city>/<metric>", ErrUnknownKey))
	}
	coords, ok := w.cities[city]
	if !ok {
		return 0, newError(SourceWeather, key, KindNotFound, fmt.Errorf("%w: city %q", ErrUnknownKey, city))
	}
	variable, ok := weatherMetrics[metric]
	if !ok {
		return 0, newError(SourceWeather, key, KindNotFound, fmt.Errorf("%w: metric %q", ErrUnknownKey, metric))
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(coords.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(coords.Longitude, 'f', -1, 64))
	q.Set("hourly", variable)
	q.Set("timezone", "auto")

	var body forecast
	if err := getJSON(ctx, w.client, SourceWeather, key, w.baseURL+"/forecast?"+q.Encode(), &body); err != nil {
		return 0, err
	}

	return latestReading(body, variable, key)
}

// latestReading picks the value at the greatest hourly timestamp.
func latestReading(body forecast, variable, key string) (float64, error) {
	times, _ := body.Hourly["time"].([]any)
	values, _ := body.Hourly[variable].([]any)
	if len(times) == 0 || len(times) != len(values) {
		return 0, newError(SourceWeather, key, KindDecode, fmt.Errorf("hourly %s series missing or misaligned", variable))
	}

	latest := -1
	var latestTime string
	for i, t := range times {
		ts, ok := t.(string)
		// ISO-8601 local times sort lexically
		if ok && ts > latestTime {
			latest, latestTime = i, ts
		}
	}
	if latest < 0 {
		return 0, newError(SourceWeather, key, KindDecode, fmt.Errorf("no hourly timestamps"))
	}

	v, ok := values[latest].(float64)
	if !ok {
		return 0, newError(SourceWeather, key, KindDecode, fmt.Errorf("no %s reading at %s", variable, latestTime))
	}
	return v, nil
}
