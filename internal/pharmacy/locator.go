// Package pharmacy finds nearby pharmacies from OpenStreetMap data
package pharmacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gmsas95/medminder/internal/config"
	apperrors "github.com/gmsas95/medminder/internal/errors"
	"github.com/gmsas95/medminder/internal/metrics"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const earthRadiusKm = 6371.0

// Cache stores geocoding results between runs
type Cache interface {
	GetKV(key string) ([]byte, error)
	SetKV(key string, value []byte, ttl time.Duration) error
}

// Coordinates is a point on the map
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Pharmacy is one search result
type Pharmacy struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	Address      string  `json:"address"`
	OpeningHours string  `json:"opening_hours"`
	Phone        string  `json:"phone"`
	Distance     float64 `json:"distance"` // km
}

// Details is everything known about one pharmacy
type Details struct {
	Pharmacy
	Website    string            `json:"website"`
	Wheelchair string            `json:"wheelchair"`
	Dispensing string            `json:"dispensing"`
	Tags       map[string]string `json:"tags"`
}

// Locator queries Nominatim and Overpass
type Locator struct {
	cfg     config.PharmacyConfig
	client  *http.Client
	cache   Cache
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a locator. cache may be nil.
func New(cfg config.PharmacyConfig, cache Cache, m *metrics.Metrics, logger *zap.Logger) *Locator {
	if m == nil {
		m = metrics.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10
	}
	return &Locator{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(timeout) * time.Second},
		cache:  cache,
		// Nominatim usage policy: at most one request per second
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:    "openstreetmap",
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
		metrics: m,
		logger:  logger,
	}
}

// get performs a GET through the breaker and returns the body
func (l *Locator) get(ctx context.Context, service, rawURL string) ([]byte, error) {
	start := time.Now()
	body, err := l.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", l.cfg.UserAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := l.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("%s returned %d: %s", service, resp.StatusCode, strings.TrimSpace(string(snippet)))
		}
		return io.ReadAll(resp.Body)
	})
	l.metrics.RecordExternal(service, err, time.Since(start))

	if err != nil {
		l.logger.Error("Map service request failed", zap.String("service", service), zap.Error(err))
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperrors.WithCause(apperrors.ErrExternalUnavailable, err)
		}
		return nil, apperrors.WithCause(apperrors.ErrExternalUnavailable, fmt.Errorf("%s: %w", service, err))
	}
	return body, nil
}

func cacheKey(address string) string {
	return "geocode:" + strings.ToLower(strings.Join(strings.Fields(address), " "))
}

// Geocode converts an address to coordinates
func (l *Locator) Geocode(ctx context.Context, address string) (*Coordinates, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, apperrors.Validation("address is required")
	}

	key := cacheKey(address)
	if l.cache != nil {
		if data, err := l.cache.GetKV(key); err == nil && data != nil {
			var c Coordinates
			if json.Unmarshal(data, &c) == nil {
				return &c, nil
			}
		}
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")
	body, err := l.get(ctx, "nominatim", strings.TrimSuffix(l.cfg.NominatimURL, "/")+"/search?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, apperrors.WithCause(apperrors.ErrExternalUnavailable, fmt.Errorf("nominatim: %w", err))
	}
	if len(results) == 0 {
		l.logger.Warn("Could not geocode address", zap.String("address", address))
		return nil, apperrors.WithCause(apperrors.ErrNotFound, fmt.Errorf("address %q not found", address))
	}

	lat, errLat := strconv.ParseFloat(results[0].Lat, 64)
	lon, errLon := strconv.ParseFloat(results[0].Lon, 64)
	if errLat != nil || errLon != nil {
		return nil, apperrors.WithCause(apperrors.ErrExternalUnavailable, fmt.Errorf("nominatim returned bad coordinates"))
	}
	c := &Coordinates{Lat: lat, Lon: lon}

	if l.cache != nil {
		data, _ := json.Marshal(c)
		ttl := time.Duration(l.cfg.CacheTTL) * time.Hour
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		if err := l.cache.SetKV(key, data, ttl); err != nil {
			l.logger.Warn("Failed to cache geocode result", zap.Error(err))
		}
	}
	return c, nil
}

type element struct {
	ID   int64             `json:"id"`
	Lat  float64           `json:"lat"`
	Lon  float64           `json:"lon"`
	Tags map[string]string `json:"tags"`
}

func (l *Locator) overpass(ctx context.Context, query string) ([]element, error) {
	q := url.Values{}
	q.Set("data", query)
	body, err := l.get(ctx, "overpass", l.cfg.OverpassURL+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var data struct {
		Elements []element `json:"elements"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, apperrors.WithCause(apperrors.ErrExternalUnavailable, fmt.Errorf("overpass: %w", err))
	}
	return data.Elements, nil
}

// Nearby finds pharmacies within radius meters, closest first
func (l *Locator) Nearby(ctx context.Context, lat, lon float64, radius int) ([]Pharmacy, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, apperrors.Validation("coordinates out of range")
	}
	if radius <= 0 {
		radius = l.cfg.SearchRadius
	}

	query := fmt.Sprintf("[out:json];node[amenity=pharmacy](around:%d,%f,%f);out;", radius, lat, lon)
	elements, err := l.overpass(ctx, query)
	if err != nil {
		return nil, err
	}

	pharmacies := make([]Pharmacy, 0, len(elements))
	for _, e := range elements {
		p := fromElement(e)
		p.Distance = Distance(lat, lon, e.Lat, e.Lon)
		pharmacies = append(pharmacies, p)
	}
	sort.SliceStable(pharmacies, func(i, j int) bool {
		return pharmacies[i].Distance < pharmacies[j].Distance
	})

	if max := l.cfg.MaxResults; max > 0 && len(pharmacies) > max {
		pharmacies = pharmacies[:max]
	}
	return pharmacies, nil
}

// SearchByAddress geocodes address and finds pharmacies around it
func (l *Locator) SearchByAddress(ctx context.Context, address string, radius int) (*Coordinates, []Pharmacy, error) {
	c, err := l.Geocode(ctx, address)
	if err != nil {
		return nil, nil, err
	}
	pharmacies, err := l.Nearby(ctx, c.Lat, c.Lon, radius)
	if err != nil {
		return c, nil, err
	}
	return c, pharmacies, nil
}

// Details looks up one pharmacy by its OpenStreetMap node id
func (l *Locator) Details(ctx context.Context, id int64) (*Details, error) {
	elements, err := l.overpass(ctx, fmt.Sprintf("[out:json];node(id:%d);out body;", id))
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		return nil, apperrors.WithCause(apperrors.ErrNotFound, fmt.Errorf("no pharmacy with id %d", id))
	}

	e := elements[0]
	return &Details{
		Pharmacy:   fromElement(e),
		Website:    tag(e.Tags, "Unknown", "website", "contact:website"),
		Wheelchair: tag(e.Tags, "Unknown", "wheelchair"),
		Dispensing: tag(e.Tags, "Unknown", "dispensing"),
		Tags:       e.Tags,
	}, nil
}

func fromElement(e element) Pharmacy {
	return Pharmacy{
		ID:           e.ID,
		Name:         tag(e.Tags, "Unknown Pharmacy", "name"),
		Lat:          e.Lat,
		Lon:          e.Lon,
		Address:      FormatAddress(e.Tags),
		OpeningHours: tag(e.Tags, "Unknown", "opening_hours"),
		Phone:        tag(e.Tags, "Unknown", "phone", "contact:phone"),
	}
}

// tag returns the first present key, or fallback
func tag(tags map[string]string, fallback string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(tags[k]); v != "" {
			return v
		}
	}
	return fallback
}

// FormatAddress builds "12 Main St, Springfield, 12345" from addr:* tags
func FormatAddress(tags map[string]string) string {
	var parts []string

	street, number := tags["addr:street"], tags["addr:housenumber"]
	switch {
	case street != "" && number != "":
		parts = append(parts, number+" "+street)
	case street != "":
		parts = append(parts, street)
	}
	if city := tags["addr:city"]; city != "" {
		parts = append(parts, city)
	}
	if pc := tags["addr:postcode"]; pc != "" {
		parts = append(parts, pc)
	}

	if len(parts) > 0 {
		return strings.Join(parts, ", ")
	}
	return tag(tags, "Unknown address", "address")
}

// Distance is the haversine distance in kilometers
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
