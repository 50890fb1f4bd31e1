// Package nominatim resolves free-text locations through a Nominatim
// compatible search API.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/xavierca1/lead-marketplace/internal/entity"
	"github.com/xavierca1/lead-marketplace/internal/geo"
)

// AmbiguityKm is the distance between the two best candidates above which
// a query is considered ambiguous.
const AmbiguityKm = 25.0

type Config struct {
	BaseURL     string
	UserAgent   string
	CountryCode string
	Timeout     time.Duration
	// RequestsPerSecond caps outgoing calls; public Nominatim allows one.
	RequestsPerSecond float64
}

type Client struct {
	baseURL     string
	userAgent   string
	countryCode string
	http        *http.Client
	limiter     *rate.Limiter
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		userAgent:   cfg.UserAgent,
		countryCode: cfg.CountryCode,
		http:        &http.Client{Timeout: cfg.Timeout},
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

// Geocode returns the best match for text. It reports entity.ErrNotFound
// when nothing matches or when the two best matches are far apart.
func (c *Client) Geocode(ctx context.Context, text string) (entity.Coordinates, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return entity.Coordinates{}, err
	}

	q := url.Values{}
	q.Set("q", text)
	q.Set("format", "jsonv2")
	q.Set("limit", "2")
	if c.countryCode != "" {
		q.Set("countrycodes", c.countryCode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return entity.Coordinates{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return entity.Coordinates{}, fmt.Errorf("nominatim request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return entity.Coordinates{}, fmt.Errorf("read nominatim response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return entity.Coordinates{}, fmt.Errorf("nominatim: %d - %s", resp.StatusCode, string(body))
	}

	var results []searchResult
	if err := json.Unmarshal(body, &results); err != nil {
		return entity.Coordinates{}, fmt.Errorf("decode nominatim response: %w", err)
	}
	return pick(results)
}

func pick(results []searchResult) (entity.Coordinates, error) {
	candidates := make([]entity.Coordinates, 0, len(results))
	for _, r := range results {
		c, err := r.coordinates()
		if err != nil {
			continue
		}
		candidates = append(candidates, c)
	}

	if len(candidates) == 0 {
		return entity.Coordinates{}, entity.ErrNotFound
	}
	if len(candidates) > 1 && geo.Distance(candidates[0], candidates[1]) > AmbiguityKm {
		return entity.Coordinates{}, entity.ErrNotFound
	}
	return candidates[0], nil
}

func (r searchResult) coordinates() (entity.Coordinates, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return entity.Coordinates{}, err
	}
	lng, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return entity.Coordinates{}, err
	}
	return entity.Coordinates{Lat: lat, Lng: lng}, nil
}
