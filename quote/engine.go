package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"shipflow/apperr"
	"shipflow/cache"
	"shipflow/catalog"
)

// Volumetric divisor: one kilogram of billable weight per 2500 cubic
// centimeters. Industry-standard dimensional weight factor.
const volumetricDivisorCm3 = 2500

// cacheTTL bounds how long a priced quote may be served without
// re-reading cities and rates.
const cacheTTL = time.Hour

// Catalog is the read access the engine needs for pricing.
type Catalog interface {
	CityByID(ctx context.Context, id int64) (catalog.City, error)
	RateByZonePair(ctx context.Context, originZoneID, destinationZoneID int64) (catalog.Rate, error)
}

// Cache is the advisory store for priced quotes. A nil Cache disables
// caching entirely; any error from it downgrades to a miss.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Engine prices shipments from package dimensions and zone-to-zone rates.
type Engine struct {
	catalog Catalog
	cache   Cache
	log     *slog.Logger
}

// NewEngine wires an engine. logger may be nil.
func NewEngine(cat Catalog, c Cache, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{catalog: cat, cache: c, log: logger}
}

// Quote prices a request. Same-city requests fail before any lookup; the
// cache is consulted before the catalog and refreshed after a miss, but a
// broken cache never fails a quote.
func (e *Engine) Quote(ctx context.Context, req Request) (Result, error) {
	if req.OriginCityID == req.DestinationCityID {
		return Result{}, apperr.InvalidState(apperr.CodeSameCity, "origin and destination city must differ")
	}
	if err := req.validate(); err != nil {
		return Result{}, apperr.InvalidState(apperr.CodeInvalidPackage, err.Error())
	}

	key := req.CacheKey()
	if cached, ok := e.cacheRead(ctx, key); ok {
		return cached, nil
	}

	origin, err := e.catalog.CityByID(ctx, req.OriginCityID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return Result{}, apperr.NotFound(apperr.CodeCityNotFound, fmt.Sprintf("origin city %d not found", req.OriginCityID))
		}
		return Result{}, apperr.Infrastructure("quote: load origin city", err)
	}

	destination, err := e.catalog.CityByID(ctx, req.DestinationCityID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return Result{}, apperr.NotFound(apperr.CodeCityNotFound, fmt.Sprintf("destination city %d not found", req.DestinationCityID))
		}
		return Result{}, apperr.Infrastructure("quote: load destination city", err)
	}

	rate, err := e.catalog.RateByZonePair(ctx, origin.ZoneID, destination.ZoneID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return Result{}, apperr.NotFound(apperr.CodeRateNotFound,
				fmt.Sprintf("no rate covers zones %d -> %d", origin.ZoneID, destination.ZoneID))
		}
		return Result{}, apperr.Infrastructure("quote: load rate", err)
	}

	result := price(req, rate)
	e.cacheWrite(ctx, key, result)
	return result, nil
}

// price applies the carrier-favoring ceiling arithmetic: billable weight is
// the larger of actual weight and volumetric weight, each rounded up.
func price(req Request, rate catalog.Rate) Result {
	volume := req.PackageLengthCm * req.PackageWidthCm * req.PackageHeightCm
	volumetricKg := math.Ceil(volume / volumetricDivisorCm3)
	calculatedKg := math.Ceil(math.Max(req.PackageWeightKg, volumetricKg))

	return Result{
		Request:            req,
		CalculatedWeightKg: calculatedKg,
		QuotedValue:        int64(calculatedKg) * rate.PricePerKg,
	}
}

func (e *Engine) cacheRead(ctx context.Context, key string) (Result, bool) {
	if e.cache == nil {
		return Result{}, false
	}

	raw, err := e.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			e.log.Warn("quote cache read failed, treating as miss", "key", key, "error", err)
		}
		return Result{}, false
	}

	var cached Result
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		e.log.Warn("quote cache entry undecodable, treating as miss", "key", key, "error", err)
		return Result{}, false
	}
	return cached, true
}

func (e *Engine) cacheWrite(ctx context.Context, key string, result Result) {
	if e.cache == nil {
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		e.log.Warn("quote cache encode failed", "key", key, "error", err)
		return
	}
	if err := e.cache.Set(ctx, key, string(raw), cacheTTL); err != nil {
		e.log.Warn("quote cache write failed", "key", key, "error", err)
	}
}
