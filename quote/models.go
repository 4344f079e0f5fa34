package quote

import (
	"fmt"
	"strconv"
	"strings"
)

// Request carries the package profile a caller wants priced.
type Request struct {
	OriginCityID      int64   `json:"originCityId"`
	DestinationCityID int64   `json:"destinationCityId"`
	PackageWeightKg   float64 `json:"packageWeightKg"`
	PackageLengthCm   float64 `json:"packageLengthCm"`
	PackageWidthCm    float64 `json:"packageWidthCm"`
	PackageHeightCm   float64 `json:"packageHeightCm"`
}

// Result echoes the request plus the priced weight and value.
type Result struct {
	Request
	CalculatedWeightKg float64 `json:"calculatedWeightKg"`
	QuotedValue        int64   `json:"quotedValue"`
}

// CacheKey is the ordered concatenation of every request field. Two requests
// share a key only when they are field-for-field identical.
func (r Request) CacheKey() string {
	parts := []string{
		"quote",
		strconv.FormatInt(r.OriginCityID, 10),
		strconv.FormatInt(r.DestinationCityID, 10),
		formatKg(r.PackageWeightKg),
		formatKg(r.PackageLengthCm),
		formatKg(r.PackageWidthCm),
		formatKg(r.PackageHeightCm),
	}
	return strings.Join(parts, ":")
}

func formatKg(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (r Request) validate() error {
	if r.OriginCityID <= 0 || r.DestinationCityID <= 0 {
		return fmt.Errorf("quote: origin and destination city ids are required")
	}
	if r.PackageWeightKg <= 0 {
		return fmt.Errorf("quote: package weight must be positive")
	}
	if r.PackageLengthCm <= 0 || r.PackageWidthCm <= 0 || r.PackageHeightCm <= 0 {
		return fmt.Errorf("quote: package dimensions must be positive")
	}
	return nil
}
