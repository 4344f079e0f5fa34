package shipment

import "time"

// Well-known status ids seeded by the migrations. The status catalog may
// grow, but every shipment starts its life as StatusCreated.
const StatusCreated int64 = 1

// Shipment mirrors the shipments table.
type Shipment struct {
	ID                 string
	TrackingCode       string
	UserID             string
	OriginCityID       int64
	DestinationCityID  int64
	PackageWeightKg    float64
	PackageLengthCm    float64
	PackageWidthCm     float64
	PackageHeightCm    float64
	CalculatedWeightKg float64
	QuotedValue        int64
	CurrentStatusID    int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HistoryEntry is one append-only row of a shipment's status history.
type HistoryEntry struct {
	ID         int64
	ShipmentID string
	StatusID   int64
	StatusName string
	CreatedAt  time.Time
}

// CreateParams is the package profile supplied when booking a shipment.
type CreateParams struct {
	OriginCityID      int64   `json:"originCityId"`
	DestinationCityID int64   `json:"destinationCityId"`
	PackageWeightKg   float64 `json:"packageWeightKg"`
	PackageLengthCm   float64 `json:"packageLengthCm"`
	PackageWidthCm    float64 `json:"packageWidthCm"`
	PackageHeightCm   float64 `json:"packageHeightCm"`
}

// TrackingDetails bundles a shipment with its ordered status history.
type TrackingDetails struct {
	Shipment Shipment
	History  []HistoryEntry
}
