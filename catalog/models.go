package catalog

// City is a serviceable origin or destination, assigned to a pricing zone.
type City struct {
	ID     int64
	Name   string
	State  string
	ZoneID int64
}

// Rate prices one directional zone pair. Rates are not symmetric: the
// X -> Y rate says nothing about Y -> X.
type Rate struct {
	ID                int64
	OriginZoneID      int64
	DestinationZoneID int64
	PricePerKg        int64
}

// Status is one entry of the shipment status catalog.
type Status struct {
	ID          int64
	Name        string
	Description string
}
