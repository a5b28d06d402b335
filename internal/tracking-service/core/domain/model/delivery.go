package model

import "time"

const (
	MinPriority = 1
	MaxPriority = 10
)

type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

type Place struct {
	Point   GeoPoint
	Address string
}

type Delivery struct {
	ID              string
	OrderID         string
	CustomerID      string
	Status          DeliveryStatus
	DriverID        string
	Priority        int
	Pickup          Place
	Dropoff         Place
	CreatedAt       time.Time
	StatusUpdatedAt time.Time
	CancelReason    string
	Issues          []Issue
}

func (d *Delivery) HasDriver() bool {
	return d.DriverID != ""
}

// Destination is where the driver is heading in the current status.
func (d *Delivery) Destination() GeoPoint {
	if d.Status.Rank() >= StatusPickedUp.Rank() && d.Status != StatusCancelled {
		return d.Dropoff.Point
	}
	return d.Pickup.Point
}

// NewDelivery is the input for creating a delivery.
type NewDelivery struct {
	OrderID    string
	CustomerID string
	Priority   int
	Pickup     Place
	Dropoff    Place
}

// AvailableDelivery is a pending delivery offered to an idle driver.
type AvailableDelivery struct {
	Delivery   Delivery
	DistanceKm float64
}

type IssueType string

const (
	IssueDamagedPackage      IssueType = "damaged_package"
	IssueCustomerUnavailable IssueType = "customer_unavailable"
	IssueAddressProblem      IssueType = "address_problem"
	IssueVehicleProblem      IssueType = "vehicle_problem"
	IssuePharmacyDelay       IssueType = "pharmacy_delay"
	IssueOther               IssueType = "other"
)

var issueTypes = map[IssueType]bool{
	IssueDamagedPackage:      true,
	IssueCustomerUnavailable: true,
	IssueAddressProblem:      true,
	IssueVehicleProblem:      true,
	IssuePharmacyDelay:       true,
	IssueOther:               true,
}

func (t IssueType) IsValid() bool {
	return issueTypes[t]
}

type Issue struct {
	Type        IssueType
	Description string
	ReportedBy  string
	ReportedAt  time.Time
}
