package messagebrokerdto

import "time"

type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

// OrderReady is published by the order service once a pharmacy order is packed.
type OrderReady struct {
	OrderID       string   `json:"order_id"`
	CustomerID    string   `json:"customer_id"`
	Priority      int      `json:"priority"`
	Pickup        Location `json:"pickup_location"`
	Dropoff       Location `json:"dropoff_location"`
	CorrelationID string   `json:"correlation_id"`
}

type DeliveryStatus struct {
	DeliveryID string    `json:"delivery_id"`
	OrderID    string    `json:"order_id"`
	Status     string    `json:"status"`
	DriverID   string    `json:"driver_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type DeliveryIssue struct {
	DeliveryID  string    `json:"delivery_id"`
	OrderID     string    `json:"order_id"`
	IssueType   string    `json:"issue_type"`
	Description string    `json:"description"`
	ReportedBy  string    `json:"reported_by"`
	Timestamp   time.Time `json:"timestamp"`
}

// VerificationIssued carries the plaintext code to the customer notification service.
type VerificationIssued struct {
	DeliveryID string    `json:"delivery_id"`
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	Code       string    `json:"code"`
	ExpiresAt  time.Time `json:"expires_at"`
}
