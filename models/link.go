package models

type LinkSource string

const (
	// LinkExplicit means the event itself named the customer id.
	LinkExplicit LinkSource = "explicit"
	// LinkInferred means the engine matched the customer heuristically.
	LinkInferred LinkSource = "inferred"
	// LinkSession means the customer was bound through the active session.
	LinkSession LinkSource = "session"
)

// Link associates one order with one customer.
type Link struct {
	OrderID    int        `json:"order_id"`
	CustomerID int        `json:"customer_id"`
	Source     LinkSource `json:"source"`
}
