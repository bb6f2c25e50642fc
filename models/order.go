package models

import "fmt"

// OrderStatus mirrors the backend's trangThai codes.
type OrderStatus int

const (
	StatusPending          OrderStatus = 0
	StatusAwaitingShipment OrderStatus = 1
	StatusShipping         OrderStatus = 2
	StatusCompleted        OrderStatus = 3
	StatusCancelled        OrderStatus = 4
	StatusReturned         OrderStatus = 5
	StatusRefunded         OrderStatus = 6
)

var statusText = map[OrderStatus]string{
	StatusPending:          "Chờ xác nhận",
	StatusAwaitingShipment: "Chờ giao hàng",
	StatusShipping:         "Đang giao",
	StatusCompleted:        "Hoàn thành",
	StatusCancelled:        "Đã hủy",
	StatusReturned:         "Trả hàng",
	StatusRefunded:         "Hoàn tiền",
}

func (s OrderStatus) Valid() bool {
	_, ok := statusText[s]
	return ok
}

// Text returns the backend's display label for the status.
func (s OrderStatus) Text() string {
	if t, ok := statusText[s]; ok {
		return t
	}
	return "Không xác định"
}

func (s OrderStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAwaitingShipment:
		return "awaiting_shipment"
	case StatusShipping:
		return "shipping"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusReturned:
		return "returned"
	case StatusRefunded:
		return "refunded"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

type LineItem struct {
	ProductName string `json:"product_name"`
	Color       string `json:"color,omitempty"`
	RAM         string `json:"ram,omitempty"`
	Storage     string `json:"storage,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	// OriginalPrice is only known for lines derived from a cart.
	OriginalPrice int64  `json:"original_price,omitempty"`
	LineTotal     int64  `json:"line_total"`
	IMEI          string `json:"imei,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`
}

type PaymentLine struct {
	Method string `json:"method"`
	Amount int64  `json:"amount"`
	Note   string `json:"note,omitempty"`
}

// Order is one tracked order record. Amounts are in đồng.
type Order struct {
	ID            int           `json:"id"`
	Code          string        `json:"code"`
	CustomerID    int           `json:"customer_id,omitempty"`
	CustomerName  string        `json:"customer_name"`
	CustomerPhone string        `json:"customer_phone,omitempty"`
	CustomerEmail string        `json:"customer_email,omitempty"`
	Address       string        `json:"address,omitempty"`
	Items         []LineItem    `json:"items"`
	Payments      []PaymentLine `json:"payments,omitempty"`
	Status        OrderStatus   `json:"status"`
	StatusText    string        `json:"status_text"`
	OrderType     string        `json:"order_type,omitempty"`
	VoucherCode   string        `json:"voucher_code,omitempty"`
	Subtotal      int64         `json:"subtotal"`
	ShippingFee   int64         `json:"shipping_fee"`
	Discount      int64         `json:"discount"`
	GrandTotal    int64         `json:"grand_total"`
	Note          string        `json:"note,omitempty"`
	StaffName     string        `json:"staff_name,omitempty"`
	CreatedAt     string        `json:"created_at"`
	PaidAt        string        `json:"paid_at,omitempty"`
}

// OrderCode is the fallback code used when the backend omits maHoaDon.
func OrderCode(id int) string {
	return fmt.Sprintf("HD%06d", id)
}

// Normalize fills derived fields and enforces the record's invariants.
func (o *Order) Normalize() {
	if o.GrandTotal < 0 {
		o.GrandTotal = 0
	}
	if o.Discount < 0 {
		o.Discount = 0
	}
	if o.Code == "" && o.ID > 0 {
		o.Code = OrderCode(o.ID)
	}
	if o.StatusText == "" {
		o.StatusText = o.Status.Text()
	}
	if o.Items == nil {
		o.Items = []LineItem{}
	}
}

// HasCustomerInfo reports whether the record carries any customer identity at all.
func (o Order) HasCustomerInfo() bool {
	return o.CustomerID > 0 || !IsPlaceholderName(o.CustomerName) || o.CustomerPhone != "" || o.CustomerEmail != ""
}

// TotalItems is the sum of line quantities.
func (o Order) TotalItems() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// SetCustomer overwrites the denormalized customer fields.
func (o *Order) SetCustomer(c Customer) {
	o.CustomerID = c.ID
	o.CustomerName = c.Name
	o.CustomerPhone = c.Phone
	o.CustomerEmail = c.Email
}

// ClearCustomer resets the customer fields to the guest placeholder.
func (o *Order) ClearCustomer() {
	o.CustomerID = 0
	o.CustomerName = GuestName
	o.CustomerPhone = ""
	o.CustomerEmail = ""
}

// Clone returns a deep copy safe to publish in a snapshot.
func (o Order) Clone() Order {
	c := o
	if o.Items != nil {
		c.Items = append([]LineItem(nil), o.Items...)
	}
	if o.Payments != nil {
		c.Payments = append([]PaymentLine(nil), o.Payments...)
	}
	return c
}
