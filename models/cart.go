package models

type CartItem struct {
	ProductDetailID int    `json:"product_detail_id"`
	IMEI            string `json:"imei,omitempty"`
	ProductName     string `json:"product_name"`
	Color           string `json:"color,omitempty"`
	RAM             string `json:"ram,omitempty"`
	Storage         string `json:"storage,omitempty"`
	Quantity        int    `json:"quantity"`
	Price           int64  `json:"price"`
	OriginalPrice   int64  `json:"original_price"`
	LineTotal       int64  `json:"line_total"`
	ImageURL        string `json:"image_url,omitempty"`
}

type Cart struct {
	ID            string     `json:"id"`
	CustomerID    int        `json:"customer_id,omitempty"`
	Items         []CartItem `json:"items"`
	Total         int64      `json:"total"`
	OriginalTotal int64      `json:"original_total"`
	TotalDiscount int64      `json:"total_discount"`
}

// CartUpdate is a cart push as seen after decoding: the cart plus whatever
// customer and voucher hints the backend attached to it.
type CartUpdate struct {
	OrderID       int
	OrderCode     string
	Cart          Cart
	Customer      Customer
	VoucherCode   string
	VoucherID     int
	VoucherAmount int64
	Timestamp     string
}

// ToOrder derives an order-shaped record from the cart.
func (u CartUpdate) ToOrder(now string) Order {
	items := make([]LineItem, 0, len(u.Cart.Items))
	var sum int64
	for _, it := range u.Cart.Items {
		items = append(items, LineItem{
			ProductName:   it.ProductName,
			Color:         it.Color,
			RAM:           it.RAM,
			Storage:       it.Storage,
			Quantity:      it.Quantity,
			UnitPrice:     it.Price,
			OriginalPrice: it.OriginalPrice,
			LineTotal:     it.LineTotal,
			IMEI:          it.IMEI,
			ImageURL:      it.ImageURL,
		})
		sum += it.LineTotal
	}

	subtotal := u.Cart.OriginalTotal
	if subtotal <= 0 {
		subtotal = sum
	}
	grand := u.Cart.Total
	discount := u.VoucherAmount
	if discount <= 0 {
		discount = max(0, subtotal-grand)
	}

	created := u.Timestamp
	if created == "" {
		created = now
	}

	name := u.Customer.Name
	if IsPlaceholderName(name) {
		name = GuestName
	}
	customerID := u.Customer.ID
	if customerID <= 0 {
		customerID = u.Cart.CustomerID
	}

	o := Order{
		ID:            u.OrderID,
		Code:          u.OrderCode,
		CustomerID:    max(customerID, 0),
		CustomerName:  name,
		CustomerPhone: u.Customer.Phone,
		CustomerEmail: u.Customer.Email,
		Items:         items,
		Status:        StatusPending,
		VoucherCode:   u.VoucherCode,
		Subtotal:      subtotal,
		Discount:      discount,
		GrandTotal:    grand,
		CreatedAt:     created,
	}
	o.Normalize()
	return o
}

// Voucher returns the voucher applied through the cart, if any.
func (u CartUpdate) Voucher() (Voucher, bool) {
	if u.VoucherCode == "" && u.VoucherID <= 0 {
		return Voucher{}, false
	}
	return Voucher{
		Action:        VoucherApplied,
		OrderID:       u.OrderID,
		VoucherID:     u.VoucherID,
		Code:          u.VoucherCode,
		DiscountValue: float64(u.VoucherAmount),
		Active:        true,
		Timestamp:     u.Timestamp,
	}, true
}
