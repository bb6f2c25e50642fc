package dispatcher

import (
	"math"
	"strings"

	"order-monitor/models"
)

// --- Structured shapes (what the backend sends today) ---

type orderWire struct {
	ID                   int           `json:"id"`
	MaHoaDon             string        `json:"maHoaDon"`
	TenKhachHang         string        `json:"tenKhachHang"`
	SoDienThoaiKhachHang string        `json:"soDienThoaiKhachHang"`
	EmailKhachHang       string        `json:"emailKhachHang"`
	DiaChiKhachHang      string        `json:"diaChiKhachHang"`
	KhachHangID          int           `json:"khachHangId"`
	TongTien             int64         `json:"tongTien"`
	TongTienSauGiam      int64         `json:"tongTienSauGiam"`
	PhiVanChuyen         int64         `json:"phiVanChuyen"`
	TienGiamGia          int64         `json:"tienGiamGia"`
	MaPhieuGiamGia       string        `json:"maPhieuGiamGia"`
	GhiChu               string        `json:"ghiChu"`
	TrangThai            int           `json:"trangThai"`
	TrangThaiText        string        `json:"trangThaiText"`
	LoaiDon              string        `json:"loaiDon"`
	NgayTao              string        `json:"ngayTao"`
	NgayThanhToan        string        `json:"ngayThanhToan"`
	TenNhanVien          string        `json:"tenNhanVien"`
	SanPhamChiTiet       []lineWire    `json:"sanPhamChiTiet"`
	ThanhToanInfo        []paymentWire `json:"thanhToanInfo"`
}

type lineWire struct {
	TenSanPham string `json:"tenSanPham"`
	MauSac     string `json:"mauSac"`
	Ram        string `json:"ram"`
	BoNhoTrong string `json:"boNhoTrong"`
	SoLuong    int    `json:"soLuong"`
	GiaBan     int64  `json:"giaBan"`
	ThanhTien  int64  `json:"thanhTien"`
	Imel       string `json:"imel"`
	AnhSanPham string `json:"anhSanPham"`
}

type paymentWire struct {
	PhuongThuc string `json:"phuongThuc"`
	SoTien     int64  `json:"soTien"`
	GhiChu     string `json:"ghiChu"`
}

type cartUpdateWire struct {
	HoaDonID             int       `json:"hoaDonId"`
	MaHoaDon             string    `json:"maHoaDon"`
	GioHang              *cartWire `json:"gioHang"`
	Timestamp            string    `json:"timestamp"`
	TenKhachHang         *string   `json:"tenKhachHang"`
	SoDienThoaiKhachHang *string   `json:"soDienThoaiKhachHang"`
	EmailKhachHang       *string   `json:"emailKhachHang"`
	IDKhachHang          *int      `json:"idKhachHang"`
	MaPhieuGiamGia       *string   `json:"maPhieuGiamGia"`
	IDPhieuGiamGia       *int      `json:"idPhieuGiamGia"`
	SoTienGiam           *float64  `json:"soTienGiam"`
}

type cartWire struct {
	GioHangID          string         `json:"gioHangId"`
	KhachHangID        int            `json:"khachHangId"`
	ChiTietGioHangDTOS []cartItemWire `json:"chiTietGioHangDTOS"`
	TongTien           float64        `json:"tongTien"`
	TongTienGoc        float64        `json:"tongTienGoc"`
	TongGiamGia        float64        `json:"tongGiamGia"`
}

type cartItemWire struct {
	ChiTietSanPhamID int     `json:"chiTietSanPhamId"`
	MaImel           string  `json:"maImel"`
	TenSanPham       string  `json:"tenSanPham"`
	MauSac           string  `json:"mauSac"`
	Ram              string  `json:"ram"`
	BoNhoTrong       string  `json:"boNhoTrong"`
	SoLuong          int     `json:"soLuong"`
	GiaBan           float64 `json:"giaBan"`
	GiaBanGoc        float64 `json:"giaBanGoc"`
	TongTien         float64 `json:"tongTien"`
	Image            *string `json:"image"`
}

type customerUpdateWire struct {
	Action      string  `json:"action"`
	KhachHangID *int    `json:"khachHangId"`
	Ten         string  `json:"ten"`
	SoDienThoai *string `json:"soDienThoai"`
	Email       *string `json:"email"`
	Timestamp   string  `json:"timestamp"`
}

type voucherUpdateWire struct {
	Action         string  `json:"action"`
	HoaDonID       int     `json:"hoaDonId"`
	PhieuGiamGiaID int     `json:"phieuGiamGiaId"`
	MaPhieu        string  `json:"maPhieu"`
	TenPhieu       string  `json:"tenPhieu"`
	GiaTriGiam     float64 `json:"giaTriGiam"`
	SoLuongDung    int     `json:"soLuongDung"`
	TrangThai      bool    `json:"trangThai"`
	Timestamp      string  `json:"timestamp"`
}

type paymentSuccessWire struct {
	HoaDon *orderWire `json:"hoaDon"`
}

type orderCancelledWire struct {
	HoaDonID int    `json:"hoaDonId"`
	LyDo     string `json:"lyDo"`
}

// --- Legacy generic shapes, every field coerced leniently ---

type legacyOrder struct {
	ID                   flexInt         `json:"id"`
	HoaDonID             flexInt         `json:"hoaDonId"`
	MaHoaDon             flexString      `json:"maHoaDon"`
	TenKhachHang         flexString      `json:"tenKhachHang"`
	SoDienThoaiKhachHang flexString      `json:"soDienThoaiKhachHang"`
	EmailKhachHang       flexString      `json:"emailKhachHang"`
	DiaChiKhachHang      flexString      `json:"diaChiKhachHang"`
	KhachHangID          flexInt         `json:"khachHangId"`
	KhachHang            *legacyCustomer `json:"khachHang"`
	TongTien             flexMoney       `json:"tongTien"`
	TongTienSauGiam      flexMoney       `json:"tongTienSauGiam"`
	PhiVanChuyen         flexMoney       `json:"phiVanChuyen"`
	TienGiamGia          flexMoney       `json:"tienGiamGia"`
	MaPhieuGiamGia       flexString      `json:"maPhieuGiamGia"`
	GhiChu               flexString      `json:"ghiChu"`
	TrangThai            flexInt         `json:"trangThai"`
	TrangThaiText        flexString      `json:"trangThaiText"`
	LoaiDon              flexString      `json:"loaiDon"`
	NgayTao              flexString      `json:"ngayTao"`
	NgayThanhToan        flexString      `json:"ngayThanhToan"`
	TenNhanVien          flexString      `json:"tenNhanVien"`
	SanPhamChiTiet       []legacyLine    `json:"sanPhamChiTiet"`
	ThanhToanInfo        []legacyPayment `json:"thanhToanInfo"`
}

type legacyLine struct {
	TenSanPham flexString `json:"tenSanPham"`
	MauSac     flexString `json:"mauSac"`
	Ram        flexString `json:"ram"`
	BoNhoTrong flexString `json:"boNhoTrong"`
	SoLuong    flexInt    `json:"soLuong"`
	GiaBan     flexMoney  `json:"giaBan"`
	ThanhTien  flexMoney  `json:"thanhTien"`
	Imel       flexString `json:"imel"`
	AnhSanPham flexString `json:"anhSanPham"`
}

type legacyPayment struct {
	PhuongThuc flexString `json:"phuongThuc"`
	SoTien     flexMoney  `json:"soTien"`
	GhiChu     flexString `json:"ghiChu"`
}

// legacyOrderList covers the paged and wrapped list envelopes.
type legacyOrderList struct {
	Content []legacyOrder `json:"content"`
	Data    []legacyOrder `json:"data"`
	Orders  []legacyOrder `json:"orders"`
	HoaDons []legacyOrder `json:"hoaDons"`
}

type legacySingleOrder struct {
	legacyOrder
	HoaDon *legacyOrder `json:"hoaDon"`
}

type legacyCartUpdate struct {
	HoaDonID             flexInt     `json:"hoaDonId"`
	ID                   flexInt     `json:"id"`
	MaHoaDon             flexString  `json:"maHoaDon"`
	GioHang              *legacyCart `json:"gioHang"`
	Timestamp            flexString  `json:"timestamp"`
	TenKhachHang         flexString  `json:"tenKhachHang"`
	SoDienThoaiKhachHang flexString  `json:"soDienThoaiKhachHang"`
	EmailKhachHang       flexString  `json:"emailKhachHang"`
	IDKhachHang          flexInt     `json:"idKhachHang"`
	MaPhieuGiamGia       flexString  `json:"maPhieuGiamGia"`
	IDPhieuGiamGia       flexInt     `json:"idPhieuGiamGia"`
	SoTienGiam           flexMoney   `json:"soTienGiam"`
}

type legacyCart struct {
	GioHangID          flexString       `json:"gioHangId"`
	KhachHangID        flexInt          `json:"khachHangId"`
	ChiTietGioHangDTOS []legacyCartItem `json:"chiTietGioHangDTOS"`
	TongTien           flexMoney        `json:"tongTien"`
	TongTienGoc        flexMoney        `json:"tongTienGoc"`
	TongGiamGia        flexMoney        `json:"tongGiamGia"`
}

type legacyCartItem struct {
	ChiTietSanPhamID flexInt    `json:"chiTietSanPhamId"`
	MaImel           flexString `json:"maImel"`
	TenSanPham       flexString `json:"tenSanPham"`
	MauSac           flexString `json:"mauSac"`
	Ram              flexString `json:"ram"`
	BoNhoTrong       flexString `json:"boNhoTrong"`
	SoLuong          flexInt    `json:"soLuong"`
	GiaBan           flexMoney  `json:"giaBan"`
	GiaBanGoc        flexMoney  `json:"giaBanGoc"`
	TongTien         flexMoney  `json:"tongTien"`
	Image            flexString `json:"image"`
}

type legacyCustomer struct {
	Action      flexString `json:"action"`
	KhachHangID *flexInt   `json:"khachHangId"`
	ID          *flexInt   `json:"id"`
	Ten         flexString `json:"ten"`
	SoDienThoai flexString `json:"soDienThoai"`
	Email       flexString `json:"email"`
	Timestamp   flexString `json:"timestamp"`
}

type legacyVoucherUpdate struct {
	Action         flexString `json:"action"`
	HoaDonID       flexInt    `json:"hoaDonId"`
	PhieuGiamGiaID flexInt    `json:"phieuGiamGiaId"`
	MaPhieu        flexString `json:"maPhieu"`
	TenPhieu       flexString `json:"tenPhieu"`
	GiaTriGiam     flexFloat  `json:"giaTriGiam"`
	SoLuongDung    flexInt    `json:"soLuongDung"`
	TrangThai      flexBool   `json:"trangThai"`
	Timestamp      flexString `json:"timestamp"`
}

type legacyOrderRef struct {
	HoaDonID flexInt      `json:"hoaDonId"`
	ID       flexInt      `json:"id"`
	LyDo     flexString   `json:"lyDo"`
	HoaDon   *legacyOrder `json:"hoaDon"`
}

// --- Conversions ---

func (w orderWire) toModel() models.Order {
	o := models.Order{
		ID:            w.ID,
		Code:          w.MaHoaDon,
		CustomerID:    w.KhachHangID,
		CustomerName:  strings.TrimSpace(w.TenKhachHang),
		CustomerPhone: strings.TrimSpace(w.SoDienThoaiKhachHang),
		CustomerEmail: strings.TrimSpace(w.EmailKhachHang),
		Address:       w.DiaChiKhachHang,
		Status:        models.OrderStatus(w.TrangThai),
		StatusText:    w.TrangThaiText,
		OrderType:     w.LoaiDon,
		VoucherCode:   w.MaPhieuGiamGia,
		Subtotal:      w.TongTien,
		ShippingFee:   w.PhiVanChuyen,
		Discount:      w.TienGiamGia,
		GrandTotal:    w.TongTienSauGiam,
		Note:          w.GhiChu,
		StaffName:     w.TenNhanVien,
		CreatedAt:     w.NgayTao,
		PaidAt:        w.NgayThanhToan,
		Items:         make([]models.LineItem, 0, len(w.SanPhamChiTiet)),
	}
	for _, l := range w.SanPhamChiTiet {
		o.Items = append(o.Items, models.LineItem{
			ProductName: l.TenSanPham,
			Color:       l.MauSac,
			RAM:         l.Ram,
			Storage:     l.BoNhoTrong,
			Quantity:    l.SoLuong,
			UnitPrice:   l.GiaBan,
			LineTotal:   l.ThanhTien,
			IMEI:        l.Imel,
			ImageURL:    l.AnhSanPham,
		})
	}
	for _, p := range w.ThanhToanInfo {
		o.Payments = append(o.Payments, models.PaymentLine{Method: p.PhuongThuc, Amount: p.SoTien, Note: p.GhiChu})
	}
	return o
}

func (w legacyOrder) id() int {
	if w.ID > 0 {
		return int(w.ID)
	}
	return int(w.HoaDonID)
}

func (w legacyOrder) toModel() models.Order {
	o := models.Order{
		ID:            w.id(),
		Code:          string(w.MaHoaDon),
		CustomerID:    int(w.KhachHangID),
		CustomerName:  string(w.TenKhachHang),
		CustomerPhone: string(w.SoDienThoaiKhachHang),
		CustomerEmail: string(w.EmailKhachHang),
		Address:       string(w.DiaChiKhachHang),
		Status:        models.OrderStatus(w.TrangThai),
		StatusText:    string(w.TrangThaiText),
		OrderType:     string(w.LoaiDon),
		VoucherCode:   string(w.MaPhieuGiamGia),
		Subtotal:      int64(w.TongTien),
		ShippingFee:   int64(w.PhiVanChuyen),
		Discount:      int64(w.TienGiamGia),
		GrandTotal:    int64(w.TongTienSauGiam),
		Note:          string(w.GhiChu),
		StaffName:     string(w.TenNhanVien),
		CreatedAt:     string(w.NgayTao),
		PaidAt:        string(w.NgayThanhToan),
		Items:         make([]models.LineItem, 0, len(w.SanPhamChiTiet)),
	}
	if w.KhachHang != nil {
		c := w.KhachHang.toModel()
		if o.CustomerID <= 0 {
			o.CustomerID = c.ID
		}
		if o.CustomerName == "" {
			o.CustomerName = c.Name
		}
		if o.CustomerPhone == "" {
			o.CustomerPhone = c.Phone
		}
		if o.CustomerEmail == "" {
			o.CustomerEmail = c.Email
		}
	}
	for _, l := range w.SanPhamChiTiet {
		o.Items = append(o.Items, models.LineItem{
			ProductName: string(l.TenSanPham),
			Color:       string(l.MauSac),
			RAM:         string(l.Ram),
			Storage:     string(l.BoNhoTrong),
			Quantity:    int(l.SoLuong),
			UnitPrice:   int64(l.GiaBan),
			LineTotal:   int64(l.ThanhTien),
			IMEI:        string(l.Imel),
			ImageURL:    string(l.AnhSanPham),
		})
	}
	for _, p := range w.ThanhToanInfo {
		o.Payments = append(o.Payments, models.PaymentLine{Method: string(p.PhuongThuc), Amount: int64(p.SoTien), Note: string(p.GhiChu)})
	}
	return o
}

func (w cartUpdateWire) toModel() models.CartUpdate {
	u := models.CartUpdate{
		OrderID:   w.HoaDonID,
		OrderCode: w.MaHoaDon,
		Timestamp: w.Timestamp,
		Customer: models.Customer{
			ID:    deref(w.IDKhachHang),
			Name:  strings.TrimSpace(deref(w.TenKhachHang)),
			Phone: strings.TrimSpace(deref(w.SoDienThoaiKhachHang)),
			Email: strings.TrimSpace(deref(w.EmailKhachHang)),
		},
		VoucherCode:   deref(w.MaPhieuGiamGia),
		VoucherID:     deref(w.IDPhieuGiamGia),
		VoucherAmount: roundMoney(deref(w.SoTienGiam)),
	}
	if g := w.GioHang; g != nil {
		u.Cart = models.Cart{
			ID:            g.GioHangID,
			CustomerID:    g.KhachHangID,
			Total:         roundMoney(g.TongTien),
			OriginalTotal: roundMoney(g.TongTienGoc),
			TotalDiscount: roundMoney(g.TongGiamGia),
		}
		for _, it := range g.ChiTietGioHangDTOS {
			u.Cart.Items = append(u.Cart.Items, models.CartItem{
				ProductDetailID: it.ChiTietSanPhamID,
				IMEI:            it.MaImel,
				ProductName:     it.TenSanPham,
				Color:           it.MauSac,
				RAM:             it.Ram,
				Storage:         it.BoNhoTrong,
				Quantity:        it.SoLuong,
				Price:           roundMoney(it.GiaBan),
				OriginalPrice:   roundMoney(it.GiaBanGoc),
				LineTotal:       roundMoney(it.TongTien),
				ImageURL:        deref(it.Image),
			})
		}
	}
	return u
}

func (w legacyCartUpdate) toModel() models.CartUpdate {
	id := int(w.HoaDonID)
	if id <= 0 {
		id = int(w.ID)
	}
	u := models.CartUpdate{
		OrderID:   id,
		OrderCode: string(w.MaHoaDon),
		Timestamp: string(w.Timestamp),
		Customer: models.Customer{
			ID:    int(w.IDKhachHang),
			Name:  string(w.TenKhachHang),
			Phone: string(w.SoDienThoaiKhachHang),
			Email: string(w.EmailKhachHang),
		},
		VoucherCode:   string(w.MaPhieuGiamGia),
		VoucherID:     int(w.IDPhieuGiamGia),
		VoucherAmount: int64(w.SoTienGiam),
	}
	if g := w.GioHang; g != nil {
		u.Cart = models.Cart{
			ID:            string(g.GioHangID),
			CustomerID:    int(g.KhachHangID),
			Total:         int64(g.TongTien),
			OriginalTotal: int64(g.TongTienGoc),
			TotalDiscount: int64(g.TongGiamGia),
		}
		for _, it := range g.ChiTietGioHangDTOS {
			u.Cart.Items = append(u.Cart.Items, models.CartItem{
				ProductDetailID: int(it.ChiTietSanPhamID),
				IMEI:            string(it.MaImel),
				ProductName:     string(it.TenSanPham),
				Color:           string(it.MauSac),
				RAM:             string(it.Ram),
				Storage:         string(it.BoNhoTrong),
				Quantity:        int(it.SoLuong),
				Price:           int64(it.GiaBan),
				OriginalPrice:   int64(it.GiaBanGoc),
				LineTotal:       int64(it.TongTien),
				ImageURL:        string(it.Image),
			})
		}
	}
	return u
}

// customerID reports the id and whether the payload carried one at all.
func (w legacyCustomer) customerID() (int, bool) {
	switch {
	case w.KhachHangID != nil:
		return int(*w.KhachHangID), true
	case w.ID != nil:
		return int(*w.ID), true
	}
	return 0, false
}

func (w legacyCustomer) toModel() models.Customer {
	id, _ := w.customerID()
	return models.Customer{
		ID:    id,
		Name:  string(w.Ten),
		Phone: string(w.SoDienThoai),
		Email: string(w.Email),
	}
}

func (w voucherUpdateWire) toModel(action models.VoucherAction) models.Voucher {
	return models.Voucher{
		Action:        action,
		OrderID:       w.HoaDonID,
		VoucherID:     w.PhieuGiamGiaID,
		Code:          w.MaPhieu,
		Name:          w.TenPhieu,
		DiscountValue: w.GiaTriGiam,
		RemainingUses: w.SoLuongDung,
		Active:        w.TrangThai,
		Timestamp:     w.Timestamp,
	}
}

func (w legacyVoucherUpdate) toModel(action models.VoucherAction) models.Voucher {
	return models.Voucher{
		Action:        action,
		OrderID:       int(w.HoaDonID),
		VoucherID:     int(w.PhieuGiamGiaID),
		Code:          string(w.MaPhieu),
		Name:          string(w.TenPhieu),
		DiscountValue: float64(w.GiaTriGiam),
		RemainingUses: int(w.SoLuongDung),
		Active:        bool(w.TrangThai),
		Timestamp:     string(w.Timestamp),
	}
}

func (w legacyOrderRef) orderID() int {
	switch {
	case w.HoaDonID > 0:
		return int(w.HoaDonID)
	case w.ID > 0:
		return int(w.ID)
	case w.HoaDon != nil:
		return w.HoaDon.id()
	}
	return 0
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func roundMoney(v float64) int64 {
	return int64(math.Round(v))
}
