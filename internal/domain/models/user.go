package models

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// User представляет пользователя
type User struct {
	ID             int64
	Email          string
	PassHash       []byte
	Role           string
	CurrentOrderID *int64 // заказ-корзина текущей сессии, обнуляется после оформления
	BillAddress    *Address
	ShipAddress    *Address
}

// Vendor - продавец (enterprise), на которого регистрируется суб-мерчант
type Vendor struct {
	ID             int64
	Name           string
	Email          string
	Phone          string
	ContactName    string
	Address1       string
	Address2       string
	IdentityNumber string // ABN / налоговый идентификатор
}
