package domain

type PartyRole string

const (
	PartyRoleShopOwner PartyRole = "shop_owner"
	PartyRoleCustomer  PartyRole = "customer"
	PartyRoleCarOwner  PartyRole = "car_owner"
)

// Party is an identity record from the customer/owner directory.
// PaymentCustomerRef identifies the customer at the payment collaborator,
// PayoutAccountRef the car owner's destination account at the payout rail.
type Party struct {
	ID                 int32     `json:"id"`
	Role               PartyRole `json:"role"`
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	PaymentCustomerRef string    `json:"payment_customer_ref"`
	PayoutAccountRef   string    `json:"payout_account_ref"`
}
