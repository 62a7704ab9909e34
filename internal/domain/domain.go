package domain

// Animal categories. Only donate animals carry fundraising fields.
const (
	CategoryDonate = "donate"
	CategoryAdopt  = "adopt"
)

// Animal lifecycle. Finalized is terminal.
const (
	AnimalActive    = "active"
	AnimalCompleted = "completed"
	AnimalFinalized = "finalized"
)

// Donation lifecycle. Paid is terminal.
const (
	DonationPending = "pending"
	DonationPaid    = "paid"
)

const NotificationGoalReached = "GOAL_REACHED"

// Animal is one rescue animal in the catalog. All monetary amounts are in
// centavos (minor currency units).
type Animal struct {
	ID           string  `json:"id"`
	Category     string  `json:"category" enum:"donate,adopt"`
	Status       string  `json:"status" enum:"active,completed,finalized"`
	Name         string  `json:"name"`
	Gender       string  `json:"gender"`
	Breed        string  `json:"breed"`
	Age          string  `json:"age"`
	Shelter      string  `json:"shelter"`
	MedicalNeeds *string `json:"medical_needs,omitempty"`
	About        *string `json:"about,omitempty"`
	FBLink       *string `json:"fb_link,omitempty"`
	ImageURL     string  `json:"image_url"`
	ReceiptURL   *string `json:"receipt_url,omitempty"`
	GoalAmount   *int64  `json:"goal_amount,omitempty"`
	RaisedAmount int64   `json:"raised_amount"`
	CompletedAt  *string `json:"completed_at,omitempty" format:"date-time"`
	FinalizedAt  *string `json:"finalized_at,omitempty" format:"date-time"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

// Remaining returns the gap between goal and raised, or -1 when no goal is set.
func (a Animal) Remaining() int64 {
	if a.GoalAmount == nil {
		return -1
	}
	rem := *a.GoalAmount - a.RaisedAmount
	if rem < 0 {
		return 0
	}
	return rem
}

type Donation struct {
	ID                 string  `json:"id"`
	AnimalID           string  `json:"animal_id"`
	DonorUserID        *string `json:"donor_user_id,omitempty"`
	DonorName          *string `json:"donor_name,omitempty"`
	Amount             int64   `json:"amount"`
	Status             string  `json:"status" enum:"pending,paid"`
	PaymongoCheckoutID *string `json:"paymongo_checkout_id,omitempty"`
	PaymongoPaymentID  *string `json:"paymongo_payment_id,omitempty"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	PaidAt             *string `json:"paid_at,omitempty" format:"date-time"`
}

type Notification struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	AnimalID  string  `json:"animal_id"`
	Message   string  `json:"message"`
	ReadAt    *string `json:"read_at,omitempty" format:"date-time"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// AuditEvent is one entry in the append-only audit log. Rows are written in
// the same transaction as the mutation they record.
type AuditEvent struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	Label     string `json:"label,omitempty"`
	Role      string `json:"role"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
