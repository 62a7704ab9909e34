// Package ledger implements the donation ledger: checkout creation, payment
// reconciliation, goal completion and finalization. All total-changing writes
// run inside an immediate transaction so mutations to one animal are
// serialized by the database write lock.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pawfund/internal/config"
	"pawfund/internal/domain"
	"pawfund/internal/events"
	"pawfund/internal/paymongo"
	"pawfund/internal/repo"
)

// CheckoutCreator is the slice of the gateway client the ledger needs.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, params paymongo.CheckoutParams) (paymongo.CheckoutSession, error)
}

type Ledger struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Gateway CheckoutCreator
	Config  *config.Config
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config, gateway CheckoutCreator) Ledger {
	return Ledger{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Gateway: gateway,
		Config:  cfg,
		Now:     time.Now,
	}
}

func (l Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l Ledger) nowRFC() string {
	return l.now().UTC().Format(time.RFC3339)
}

// CheckoutOptions are parameters for starting a hosted checkout.
type CheckoutOptions struct {
	AnimalID    string
	DonorUserID string
	DonorName   string
	Anonymous   bool
	Amount      int64
}

// Checkout is the result handed back to the donor's client.
type Checkout struct {
	DonationID  string `json:"donation_id"`
	CheckoutURL string `json:"checkout_url"`
	Amount      int64  `json:"amount"`
}

// CreateCheckout records a pending donation capped to the animal's remaining
// goal and opens a gateway checkout session for it. The animal lock is held
// across the gateway call, so a failed call rolls the donation back.
func (l Ledger) CreateCheckout(ctx context.Context, opts CheckoutOptions) (Checkout, error) {
	if opts.Amount <= 0 {
		return Checkout{}, validationf("amount must be positive")
	}
	opts.DonorName = strings.TrimSpace(opts.DonorName)
	if !opts.Anonymous && opts.DonorName == "" {
		return Checkout{}, validationf("donor name is required unless donating anonymously")
	}
	if l.Gateway == nil {
		return Checkout{}, fmt.Errorf("payment gateway not configured")
	}

	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return Checkout{}, err
	}
	defer tx.Rollback()

	animal, err := l.Repo.LockAnimalTx(ctx, tx, opts.AnimalID)
	if err != nil {
		return Checkout{}, err
	}
	if animal.Category != domain.CategoryDonate {
		return Checkout{}, validationf("animal %s does not accept donations", animal.ID)
	}
	if animal.Status != domain.AnimalActive {
		return Checkout{}, conflictf("animal %s is no longer active", animal.ID)
	}
	add := opts.Amount
	if rem := animal.Remaining(); rem >= 0 {
		if rem == 0 {
			return Checkout{}, conflictf("goal already reached for animal %s", animal.ID)
		}
		if add > rem {
			add = rem
		}
	}

	d := domain.Donation{
		ID:        uuid.NewString(),
		AnimalID:  animal.ID,
		Amount:    add,
		Status:    domain.DonationPending,
		CreatedAt: l.nowRFC(),
	}
	if opts.DonorUserID != "" {
		d.DonorUserID = &opts.DonorUserID
	}
	if !opts.Anonymous {
		d.DonorName = &opts.DonorName
	}
	if err := l.Repo.InsertDonationTx(ctx, tx, d); err != nil {
		return Checkout{}, fmt.Errorf("insert donation: %w", err)
	}

	sess, err := l.Gateway.CreateCheckoutSession(ctx, paymongo.CheckoutParams{
		Description:        fmt.Sprintf("Donation for %s", animal.Name),
		LineItemName:       animal.Name,
		Amount:             add,
		Currency:           l.Config.App.Currency,
		Quantity:           1,
		PaymentMethodTypes: l.Config.Checkout.PaymentMethods,
		SuccessURL:         l.Config.Checkout.SuccessURL,
		CancelURL:          l.Config.Checkout.CancelURL,
		Metadata:           map[string]string{"donation_id": d.ID, "animal_id": animal.ID},
	})
	if err != nil {
		return Checkout{}, &GatewayError{Err: err}
	}
	if err := l.Repo.SetDonationCheckoutIDTx(ctx, tx, d.ID, sess.ID); err != nil {
		return Checkout{}, fmt.Errorf("persist checkout id: %w", err)
	}
	if err := l.Events.Append(ctx, tx, "donation.checkout_created", "donation", d.ID, actorOrSystem(opts.DonorUserID), events.EventPayload{
		"animal_id":   animal.ID,
		"amount":      add,
		"requested":   opts.Amount,
		"checkout_id": sess.ID,
	}); err != nil {
		return Checkout{}, err
	}
	if err := tx.Commit(); err != nil {
		return Checkout{}, err
	}
	return Checkout{DonationID: d.ID, CheckoutURL: sess.CheckoutURL, Amount: add}, nil
}

// CompletionResult says what a payment-completion event did.
type CompletionResult string

const (
	CompletionApplied   CompletionResult = "applied"
	CompletionDuplicate CompletionResult = "duplicate"
	CompletionIgnored   CompletionResult = "ignored"
)

// HandlePaymentCompletion reconciles a gateway completion event against the
// pending donation holding the checkout id. Unknown sessions are ignored and
// replays are no-ops; a donation is credited exactly once.
func (l Ledger) HandlePaymentCompletion(ctx context.Context, checkoutID, paymentID string) (CompletionResult, error) {
	if strings.TrimSpace(checkoutID) == "" {
		return CompletionIgnored, nil
	}

	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	d, err := l.Repo.LockDonationByCheckoutTx(ctx, tx, checkoutID)
	if err == repo.ErrNotFound {
		if err := l.Events.Append(ctx, tx, "webhook.ignored", "donation", "", "paymongo", events.EventPayload{
			"checkout_id": checkoutID,
			"reason":      "unknown checkout session",
		}); err != nil {
			return "", err
		}
		if err := tx.Commit(); err != nil {
			return "", err
		}
		return CompletionIgnored, nil
	}
	if err != nil {
		return "", err
	}
	if d.Status == domain.DonationPaid {
		return CompletionDuplicate, nil
	}

	animal, err := l.Repo.LockAnimalTx(ctx, tx, d.AnimalID)
	if err != nil {
		return "", err
	}

	var pid *string
	if paymentID != "" {
		pid = &paymentID
	}
	if err := l.Repo.MarkDonationPaidTx(ctx, tx, d.ID, pid, l.nowRFC()); err != nil {
		return "", fmt.Errorf("mark donation paid: %w", err)
	}
	raised := clampToGoal(animal, animal.RaisedAmount+d.Amount)
	if err := l.Repo.SetAnimalRaisedTx(ctx, tx, animal.ID, raised); err != nil {
		return "", fmt.Errorf("update raised amount: %w", err)
	}
	animal.RaisedAmount = raised
	if err := l.maybeCompleteGoal(ctx, tx, animal); err != nil {
		return "", err
	}
	if err := l.Events.Append(ctx, tx, "donation.paid", "donation", d.ID, "paymongo", events.EventPayload{
		"animal_id":   animal.ID,
		"amount":      d.Amount,
		"payment_id":  paymentID,
		"checkout_id": checkoutID,
	}); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return CompletionApplied, nil
}

// RecordPaidDonation records an offline donation as already paid, bypassing
// the gateway. The donation amount is taken as given; only the animal's
// running total is clamped to the goal.
func (l Ledger) RecordPaidDonation(ctx context.Context, animalID, donorName string, amount int64, actorID string) (domain.Animal, error) {
	if amount <= 0 {
		return domain.Animal{}, validationf("amount must be positive")
	}
	donorName = strings.TrimSpace(donorName)

	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Animal{}, err
	}
	defer tx.Rollback()

	animal, err := l.Repo.LockAnimalTx(ctx, tx, animalID)
	if err != nil {
		return domain.Animal{}, err
	}
	if animal.Category != domain.CategoryDonate {
		return domain.Animal{}, validationf("animal %s does not accept donations", animal.ID)
	}

	now := l.nowRFC()
	d := domain.Donation{
		ID:        uuid.NewString(),
		AnimalID:  animal.ID,
		Amount:    amount,
		Status:    domain.DonationPaid,
		CreatedAt: now,
		PaidAt:    &now,
	}
	if donorName != "" {
		d.DonorName = &donorName
	}
	if err := l.Repo.InsertDonationTx(ctx, tx, d); err != nil {
		return domain.Animal{}, fmt.Errorf("insert donation: %w", err)
	}
	raised := clampToGoal(animal, animal.RaisedAmount+amount)
	if err := l.Repo.SetAnimalRaisedTx(ctx, tx, animal.ID, raised); err != nil {
		return domain.Animal{}, fmt.Errorf("update raised amount: %w", err)
	}
	animal.RaisedAmount = raised
	if err := l.maybeCompleteGoal(ctx, tx, animal); err != nil {
		return domain.Animal{}, err
	}
	if err := l.Events.Append(ctx, tx, "donation.paid", "donation", d.ID, actorID, events.EventPayload{
		"animal_id": animal.ID,
		"amount":    amount,
		"recorded":  "offline",
	}); err != nil {
		return domain.Animal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Animal{}, err
	}
	return l.Repo.GetAnimal(ctx, animal.ID)
}

// AttachReceipt finalizes a completed fundraiser by attaching the receipt.
// Re-finalizing replaces the receipt but keeps the original finalized_at.
func (l Ledger) AttachReceipt(ctx context.Context, animalID, receiptURL, actorID string) (domain.Animal, error) {
	receiptURL = strings.TrimSpace(receiptURL)
	if receiptURL == "" {
		return domain.Animal{}, validationf("receipt url is required")
	}

	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Animal{}, err
	}
	defer tx.Rollback()

	animal, err := l.Repo.LockAnimalTx(ctx, tx, animalID)
	if err != nil {
		return domain.Animal{}, err
	}
	if animal.Category != domain.CategoryDonate {
		return domain.Animal{}, validationf("animal %s does not accept donations", animal.ID)
	}
	if animal.Status != domain.AnimalCompleted && animal.Status != domain.AnimalFinalized {
		return domain.Animal{}, conflictf("animal %s has not reached its goal yet", animal.ID)
	}

	animal.ReceiptURL = &receiptURL
	animal.Status = domain.AnimalFinalized
	if animal.FinalizedAt == nil {
		ts := l.nowRFC()
		animal.FinalizedAt = &ts
	}
	if err := l.Repo.UpdateAnimalTx(ctx, tx, animal); err != nil {
		return domain.Animal{}, fmt.Errorf("finalize animal: %w", err)
	}
	if err := l.Events.Append(ctx, tx, "animal.finalized", "animal", animal.ID, actorID, events.EventPayload{
		"receipt_url": receiptURL,
	}); err != nil {
		return domain.Animal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Animal{}, err
	}
	return animal, nil
}

// maybeCompleteGoal flips an active donate animal to completed once raised
// reaches the goal, inserting the GOAL_REACHED notification in the same
// transaction. Safe to call after every total-changing write; the caller
// holds the animal lock.
func (l Ledger) maybeCompleteGoal(ctx context.Context, tx *sql.Tx, animal domain.Animal) error {
	if animal.Category != domain.CategoryDonate || animal.Status != domain.AnimalActive {
		return nil
	}
	if animal.GoalAmount == nil || *animal.GoalAmount <= 0 {
		return nil
	}
	if animal.RaisedAmount < *animal.GoalAmount {
		return nil
	}
	now := l.nowRFC()
	if err := l.Repo.MarkAnimalCompletedTx(ctx, tx, animal.ID, now); err != nil {
		return fmt.Errorf("mark animal completed: %w", err)
	}
	n := domain.Notification{
		ID:        uuid.NewString(),
		Type:      domain.NotificationGoalReached,
		AnimalID:  animal.ID,
		Message:   fmt.Sprintf("%s has reached the fundraising goal", animal.Name),
		CreatedAt: now,
	}
	if err := l.Repo.InsertNotificationTx(ctx, tx, n); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return l.Events.Append(ctx, tx, "goal.reached", "animal", animal.ID, "system", events.EventPayload{
		"goal":   *animal.GoalAmount,
		"raised": animal.RaisedAmount,
	})
}

func clampToGoal(animal domain.Animal, raised int64) int64 {
	if animal.GoalAmount != nil && raised > *animal.GoalAmount {
		return *animal.GoalAmount
	}
	return raised
}

func actorOrSystem(actorID string) string {
	if actorID == "" {
		return "anonymous"
	}
	return actorID
}
