package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"pawfund/internal/domain"
	"pawfund/internal/events"
	"pawfund/internal/repo"
)

// AnimalOptions are parameters for creating or updating a catalog entry.
type AnimalOptions struct {
	Category     string
	Name         string
	Gender       string
	Breed        string
	Age          string
	Shelter      string
	MedicalNeeds string
	About        string
	FBLink       string
	ImageURL     string
	GoalAmount   *int64
	RaisedAmount *int64
}

func (o *AnimalOptions) validate() error {
	o.Name = strings.TrimSpace(o.Name)
	if o.Name == "" {
		return validationf("name is required")
	}
	switch o.Category {
	case domain.CategoryDonate:
		if strings.TrimSpace(o.MedicalNeeds) == "" {
			return validationf("medical_needs is required for donate animals")
		}
		if o.GoalAmount == nil || *o.GoalAmount <= 0 {
			return validationf("goal_amount must be positive for donate animals")
		}
		if o.RaisedAmount != nil && *o.RaisedAmount < 0 {
			return validationf("raised_amount must not be negative")
		}
	case domain.CategoryAdopt:
		if strings.TrimSpace(o.About) == "" {
			return validationf("about is required for adopt animals")
		}
		if strings.TrimSpace(o.FBLink) == "" {
			return validationf("fb_link is required for adopt animals")
		}
		if o.GoalAmount != nil || o.RaisedAmount != nil {
			return validationf("adopt animals carry no fundraising fields")
		}
	default:
		return validationf("category must be donate or adopt")
	}
	return nil
}

func (o AnimalOptions) apply(a *domain.Animal) {
	a.Category = o.Category
	a.Name = o.Name
	a.Gender = strings.TrimSpace(o.Gender)
	a.Breed = strings.TrimSpace(o.Breed)
	a.Age = strings.TrimSpace(o.Age)
	a.Shelter = strings.TrimSpace(o.Shelter)
	a.ImageURL = strings.TrimSpace(o.ImageURL)
	a.MedicalNeeds = optString(o.MedicalNeeds)
	a.About = optString(o.About)
	a.FBLink = optString(o.FBLink)
	a.GoalAmount = o.GoalAmount
	if o.RaisedAmount != nil {
		a.RaisedAmount = clampToGoal(*a, *o.RaisedAmount)
	} else if a.GoalAmount != nil {
		a.RaisedAmount = clampToGoal(*a, a.RaisedAmount)
	}
}

// CreateAnimal adds a catalog entry. A donate animal created with a preset
// raised amount at or above its goal completes immediately.
func (l Ledger) CreateAnimal(ctx context.Context, opts AnimalOptions, actorID string) (domain.Animal, error) {
	if err := opts.validate(); err != nil {
		return domain.Animal{}, err
	}

	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Animal{}, err
	}
	defer tx.Rollback()

	a := domain.Animal{
		ID:        uuid.NewString(),
		Status:    domain.AnimalActive,
		CreatedAt: l.nowRFC(),
	}
	opts.apply(&a)
	if err := l.Repo.InsertAnimalTx(ctx, tx, a); err != nil {
		return domain.Animal{}, fmt.Errorf("insert animal: %w", err)
	}
	if err := l.maybeCompleteGoal(ctx, tx, a); err != nil {
		return domain.Animal{}, err
	}
	if err := l.Events.Append(ctx, tx, "animal.created", "animal", a.ID, actorID, events.EventPayload{
		"category": a.Category,
		"name":     a.Name,
	}); err != nil {
		return domain.Animal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Animal{}, err
	}
	return l.Repo.GetAnimal(ctx, a.ID)
}

// UpdateAnimal replaces a catalog entry's editable fields. Lifecycle fields
// (status, completed_at, finalized_at, receipt_url) are owned by the engine
// and survive the update; raised corrections stay clamped to the goal.
func (l Ledger) UpdateAnimal(ctx context.Context, id string, opts AnimalOptions, actorID string) (domain.Animal, error) {
	if err := opts.validate(); err != nil {
		return domain.Animal{}, err
	}

	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Animal{}, err
	}
	defer tx.Rollback()

	a, err := l.Repo.LockAnimalTx(ctx, tx, id)
	if err != nil {
		return domain.Animal{}, err
	}
	if a.Category != opts.Category {
		return domain.Animal{}, validationf("category of animal %s cannot change", id)
	}
	opts.apply(&a)
	if err := l.Repo.UpdateAnimalTx(ctx, tx, a); err != nil {
		return domain.Animal{}, fmt.Errorf("update animal: %w", err)
	}
	if err := l.maybeCompleteGoal(ctx, tx, a); err != nil {
		return domain.Animal{}, err
	}
	if err := l.Events.Append(ctx, tx, "animal.updated", "animal", a.ID, actorID, events.EventPayload{
		"name": a.Name,
	}); err != nil {
		return domain.Animal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Animal{}, err
	}
	return l.Repo.GetAnimal(ctx, a.ID)
}

// DeleteAnimal removes a catalog entry and, via cascade, its donations.
func (l Ledger) DeleteAnimal(ctx context.Context, id, actorID string) error {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := l.Repo.LockAnimalTx(ctx, tx, id); err != nil {
		return err
	}
	if err := l.Repo.DeleteAnimalTx(ctx, tx, id); err != nil {
		return fmt.Errorf("delete animal: %w", err)
	}
	if err := l.Events.Append(ctx, tx, "animal.deleted", "animal", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// ListPaidDonations returns an animal's paid donations, newest first, with
// "Anonymous" substituted for blank donor names.
func (l Ledger) ListPaidDonations(ctx context.Context, animalID string) ([]domain.Donation, error) {
	if _, err := l.Repo.GetAnimal(ctx, animalID); err != nil {
		return nil, err
	}
	ds, err := l.Repo.ListDonations(ctx, repo.DonationFilters{AnimalID: animalID, Status: domain.DonationPaid})
	if err != nil {
		return nil, err
	}
	anon := "Anonymous"
	for i := range ds {
		if ds[i].DonorName == nil || strings.TrimSpace(*ds[i].DonorName) == "" {
			ds[i].DonorName = &anon
		}
	}
	return ds, nil
}

func optString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
