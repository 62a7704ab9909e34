package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"pawfund/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const animalCols = `id,category,status,name,gender,breed,age,shelter,medical_needs,about,fb_link,image_url,receipt_url,goal_amount,raised_amount,completed_at,finalized_at,created_at`

type animalScanner interface {
	Scan(dest ...any) error
}

func scanAnimal(row animalScanner) (domain.Animal, error) {
	var a domain.Animal
	var medicalNeeds, about, fbLink, receiptURL, completedAt, finalizedAt sql.NullString
	var goal sql.NullInt64
	err := row.Scan(&a.ID, &a.Category, &a.Status, &a.Name, &a.Gender, &a.Breed, &a.Age, &a.Shelter,
		&medicalNeeds, &about, &fbLink, &a.ImageURL, &receiptURL, &goal, &a.RaisedAmount,
		&completedAt, &finalizedAt, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if medicalNeeds.Valid {
		a.MedicalNeeds = &medicalNeeds.String
	}
	if about.Valid {
		a.About = &about.String
	}
	if fbLink.Valid {
		a.FBLink = &fbLink.String
	}
	if receiptURL.Valid {
		a.ReceiptURL = &receiptURL.String
	}
	if goal.Valid {
		a.GoalAmount = &goal.Int64
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.String
	}
	if finalizedAt.Valid {
		a.FinalizedAt = &finalizedAt.String
	}
	return a, nil
}

func (r Repo) InsertAnimalTx(ctx context.Context, tx *sql.Tx, a domain.Animal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO animals(`+animalCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Category, a.Status, a.Name, a.Gender, a.Breed, a.Age, a.Shelter,
		nullableStringPtr(a.MedicalNeeds), nullableStringPtr(a.About), nullableStringPtr(a.FBLink),
		a.ImageURL, nullableStringPtr(a.ReceiptURL), nullableInt64Ptr(a.GoalAmount), a.RaisedAmount,
		nullableStringPtr(a.CompletedAt), nullableStringPtr(a.FinalizedAt), a.CreatedAt)
	return err
}

func (r Repo) GetAnimal(ctx context.Context, id string) (domain.Animal, error) {
	return scanAnimal(r.DB.QueryRowContext(ctx, `SELECT `+animalCols+` FROM animals WHERE id=?`, id))
}

// LockAnimalTx reads an animal inside a write transaction. Transactions begin
// with BEGIN IMMEDIATE, so the caller holds the exclusive write lock for the
// rest of the transaction; every mutation of raised_amount or status must go
// through this read first.
func (r Repo) LockAnimalTx(ctx context.Context, tx *sql.Tx, id string) (domain.Animal, error) {
	return scanAnimal(tx.QueryRowContext(ctx, `SELECT `+animalCols+` FROM animals WHERE id=?`, id))
}

type AnimalFilters struct {
	Category string
	Status   string
	Limit    int
}

func (r Repo) ListAnimals(ctx context.Context, f AnimalFilters) ([]domain.Animal, error) {
	var clauses []string
	var args []any
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + animalCols + ` FROM animals ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Animal
	for rows.Next() {
		a, err := scanAnimal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateAnimalTx(ctx context.Context, tx *sql.Tx, a domain.Animal) error {
	res, err := tx.ExecContext(ctx, `UPDATE animals SET category=?, status=?, name=?, gender=?, breed=?, age=?, shelter=?, medical_needs=?, about=?, fb_link=?, image_url=?, receipt_url=?, goal_amount=?, raised_amount=?, completed_at=?, finalized_at=? WHERE id=?`,
		a.Category, a.Status, a.Name, a.Gender, a.Breed, a.Age, a.Shelter,
		nullableStringPtr(a.MedicalNeeds), nullableStringPtr(a.About), nullableStringPtr(a.FBLink),
		a.ImageURL, nullableStringPtr(a.ReceiptURL), nullableInt64Ptr(a.GoalAmount), a.RaisedAmount,
		nullableStringPtr(a.CompletedAt), nullableStringPtr(a.FinalizedAt), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetAnimalRaisedTx(ctx context.Context, tx *sql.Tx, id string, raised int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE animals SET raised_amount=? WHERE id=?`, raised, id)
	return err
}

func (r Repo) MarkAnimalCompletedTx(ctx context.Context, tx *sql.Tx, id, completedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE animals SET status=?, completed_at=? WHERE id=?`,
		domain.AnimalCompleted, completedAt, id)
	return err
}

func (r Repo) DeleteAnimalTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM animals WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
