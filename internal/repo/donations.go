package repo

import (
	"context"
	"database/sql"
	"strings"

	"pawfund/internal/domain"
)

const donationCols = `id,animal_id,donor_user_id,donor_name,amount,status,paymongo_checkout_id,paymongo_payment_id,created_at,paid_at`

func scanDonation(row animalScanner) (domain.Donation, error) {
	var d domain.Donation
	var donorUserID, donorName, checkoutID, paymentID, paidAt sql.NullString
	err := row.Scan(&d.ID, &d.AnimalID, &donorUserID, &donorName, &d.Amount, &d.Status,
		&checkoutID, &paymentID, &d.CreatedAt, &paidAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if donorUserID.Valid {
		d.DonorUserID = &donorUserID.String
	}
	if donorName.Valid {
		d.DonorName = &donorName.String
	}
	if checkoutID.Valid {
		d.PaymongoCheckoutID = &checkoutID.String
	}
	if paymentID.Valid {
		d.PaymongoPaymentID = &paymentID.String
	}
	if paidAt.Valid {
		d.PaidAt = &paidAt.String
	}
	return d, nil
}

func (r Repo) InsertDonationTx(ctx context.Context, tx *sql.Tx, d domain.Donation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO donations(`+donationCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.AnimalID, nullableStringPtr(d.DonorUserID), nullableStringPtr(d.DonorName),
		d.Amount, d.Status, nullableStringPtr(d.PaymongoCheckoutID), nullableStringPtr(d.PaymongoPaymentID),
		d.CreatedAt, nullableStringPtr(d.PaidAt))
	return err
}

func (r Repo) SetDonationCheckoutIDTx(ctx context.Context, tx *sql.Tx, id, checkoutID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE donations SET paymongo_checkout_id=? WHERE id=?`, checkoutID, id)
	return err
}

func (r Repo) GetDonation(ctx context.Context, id string) (domain.Donation, error) {
	return scanDonation(r.DB.QueryRowContext(ctx, `SELECT `+donationCols+` FROM donations WHERE id=?`, id))
}

// LockDonationByCheckoutTx reads a donation by its checkout session id inside
// a write transaction; see LockAnimalTx for the locking contract.
func (r Repo) LockDonationByCheckoutTx(ctx context.Context, tx *sql.Tx, checkoutID string) (domain.Donation, error) {
	return scanDonation(tx.QueryRowContext(ctx, `SELECT `+donationCols+` FROM donations WHERE paymongo_checkout_id=?`, checkoutID))
}

func (r Repo) MarkDonationPaidTx(ctx context.Context, tx *sql.Tx, id string, paymentID *string, paidAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE donations SET status=?, paymongo_payment_id=?, paid_at=? WHERE id=?`,
		domain.DonationPaid, nullableStringPtr(paymentID), paidAt, id)
	return err
}

type DonationFilters struct {
	AnimalID string
	Status   string
	Limit    int
}

func (r Repo) ListDonations(ctx context.Context, f DonationFilters) ([]domain.Donation, error) {
	var clauses []string
	var args []any
	if f.AnimalID != "" {
		clauses = append(clauses, "animal_id=?")
		args = append(args, f.AnimalID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + donationCols + ` FROM donations ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Donation
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// SumPaidDonations returns the total of paid donation amounts for one animal.
func (r Repo) SumPaidDonations(ctx context.Context, animalID string) (int64, error) {
	var total int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount),0) FROM donations WHERE animal_id=? AND status=?`,
		animalID, domain.DonationPaid).Scan(&total)
	return total, err
}
