package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pawfund/internal/config"
	"pawfund/internal/db"
	"pawfund/internal/domain"
	"pawfund/internal/ledger"
	"pawfund/internal/migrate"
	"pawfund/internal/paymongo"
	"pawfund/internal/repo"
)

type fakeGateway struct {
	mu       sync.Mutex
	calls    []paymongo.CheckoutParams
	nextID   int
	failWith error
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, params paymongo.CheckoutParams) (paymongo.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return paymongo.CheckoutSession{}, g.failWith
	}
	g.calls = append(g.calls, params)
	g.nextID++
	id := fmt.Sprintf("cs_%03d", g.nextID)
	return paymongo.CheckoutSession{ID: id, CheckoutURL: "https://pay.example/" + id}, nil
}

type testEnv struct {
	Ledger  ledger.Ledger
	Gateway *fakeGateway
	Ctx     context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	gw := &fakeGateway{}
	l := ledger.New(conn, config.Default(), gw)
	l.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Ledger: l, Gateway: gw, Ctx: context.Background()}
}

func (env testEnv) createDonateAnimal(t *testing.T, goal int64, raised int64) domain.Animal {
	t.Helper()
	opts := ledger.AnimalOptions{
		Category:     domain.CategoryDonate,
		Name:         "Bantay",
		Breed:        "Aspin",
		Shelter:      "Quezon City Pound",
		MedicalNeeds: "leg surgery",
		GoalAmount:   &goal,
	}
	if raised > 0 {
		opts.RaisedAmount = &raised
	}
	a, err := env.Ledger.CreateAnimal(env.Ctx, opts, "admin")
	if err != nil {
		t.Fatalf("create animal: %v", err)
	}
	return a
}

func (env testEnv) payCheckout(t *testing.T, donationID, paymentID string) {
	t.Helper()
	d, err := env.Ledger.Repo.GetDonation(env.Ctx, donationID)
	if err != nil {
		t.Fatalf("get donation: %v", err)
	}
	res, err := env.Ledger.HandlePaymentCompletion(env.Ctx, *d.PaymongoCheckoutID, paymentID)
	if err != nil {
		t.Fatalf("handle completion: %v", err)
	}
	if res != ledger.CompletionApplied {
		t.Fatalf("completion result = %s", res)
	}
}

func TestCreateCheckoutCapsToRemaining(t *testing.T) {
	env := newTestEnv(t)
	a := env.createDonateAnimal(t, 100000, 0)
	env.payAdmin(t, a.ID, 80000)

	out, err := env.Ledger.CreateCheckout(env.Ctx, ledger.CheckoutOptions{
		AnimalID: a.ID, DonorName: "Maria", Amount: 50000,
	})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if out.Amount != 20000 {
		t.Fatalf("capped amount = %d, want 20000", out.Amount)
	}
	d, err := env.Ledger.Repo.GetDonation(env.Ctx, out.DonationID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Amount != 20000 || d.Status != domain.DonationPending {
		t.Fatalf("donation = %+v", d)
	}
	if len(env.Gateway.calls) != 1 || env.Gateway.calls[0].Amount != 20000 {
		t.Fatalf("gateway charged %+v", env.Gateway.calls)
	}
	if env.Gateway.calls[0].Metadata["donation_id"] != out.DonationID {
		t.Fatalf("metadata = %v", env.Gateway.calls[0].Metadata)
	}
}

func (env testEnv) payAdmin(t *testing.T, animalID string, amount int64) domain.Animal {
	t.Helper()
	a, err := env.Ledger.RecordPaidDonation(env.Ctx, animalID, "Cash Donor", amount, "admin")
	if err != nil {
		t.Fatalf("record paid donation: %v", err)
	}
	return a
}

func TestCreateCheckoutValidation(t *testing.T) {
	env := newTestEnv(t)
	a := env.createDonateAnimal(t, 100000, 0)

	_, err := env.Ledger.CreateCheckout(env.Ctx, ledger.CheckoutOptions{AnimalID: a.ID, DonorName: "Maria", Amount: 0})
	if _, ok := err.(*ledger.ValidationError); !ok {
		t.Fatalf("zero amount: %v", err)
	}
	_, err = env.Ledger.CreateCheckout(env.Ctx, ledger.CheckoutOptions{AnimalID: a.ID, DonorName: "   ", Amount: 1000})
	if _, ok := err.(*ledger.ValidationError); !ok {
		t.Fatalf("blank name: %v", err)
	}
	// anonymous donors need no name
	if _, err := env.Ledger.CreateCheckout(env.Ctx, ledger.CheckoutOptions{AnimalID: a.ID, Anonymous: true, Amount: 1000}); err != nil {
		t.Fatalf("anonymous: %v", err)
	}

	adopt, err := env.Ledger.CreateAnimal(env.Ctx, ledger.AnimalOptions{
		Category: domain.CategoryAdopt, Name: "Mingming", About: "sweet cat", FBLink: "https://fb.example/mingming",
	}, "admin")
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Ledger.CreateCheckout(env.Ctx, ledger.CheckoutOptions{AnimalID: adopt.ID, DonorName: "Maria", Amount: 1000})
	if _, ok := err.(*ledger.ValidationError); !ok {
		t.Fatalf("adopt category: %v", err)
	}
}

func TestCreateCheckoutRejectsReachedGoal(t *testing.T) {
	env := newTestEnv(t)
	a := env.createDonateAnimal(t, 50000, 50000)

	_, err := env.Ledger.CreateCheckout(env.Ctx, ledger.CheckoutOptions{AnimalID: a.ID, DonorName: "Maria", Amount: 1000})
	if _, ok := err.(*ledger.ConflictError); !ok {
		t.Fatalf("want conflict, got %v", err)
	}
}

func TestCreateCheckoutGatewayFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	a := env.createDonateAnimal(t, 100000, 0)
	env.Gateway.failWith = fmt.Errorf("paymongo: amount below minimum")

	_, err := env.Ledger.CreateCheckout(env.Ctx, ledger.CheckoutOptions{AnimalID: a.ID, DonorName: "Maria", Amount: 1000})
	var gw *ledger.GatewayError
	if !errors.As(err, &gw) {
		t.Fatalf("want GatewayError, got %v", err)
	}
	ds, err := env.Ledger.Repo.ListDonations(env.Ctx, repo.DonationFilters{AnimalID: a.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 0 {
		t.Fatalf("donation survived failed gateway call: %+v", ds)
	}
}

func TestPaymentCompletionReachesGoalAtomically(t *testing.T) {
	env := newTestEnv(t)
	a := env.createDonateAnimal(t, 100000, 80000)

	out, err := env.Ledger.CreateCheckout(env.Ctx, ledger.CheckoutOptions{AnimalID: a.ID, DonorName: "Maria", Amount: 50000})
	if err != nil {
		t.Fatal(err)
	}
	env.payCheckout(t, out.DonationID, "pay_001")

	got, err := env.Ledger.Repo.GetAnimal(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RaisedAmount != 100000 {
		t.Fatalf("raised = %d", got.RaisedAmount)
	}
	if got.Status != domain.AnimalCompleted || got.CompletedAt == nil {
		t.Fatalf("animal = %+v", got)
	}
	ns, err := env.Ledger.ListNotifications(env.Ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ns) != 1 || ns[0].Type != domain.NotificationGoalReached || ns[0].AnimalID != a.ID {
		t.Fatalf("notifications = %+v", ns)
	}
}

func TestPaymentCompletionIdempotent(t *testing.T) {
	env := newTestEnv(t)
	a := env.createDonateAnimal(t, 100000, 0)
	out, err := env.Ledger.CreateCheckout(env.Ctx, ledger.CheckoutOptions{AnimalID: a.ID, DonorName: "Maria", Amount: 30000})
	if err != nil {
		t.Fatal(err)
	}
	d, _ := env.Ledger.Repo.GetDonation(env.Ctx, out.DonationID)
	checkoutID := *d.PaymongoCheckoutID

	res, err := env.Ledger.HandlePaymentCompletion(env.Ctx, checkoutID, "pay_001")
	if err != nil || res != ledger.CompletionApplied {
		t.Fatalf("first delivery: %s %v", res, err)
	}
	res, err = env.Ledger.HandlePaymentCompletion(env.Ctx, checkoutID, "pay_001")
	if err != nil || res != ledger.CompletionDuplicate {
		t.Fatalf("replay: %s %v", res, err)
	}
	got, _ := env.Ledger.Repo.GetAnimal(env.Ctx, a.ID)
	if got.RaisedAmount != 30000 {
		t.Fatalf("raised = %d after replay", got.RaisedAmount)
	}
}

func TestPaymentCompletionUnknownSessionIgnored(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Ledger.HandlePaymentCompletion(env.Ctx, "cs_unknown", "pay_x")
	if err != nil || res != ledger.CompletionIgnored {
		t.Fatalf("unknown session: %s %v", res, err)
	}
	res, err = env.Ledger.HandlePaymentCompletion(env.Ctx, "", "pay_x")
	if err != nil || res != ledger.CompletionIgnored {
		t.Fatalf("empty session: %s %v", res, err)
	}
}

func TestConcurrentCompletionsNoLostUpdate(t *testing.T) {
	env := newTestEnv(t)
	a := env.createDonateAnimal(t, 1000000, 0)

	const n = 8
	checkouts := make([]string, n)
	for i := range checkouts {
		out, err := env.Ledger.CreateCheckout(env.Ctx, ledger.CheckoutOptions{AnimalID: a.ID, DonorName: "Maria", Amount: 10000})
		if err != nil {
			t.Fatal(err)
		}
		d, _ := env.Ledger.Repo.GetDonation(env.Ctx, out.DonationID)
		checkouts[i] = *d.PaymongoCheckoutID
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i, cs := range checkouts {
		wg.Add(1)
		go func(i int, cs string) {
			defer wg.Done()
			if _, err := env.Ledger.HandlePaymentCompletion(env.Ctx, cs, fmt.Sprintf("pay_%d", i)); err != nil {
				errs <- err
			}
		}(i, cs)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent completion: %v", err)
	}

	got, err := env.Ledger.Repo.GetAnimal(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RaisedAmount != n*10000 {
		t.Fatalf("raised = %d, want %d", got.RaisedAmount, n*10000)
	}
	sum, err := env.Ledger.Repo.SumPaidDonations(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sum != got.RaisedAmount {
		t.Fatalf("paid sum %d != raised %d", sum, got.RaisedAmount)
	}
}

func TestRecordPaidDonationUncappedButClamped(t *testing.T) {
	env := newTestEnv(t)
	a := env.createDonateAnimal(t, 50000, 40000)

	got := env.payAdmin(t, a.ID, 30000)
	if got.RaisedAmount != 50000 {
		t.Fatalf("raised = %d, want clamp at goal", got.RaisedAmount)
	}
	if got.Status != domain.AnimalCompleted {
		t.Fatalf("status = %s", got.Status)
	}
	ds, err := env.Ledger.Repo.ListDonations(env.Ctx, repo.DonationFilters{AnimalID: a.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 || ds[0].Amount != 30000 || ds[0].Status != domain.DonationPaid {
		t.Fatalf("donations = %+v", ds)
	}
}

func TestAttachReceipt(t *testing.T) {
	env := newTestEnv(t)
	a := env.createDonateAnimal(t, 10000, 0)

	// active animals cannot be finalized
	if _, err := env.Ledger.AttachReceipt(env.Ctx, a.ID, "https://receipts.example/1.pdf", "admin"); err == nil {
		t.Fatal("finalized an active animal")
	}

	env.payAdmin(t, a.ID, 10000)
	got, err := env.Ledger.AttachReceipt(env.Ctx, a.ID, "https://receipts.example/1.pdf", "admin")
	if err != nil {
		t.Fatalf("attach receipt: %v", err)
	}
	if got.Status != domain.AnimalFinalized || got.ReceiptURL == nil || got.FinalizedAt == nil {
		t.Fatalf("animal = %+v", got)
	}
	firstFinalized := *got.FinalizedAt

	// re-finalizing replaces the receipt but keeps the original timestamp
	env.Ledger.Now = func() time.Time { return time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC) }
	got, err = env.Ledger.AttachReceipt(env.Ctx, a.ID, "https://receipts.example/2.pdf", "admin")
	if err != nil {
		t.Fatalf("re-finalize: %v", err)
	}
	if *got.ReceiptURL != "https://receipts.example/2.pdf" {
		t.Fatalf("receipt = %s", *got.ReceiptURL)
	}
	if *got.FinalizedAt != firstFinalized {
		t.Fatalf("finalized_at overwritten: %s != %s", *got.FinalizedAt, firstFinalized)
	}

	// checkout against a finalized animal is rejected
	if _, err := env.Ledger.CreateCheckout(env.Ctx, ledger.CheckoutOptions{AnimalID: a.ID, DonorName: "Maria", Amount: 1000}); err == nil {
		t.Fatal("checkout against finalized animal")
	}
}

func TestCreateAnimalValidation(t *testing.T) {
	env := newTestEnv(t)
	goal := int64(10000)

	cases := []struct {
		name string
		opts ledger.AnimalOptions
	}{
		{"donate missing medical needs", ledger.AnimalOptions{Category: domain.CategoryDonate, Name: "X", GoalAmount: &goal}},
		{"donate missing goal", ledger.AnimalOptions{Category: domain.CategoryDonate, Name: "X", MedicalNeeds: "care"}},
		{"adopt missing about", ledger.AnimalOptions{Category: domain.CategoryAdopt, Name: "X", FBLink: "https://fb.example/x"}},
		{"adopt with goal", ledger.AnimalOptions{Category: domain.CategoryAdopt, Name: "X", About: "a", FBLink: "f", GoalAmount: &goal}},
		{"bad category", ledger.AnimalOptions{Category: "foster", Name: "X"}},
		{"missing name", ledger.AnimalOptions{Category: domain.CategoryAdopt, About: "a", FBLink: "f"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Ledger.CreateAnimal(env.Ctx, tc.opts, "admin")
			if _, ok := err.(*ledger.ValidationError); !ok {
				t.Fatalf("want validation error, got %v", err)
			}
		})
	}
}

func TestCreateAnimalWithPresetRaisedCompletes(t *testing.T) {
	env := newTestEnv(t)
	a := env.createDonateAnimal(t, 10000, 15000)
	if a.RaisedAmount != 10000 {
		t.Fatalf("raised = %d, want clamp at goal", a.RaisedAmount)
	}
	if a.Status != domain.AnimalCompleted {
		t.Fatalf("status = %s", a.Status)
	}
}

func TestUpdateAnimalKeepsLifecycle(t *testing.T) {
	env := newTestEnv(t)
	a := env.createDonateAnimal(t, 10000, 10000)

	goal := int64(10000)
	got, err := env.Ledger.UpdateAnimal(env.Ctx, a.ID, ledger.AnimalOptions{
		Category:     domain.CategoryDonate,
		Name:         "Bantay Jr",
		MedicalNeeds: "leg surgery",
		GoalAmount:   &goal,
	}, "admin")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Name != "Bantay Jr" {
		t.Fatalf("name = %s", got.Name)
	}
	if got.Status != domain.AnimalCompleted || got.CompletedAt == nil {
		t.Fatalf("lifecycle lost on update: %+v", got)
	}
	if got.RaisedAmount != 10000 {
		t.Fatalf("raised = %d", got.RaisedAmount)
	}

	_, err = env.Ledger.UpdateAnimal(env.Ctx, a.ID, ledger.AnimalOptions{
		Category: domain.CategoryAdopt, Name: "Bantay", About: "a", FBLink: "f",
	}, "admin")
	if _, ok := err.(*ledger.ValidationError); !ok {
		t.Fatalf("category change: %v", err)
	}
}

func TestDeleteAnimalCascadesDonations(t *testing.T) {
	env := newTestEnv(t)
	a := env.createDonateAnimal(t, 100000, 0)
	out, err := env.Ledger.CreateCheckout(env.Ctx, ledger.CheckoutOptions{AnimalID: a.ID, DonorName: "Maria", Amount: 5000})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Ledger.DeleteAnimal(env.Ctx, a.ID, "admin"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Ledger.Repo.GetAnimal(env.Ctx, a.ID); err != repo.ErrNotFound {
		t.Fatalf("animal still present: %v", err)
	}
	if _, err := env.Ledger.Repo.GetDonation(env.Ctx, out.DonationID); err != repo.ErrNotFound {
		t.Fatalf("donation survived cascade: %v", err)
	}
}

func TestListPaidDonationsAnonymizes(t *testing.T) {
	env := newTestEnv(t)
	a := env.createDonateAnimal(t, 100000, 0)

	named, err := env.Ledger.CreateCheckout(env.Ctx, ledger.CheckoutOptions{AnimalID: a.ID, DonorName: "Maria", Amount: 5000})
	if err != nil {
		t.Fatal(err)
	}
	anon, err := env.Ledger.CreateCheckout(env.Ctx, ledger.CheckoutOptions{AnimalID: a.ID, Anonymous: true, Amount: 3000})
	if err != nil {
		t.Fatal(err)
	}
	env.payCheckout(t, named.DonationID, "pay_1")
	env.payCheckout(t, anon.DonationID, "pay_2")

	ds, err := env.Ledger.ListPaidDonations(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 2 {
		t.Fatalf("donations = %+v", ds)
	}
	names := map[string]bool{}
	for _, d := range ds {
		names[*d.DonorName] = true
	}
	if !names["Maria"] || !names["Anonymous"] {
		t.Fatalf("donor names = %v", names)
	}
}

func TestMarkNotificationRead(t *testing.T) {
	env := newTestEnv(t)
	a := env.createDonateAnimal(t, 10000, 0)
	env.payAdmin(t, a.ID, 10000)

	ns, err := env.Ledger.ListNotifications(env.Ctx, 10)
	if err != nil || len(ns) != 1 {
		t.Fatalf("notifications = %v %v", ns, err)
	}
	n, err := env.Ledger.MarkNotificationRead(env.Ctx, ns[0].ID, "admin")
	if err != nil || n.ReadAt == nil {
		t.Fatalf("mark read: %+v %v", n, err)
	}
	first := *n.ReadAt

	env.Ledger.Now = func() time.Time { return time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC) }
	n, err = env.Ledger.MarkNotificationRead(env.Ctx, ns[0].ID, "admin")
	if err != nil {
		t.Fatalf("re-read: %v", err)
	}
	if *n.ReadAt != first {
		t.Fatalf("read_at overwritten: %s != %s", *n.ReadAt, first)
	}

	// only the transition is audited, not the no-op re-read
	evs, err := env.Ledger.Repo.ListAuditEvents(env.Ctx, repo.AuditFilters{Type: "notification.read"})
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 {
		t.Fatalf("notification.read audit events = %d, want 1", len(evs))
	}

	if _, err := env.Ledger.MarkNotificationRead(env.Ctx, "missing", "admin"); err != repo.ErrNotFound {
		t.Fatalf("unknown id: %v", err)
	}
}

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	a := env.createDonateAnimal(t, 10000, 0)
	out, err := env.Ledger.CreateCheckout(env.Ctx, ledger.CheckoutOptions{AnimalID: a.ID, DonorName: "Maria", Amount: 10000})
	if err != nil {
		t.Fatal(err)
	}
	env.payCheckout(t, out.DonationID, "pay_1")

	evs, err := env.Ledger.Repo.ListAuditEvents(env.Ctx, repo.AuditFilters{Limit: 50})
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, ev := range evs {
		seen[ev.Type] = true
	}
	for _, want := range []string{"animal.created", "donation.checkout_created", "donation.paid", "goal.reached"} {
		if !seen[want] {
			t.Fatalf("missing audit event %s in %v", want, seen)
		}
	}
}
