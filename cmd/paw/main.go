package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pawfund/internal/config"
	"pawfund/internal/db"
	"pawfund/internal/domain"
	"pawfund/internal/ledger"
	"pawfund/internal/migrate"
	"pawfund/internal/paymongo"
	"pawfund/internal/repo"
	"pawfund/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "paw",
	Short: "PawFund CLI",
	Long: `PawFund tracks rescue-animal fundraisers and reconciles PayMongo donations.
- Workspace: the .pawfund directory holding the SQLite ledger.
- Animals: donate animals carry a goal and a raised total; adopt animals carry
  adoption info only.
- Donations: created pending at checkout, marked paid exactly once when the
  gateway confirms payment.
- Goal completion: when raised reaches the goal the animal completes and a
  GOAL_REACHED notification is written, atomically.
- Finalization: attaching a receipt moves a completed fundraiser to finalized.
- Audit log: every mutation is recorded, view with 'paw log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PAWFUND")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "actor identifier for audit entries")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(animalCmd())
	rootCmd.AddCommand(donationCmd())
	rootCmd.AddCommand(notificationCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				fmt.Println("database up to date:", db.Path(viper.GetString("workspace")))
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage pawfund.yml"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate pawfund.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := config.FromFile(path); err != nil {
				return err
			}
			fmt.Println("ok:", path)
			return nil
		},
	})
	return cfg
}

func animalCmd() *cobra.Command {
	animal := &cobra.Command{Use: "animal", Short: "Manage the animal catalog"}
	animal.AddCommand(animalListCmd())
	animal.AddCommand(animalShowCmd())
	animal.AddCommand(animalCreateCmd())
	animal.AddCommand(animalUpdateCmd())
	animal.AddCommand(animalDeleteCmd())
	animal.AddCommand(animalReceiptCmd())
	return animal
}

func animalListCmd() *cobra.Command {
	var f repo.AnimalFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List animals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				animals, err := r.ListAnimals(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(animals)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Category", "Status", "Raised", "Goal"})
				for _, a := range animals {
					goal := ""
					if a.GoalAmount != nil {
						goal = formatCentavos(*a.GoalAmount)
					}
					tw.AppendRow(table.Row{a.ID, a.Name, a.Category, a.Status, formatCentavos(a.RaisedAmount), goal})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Category, "category", "", "category filter (donate|adopt)")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (active|completed|finalized)")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func animalShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <animal-id>",
		Short: "Show one animal with its paid donations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, l ledger.Ledger) error {
				a, err := l.Repo.GetAnimal(ctx, args[0])
				if err != nil {
					return err
				}
				ds, err := l.ListPaidDonations(ctx, a.ID)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"animal": a, "paid_donations": ds})
			})
		},
	}
}

func animalFlags(cmd *cobra.Command, opts *ledger.AnimalOptions, goal *int64, raised *int64) {
	cmd.Flags().StringVar(&opts.Category, "category", "", "donate or adopt")
	cmd.Flags().StringVar(&opts.Name, "name", "", "animal name")
	cmd.Flags().StringVar(&opts.Gender, "gender", "", "gender")
	cmd.Flags().StringVar(&opts.Breed, "breed", "", "breed")
	cmd.Flags().StringVar(&opts.Age, "age", "", "age")
	cmd.Flags().StringVar(&opts.Shelter, "shelter", "", "shelter name")
	cmd.Flags().StringVar(&opts.MedicalNeeds, "medical-needs", "", "medical needs (donate)")
	cmd.Flags().StringVar(&opts.About, "about", "", "about text (adopt)")
	cmd.Flags().StringVar(&opts.FBLink, "fb-link", "", "facebook link (adopt)")
	cmd.Flags().StringVar(&opts.ImageURL, "image-url", "", "image url")
	cmd.Flags().Int64Var(goal, "goal", 0, "goal amount in centavos (donate)")
	cmd.Flags().Int64Var(raised, "raised", -1, "raised amount in centavos")
}

func animalCreateCmd() *cobra.Command {
	var opts ledger.AnimalOptions
	var goal, raised int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an animal",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyAmountFlags(&opts, goal, raised)
			return withLedger(cmd.Context(), func(ctx context.Context, l ledger.Ledger) error {
				a, err := l.CreateAnimal(ctx, opts, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	animalFlags(cmd, &opts, &goal, &raised)
	return cmd
}

func animalUpdateCmd() *cobra.Command {
	var opts ledger.AnimalOptions
	var goal, raised int64
	cmd := &cobra.Command{
		Use:   "update <animal-id>",
		Short: "Update an animal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyAmountFlags(&opts, goal, raised)
			return withLedger(cmd.Context(), func(ctx context.Context, l ledger.Ledger) error {
				a, err := l.UpdateAnimal(ctx, args[0], opts, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	animalFlags(cmd, &opts, &goal, &raised)
	return cmd
}

func applyAmountFlags(opts *ledger.AnimalOptions, goal, raised int64) {
	if goal > 0 {
		opts.GoalAmount = &goal
	}
	if raised >= 0 {
		opts.RaisedAmount = &raised
	}
}

func animalDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <animal-id>",
		Short: "Delete an animal and its donations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, l ledger.Ledger) error {
				if err := l.DeleteAnimal(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func animalReceiptCmd() *cobra.Command {
	var receiptURL string
	cmd := &cobra.Command{
		Use:   "receipt <animal-id>",
		Short: "Attach a receipt and finalize a completed fundraiser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, l ledger.Ledger) error {
				a, err := l.AttachReceipt(ctx, args[0], receiptURL, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	cmd.Flags().StringVar(&receiptURL, "url", "", "receipt url")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func donationCmd() *cobra.Command {
	donation := &cobra.Command{Use: "donation", Short: "Inspect and record donations"}
	donation.AddCommand(donationListCmd())
	donation.AddCommand(donationRecordPaidCmd())
	return donation
}

func donationListCmd() *cobra.Command {
	var f repo.DonationFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List donations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				ds, err := r.ListDonations(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ds)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Animal", "Donor", "Amount", "Status", "Paid at"})
				for _, d := range ds {
					donor := "Anonymous"
					if d.DonorName != nil && strings.TrimSpace(*d.DonorName) != "" {
						donor = *d.DonorName
					}
					paidAt := ""
					if d.PaidAt != nil {
						paidAt = *d.PaidAt
					}
					tw.AppendRow(table.Row{d.ID, d.AnimalID, donor, formatCentavos(d.Amount), d.Status, paidAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.AnimalID, "animal", "", "animal id filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (pending|paid)")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func donationRecordPaidCmd() *cobra.Command {
	var donorName string
	var amount int64
	cmd := &cobra.Command{
		Use:   "record-paid <animal-id>",
		Short: "Record an offline donation as already paid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, l ledger.Ledger) error {
				a, err := l.RecordPaidDonation(ctx, args[0], donorName, amount, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	cmd.Flags().StringVar(&donorName, "donor", "", "donor name (blank for anonymous)")
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount in centavos")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func notificationCmd() *cobra.Command {
	notif := &cobra.Command{Use: "notification", Short: "Goal-reached notifications"}
	notif.AddCommand(notificationListCmd())
	notif.AddCommand(notificationReadCmd())
	return notif
}

func notificationListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				ns, err := r.ListNotifications(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ns)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Animal", "Message", "Read at"})
				for _, n := range ns {
					readAt := ""
					if n.ReadAt != nil {
						readAt = *n.ReadAt
					}
					tw.AppendRow(table.Row{n.ID, n.Type, n.AnimalID, n.Message, readAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func notificationReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <notification-id>",
		Short: "Mark a notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, l ledger.Ledger) error {
				n, err := l.MarkNotificationRead(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(n)
			})
		},
	}
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage admin API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyRevokeCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an admin API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := "pf_" + strings.ReplaceAll(uuid.NewString(), "-", "")
				key := domain.APIKey{
					ID:      uuid.NewString(),
					Label:   label,
					Role:    "admin",
					KeyHash: repo.HashAPIKey(raw),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				// The raw key is shown once and never stored.
				return printJSON(map[string]string{"id": key.ID, "label": key.Label, "key": raw})
			})
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Label", "Role", "Created at"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Label, k.Role, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func apikeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	logCommand := &cobra.Command{Use: "log", Short: "Audit log"}
	var f repo.AuditFilters
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				evs, err := r.ListAuditEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, e := range evs {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + "/" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity", "", "entity kind filter")
	tail.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	tail.Flags().Int64Var(&f.Cursor, "before", 0, "only events with smaller ids")
	logCommand.AddCommand(tail)
	return logCommand
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			jwtSecret := os.Getenv("PAWFUND_JWT_SECRET")
			if jwtSecret == "" {
				return fmt.Errorf("PAWFUND_JWT_SECRET is required for bearer auth")
			}
			gatewayKey := os.Getenv("PAYMONGO_SECRET_KEY")
			if gatewayKey == "" {
				return fmt.Errorf("PAYMONGO_SECRET_KEY is required to create checkout sessions")
			}
			webhookSecret := os.Getenv("PAYMONGO_WEBHOOK_SECRET")
			if webhookSecret == "" {
				return fmt.Errorf("PAYMONGO_WEBHOOK_SECRET is required to verify webhook deliveries")
			}
			gateway := paymongo.New(gatewayKey)
			if cfg.Gateway.BaseURL != "" {
				gateway.BaseURL = cfg.Gateway.BaseURL
			}
			l := ledger.New(conn, cfg, gateway)
			handler, err := server.New(server.Config{
				Ledger:        l,
				BasePath:      basePath,
				Auth:          server.AuthConfig{JWTSecret: jwtSecret},
				WebhookSecret: webhookSecret,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving PawFund API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func withLedger(ctx context.Context, fn func(context.Context, ledger.Ledger) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, ledger.New(conn, cfg, nil))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatCentavos(v int64) string {
	return fmt.Sprintf("%d.%02d", v/100, v%100)
}
