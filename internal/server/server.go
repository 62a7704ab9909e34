// Package server exposes the donation ledger over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"pawfund/internal/domain"
	"pawfund/internal/ledger"
	"pawfund/internal/paymongo"
	"pawfund/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Ledger        ledger.Ledger
	BasePath      string
	Auth          AuthConfig
	WebhookSecret string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"amount must be positive"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the PawFund API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(newAuthMiddleware(cfg.Auth, cfg.Ledger.Repo))
	hcfg := huma.DefaultConfig("PawFund API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group, cfg.Ledger)
	registerAnimals(group, cfg.Ledger)
	registerCheckout(group, cfg.Ledger)
	registerWebhook(group, cfg)
	registerAdmin(group, cfg.Ledger)
	registerOpenAPI(router, api, basePath)

	startHookDispatcher(cfg.Ledger)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *ledger.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", ve.Msg, nil)
	}
	var ce *ledger.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", ce.Msg, nil)
	}
	var ge *ledger.GatewayError
	if errors.As(err, &ge) {
		return newAPIError(http.StatusBadGateway, "bad_gateway", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusBadGateway:
		return "bad_gateway"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	public := map[string]bool{
		path.Join(basePath, "health"):            true,
		path.Join(basePath, "health/db"):         true,
		path.Join(basePath, "webhooks/paymongo"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>PawFund API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API, l ledger.Ledger) {
	type healthBody struct {
		Body map[string]string `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*healthBody, error) {
		return &healthBody{Body: map[string]string{"status": "ok"}}, nil
	})
	huma.Register(api, huma.Operation{
		OperationID: "health-db",
		Method:      http.MethodGet,
		Path:        "/health/db",
		Summary:     "Database health check",
	}, func(ctx context.Context, _ *struct{}) (*healthBody, error) {
		if err := l.DB.PingContext(ctx); err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "database unreachable", nil)
		}
		return &healthBody{Body: map[string]string{"status": "ok"}}, nil
	})
}

func animalOptions(req AnimalRequest) ledger.AnimalOptions {
	return ledger.AnimalOptions{
		Category:     req.Category,
		Name:         req.Name,
		Gender:       strOrEmpty(req.Gender),
		Breed:        strOrEmpty(req.Breed),
		Age:          strOrEmpty(req.Age),
		Shelter:      strOrEmpty(req.Shelter),
		MedicalNeeds: strOrEmpty(req.MedicalNeeds),
		About:        strOrEmpty(req.About),
		FBLink:       strOrEmpty(req.FBLink),
		ImageURL:     strOrEmpty(req.ImageURL),
		GoalAmount:   req.GoalAmount,
		RaisedAmount: req.RaisedAmount,
	}
}

func registerAnimals(api huma.API, l ledger.Ledger) {
	huma.Register(api, huma.Operation{
		OperationID: "list-animals",
		Method:      http.MethodGet,
		Path:        "/animals",
		Summary:     "List animals",
	}, func(ctx context.Context, input *struct {
		Category string `query:"category" enum:"donate,adopt" required:"false"`
		Status   string `query:"status" enum:"active,completed,finalized" required:"false"`
		Limit    int    `query:"limit" required:"false"`
	}) (*struct {
		Body []domain.Animal `json:"body"`
	}, error) {
		animals, err := l.Repo.ListAnimals(ctx, repo.AnimalFilters{
			Category: input.Category,
			Status:   input.Status,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if animals == nil {
			animals = []domain.Animal{}
		}
		return &struct {
			Body []domain.Animal `json:"body"`
		}{Body: animals}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-animal",
		Method:      http.MethodGet,
		Path:        "/animals/{animal_id}",
		Summary:     "Get animal",
	}, func(ctx context.Context, input *struct {
		AnimalID string `path:"animal_id"`
	}) (*struct {
		Body domain.Animal `json:"body"`
	}, error) {
		a, err := l.Repo.GetAnimal(ctx, input.AnimalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Animal `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-animal-donations",
		Method:      http.MethodGet,
		Path:        "/animals/{animal_id}/donations",
		Summary:     "List paid donations for an animal",
	}, func(ctx context.Context, input *struct {
		AnimalID string `path:"animal_id"`
	}) (*struct {
		Body []domain.Donation `json:"body"`
	}, error) {
		ds, err := l.ListPaidDonations(ctx, input.AnimalID)
		if err != nil {
			return nil, handleError(err)
		}
		if ds == nil {
			ds = []domain.Donation{}
		}
		return &struct {
			Body []domain.Donation `json:"body"`
		}{Body: ds}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-animal",
		Method:        http.MethodPost,
		Path:          "/animals",
		Summary:       "Create animal",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body AnimalRequest `json:"body"`
	}) (*struct {
		Body domain.Animal `json:"body"`
	}, error) {
		p, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := l.CreateAnimal(ctx, animalOptions(input.Body), p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Animal `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-animal",
		Method:      http.MethodPut,
		Path:        "/animals/{animal_id}",
		Summary:     "Update animal",
	}, func(ctx context.Context, input *struct {
		AnimalID string        `path:"animal_id"`
		Body     AnimalRequest `json:"body"`
	}) (*struct {
		Body domain.Animal `json:"body"`
	}, error) {
		p, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := l.UpdateAnimal(ctx, input.AnimalID, animalOptions(input.Body), p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Animal `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-animal",
		Method:        http.MethodDelete,
		Path:          "/animals/{animal_id}",
		Summary:       "Delete animal",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		AnimalID string `path:"animal_id"`
	}) (*struct{}, error) {
		p, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := l.DeleteAnimal(ctx, input.AnimalID, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerCheckout(api huma.API, l ledger.Ledger) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-checkout",
		Method:        http.MethodPost,
		Path:          "/animals/{animal_id}/checkout",
		Summary:       "Start a donation checkout",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		AnimalID string          `path:"animal_id"`
		Body     CheckoutRequest `json:"body"`
	}) (*struct {
		Body ledger.Checkout `json:"body"`
	}, error) {
		p, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := l.CreateCheckout(ctx, ledger.CheckoutOptions{
			AnimalID:    input.AnimalID,
			DonorUserID: p.UserID,
			DonorName:   strOrEmpty(input.Body.DonorName),
			Anonymous:   input.Body.Anonymous,
			Amount:      input.Body.Amount,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ledger.Checkout `json:"body"`
		}{Body: out}, nil
	})
}

func registerWebhook(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "paymongo-webhook",
		Method:      http.MethodPost,
		Path:        "/webhooks/paymongo",
		Summary:     "PayMongo event webhook",
	}, func(ctx context.Context, input *struct {
		Signature string `header:"Paymongo-Signature"`
		RawBody   []byte
	}) (*struct {
		Body webhookAck `json:"body"`
	}, error) {
		if err := paymongo.VerifyWebhookSignature(cfg.WebhookSecret, input.Signature, input.RawBody); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid webhook signature", nil)
		}
		var evt paymongoEvent
		if err := json.Unmarshal(input.RawBody, &evt); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "malformed webhook payload", nil)
		}
		ack := &struct {
			Body webhookAck `json:"body"`
		}{Body: webhookAck{OK: true}}
		if evt.Data.Attributes.Type != "checkout_session.payment.paid" {
			return ack, nil
		}
		checkoutID := evt.Data.Attributes.Data.ID
		paymentID := ""
		if ps := evt.Data.Attributes.Data.Attributes.Payments; len(ps) > 0 {
			paymentID = ps[0].ID
		}
		if _, err := cfg.Ledger.HandlePaymentCompletion(ctx, checkoutID, paymentID); err != nil {
			return nil, handleError(err)
		}
		return ack, nil
	})
}

func registerAdmin(api huma.API, l ledger.Ledger) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-paid-donation",
		Method:        http.MethodPost,
		Path:          "/admin/animals/{animal_id}/donations/paid",
		Summary:       "Record an offline donation as paid",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		AnimalID string                    `path:"animal_id"`
		Body     RecordPaidDonationRequest `json:"body"`
	}) (*struct {
		Body domain.Animal `json:"body"`
	}, error) {
		p, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := l.RecordPaidDonation(ctx, input.AnimalID, strOrEmpty(input.Body.DonorName), input.Body.Amount, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Animal `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attach-receipt",
		Method:      http.MethodPost,
		Path:        "/admin/animals/{animal_id}/receipt",
		Summary:     "Attach a receipt and finalize the fundraiser",
	}, func(ctx context.Context, input *struct {
		AnimalID string               `path:"animal_id"`
		Body     AttachReceiptRequest `json:"body"`
	}) (*struct {
		Body domain.Animal `json:"body"`
	}, error) {
		p, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := l.AttachReceipt(ctx, input.AnimalID, input.Body.ReceiptURL, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Animal `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/admin/notifications",
		Summary:     "List notifications",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" required:"false"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		ns, err := l.ListNotifications(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if ns == nil {
			ns = []domain.Notification{}
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: ns}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-notification",
		Method:      http.MethodPatch,
		Path:        "/admin/notifications/{notification_id}/read",
		Summary:     "Mark a notification as read",
	}, func(ctx context.Context, input *struct {
		NotificationID string `path:"notification_id"`
	}) (*struct {
		Body domain.Notification `json:"body"`
	}, error) {
		p, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := l.MarkNotificationRead(ctx, input.NotificationID, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Notification `json:"body"`
		}{Body: n}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-audit-events",
		Method:      http.MethodGet,
		Path:        "/admin/events",
		Summary:     "List audit events",
	}, func(ctx context.Context, input *struct {
		Type   string `query:"type" required:"false"`
		Entity string `query:"entity" required:"false"`
		Limit  int    `query:"limit" required:"false"`
		Before int64  `query:"before" required:"false"`
	}) (*struct {
		Body []domain.AuditEvent `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		evs, err := l.Repo.ListAuditEvents(ctx, repo.AuditFilters{
			Type:       input.Type,
			EntityKind: input.Entity,
			Limit:      input.Limit,
			Cursor:     input.Before,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if evs == nil {
			evs = []domain.AuditEvent{}
		}
		return &struct {
			Body []domain.AuditEvent `json:"body"`
		}{Body: evs}, nil
	})
}
