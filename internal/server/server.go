package server

import (
	"bytes"
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

	"gateline/internal/domain"
	"gateline/internal/engine"
	"gateline/internal/repo"
	"gateline/internal/stage"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"precondition_failed"`
	Message string         `json:"message" example:"restart requires a rejected process"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Gateline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
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
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyData, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyData))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyData)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Gateline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerClients(group, cfg.Engine)
	registerAssessments(group, cfg.Engine)
	registerRegisters(group, cfg.Engine)
	registerSignoff(group, cfg.Engine)
	registerSnapshots(group, cfg.Engine)
	registerChangeRequests(group, cfg.Engine)
	registerPhases(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

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
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, engine.ErrPrecondition):
		return newAPIError(http.StatusUnprocessableEntity, "precondition_failed", err.Error(), nil)
	case errors.Is(err, engine.ErrIntegrity):
		return newAPIError(http.StatusInternalServerError, "integrity_violation", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "precondition_failed"
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
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
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
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
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
    <title>Gateline API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerClients(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-client",
		Method:        http.MethodPost,
		Path:          "/clients",
		Summary:       "Create client",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateClientRequest `json:"body"`
	}) (*struct {
		Body domain.Client `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateClient(ctx, input.Body.ID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Client `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-clients",
		Method:      http.MethodGet,
		Path:        "/clients",
		Summary:     "List clients",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Client `json:"body"`
	}, error) {
		items, err := e.Repo.ListClients(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Client `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerAssessments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-assessment",
		Method:        http.MethodPost,
		Path:          "/assessments",
		Summary:       "Create assessment with its sign-off process",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateAssessmentRequest `json:"body"`
	}) (*struct {
		Body domain.Assessment `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateAssessment(ctx, engine.AssessmentCreateOptions{
			ID:          strVal(input.Body.ID),
			ClientID:    input.Body.ClientID,
			Name:        input.Body.Name,
			Phase:       input.Body.Phase,
			Description: strVal(input.Body.Description),
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Assessment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assessments",
		Method:      http.MethodGet,
		Path:        "/assessments",
		Summary:     "List assessments",
	}, func(ctx context.Context, input *struct {
		ClientID string `query:"client_id"`
	}) (*struct {
		Body []domain.Assessment `json:"body"`
	}, error) {
		items, err := e.Repo.ListAssessments(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Assessment `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-assessment",
		Method:      http.MethodGet,
		Path:        "/assessments/{assessment_id}",
		Summary:     "Get assessment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AssessmentID string `path:"assessment_id"`
	}) (*struct {
		Body domain.Assessment `json:"body"`
	}, error) {
		a, err := e.Repo.GetAssessment(ctx, input.AssessmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Assessment `json:"body"`
		}{Body: a}, nil
	})
}

func registerRegisters(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-scope-selection",
		Method:      http.MethodPut,
		Path:        "/assessments/{assessment_id}/scope",
		Summary:     "Upsert scope selection",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		AssessmentID string                `path:"assessment_id"`
		Body         ScopeSelectionRequest `json:"body"`
	}) (*struct {
		Body domain.ScopeSelection `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpsertScopeSelection(ctx, domain.ScopeSelection{
			AssessmentID: input.AssessmentID,
			ItemID:       input.Body.ItemID,
			Selected:     input.Body.Selected,
			Relevance:    input.Body.Relevance,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ScopeSelection `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-scope-selections",
		Method:      http.MethodGet,
		Path:        "/assessments/{assessment_id}/scope",
		Summary:     "List scope selections",
	}, func(ctx context.Context, input *struct {
		AssessmentID string `path:"assessment_id"`
	}) (*struct {
		Body []domain.ScopeSelection `json:"body"`
	}, error) {
		items, err := e.Repo.ScopeSelections(ctx, input.AssessmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ScopeSelection `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-step-response",
		Method:      http.MethodPut,
		Path:        "/assessments/{assessment_id}/steps",
		Summary:     "Upsert step response",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		AssessmentID string              `path:"assessment_id"`
		Body         StepResponseRequest `json:"body"`
	}) (*struct {
		Body domain.StepResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpsertStepResponse(ctx, domain.StepResponse{
			AssessmentID: input.AssessmentID,
			StepID:       input.Body.StepID,
			FitStatus:    input.Body.FitStatus,
			Notes:        input.Body.Notes,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StepResponse `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-step-responses",
		Method:      http.MethodGet,
		Path:        "/assessments/{assessment_id}/steps",
		Summary:     "List step responses",
	}, func(ctx context.Context, input *struct {
		AssessmentID string `path:"assessment_id"`
	}) (*struct {
		Body []domain.StepResponse `json:"body"`
	}, error) {
		items, err := e.Repo.StepResponses(ctx, input.AssessmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.StepResponse `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-gap-resolution",
		Method:      http.MethodPut,
		Path:        "/assessments/{assessment_id}/gaps",
		Summary:     "Upsert gap resolution",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		AssessmentID string               `path:"assessment_id"`
		Body         GapResolutionRequest `json:"body"`
	}) (*struct {
		Body domain.GapResolution `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.UpsertGapResolution(ctx, domain.GapResolution{
			AssessmentID: input.AssessmentID,
			GapID:        input.Body.GapID,
			Resolution:   input.Body.Resolution,
			Approved:     input.Body.Approved,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.GapResolution `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-gap-resolutions",
		Method:      http.MethodGet,
		Path:        "/assessments/{assessment_id}/gaps",
		Summary:     "List gap resolutions",
	}, func(ctx context.Context, input *struct {
		AssessmentID string `path:"assessment_id"`
	}) (*struct {
		Body []domain.GapResolution `json:"body"`
	}, error) {
		items, err := e.Repo.GapResolutions(ctx, input.AssessmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.GapResolution `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-integration-point",
		Method:      http.MethodPut,
		Path:        "/assessments/{assessment_id}/integrations",
		Summary:     "Upsert integration point",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		AssessmentID string                  `path:"assessment_id"`
		Body         IntegrationPointRequest `json:"body"`
	}) (*struct {
		Body domain.IntegrationPoint `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpsertIntegrationPoint(ctx, domain.IntegrationPoint{
			ID:           strVal(input.Body.ID),
			AssessmentID: input.AssessmentID,
			Name:         input.Body.Name,
			System:       input.Body.System,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.IntegrationPoint `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-integration-points",
		Method:      http.MethodGet,
		Path:        "/assessments/{assessment_id}/integrations",
		Summary:     "List integration points",
	}, func(ctx context.Context, input *struct {
		AssessmentID string `path:"assessment_id"`
	}) (*struct {
		Body []domain.IntegrationPoint `json:"body"`
	}, error) {
		items, err := e.Repo.IntegrationPoints(ctx, input.AssessmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.IntegrationPoint `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-migration-object",
		Method:      http.MethodPut,
		Path:        "/assessments/{assessment_id}/migrations",
		Summary:     "Upsert data migration object",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		AssessmentID string                 `path:"assessment_id"`
		Body         MigrationObjectRequest `json:"body"`
	}) (*struct {
		Body domain.MigrationObject `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.UpsertMigrationObject(ctx, domain.MigrationObject{
			ID:           strVal(input.Body.ID),
			AssessmentID: input.AssessmentID,
			ObjectName:   input.Body.ObjectName,
			SourceSystem: input.Body.SourceSystem,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MigrationObject `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-migration-objects",
		Method:      http.MethodGet,
		Path:        "/assessments/{assessment_id}/migrations",
		Summary:     "List data migration objects",
	}, func(ctx context.Context, input *struct {
		AssessmentID string `path:"assessment_id"`
	}) (*struct {
		Body []domain.MigrationObject `json:"body"`
	}, error) {
		items, err := e.Repo.MigrationObjects(ctx, input.AssessmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.MigrationObject `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-ocm-impact",
		Method:      http.MethodPut,
		Path:        "/assessments/{assessment_id}/ocm-impacts",
		Summary:     "Upsert OCM impact",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		AssessmentID string           `path:"assessment_id"`
		Body         OCMImpactRequest `json:"body"`
	}) (*struct {
		Body domain.OCMImpact `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.UpsertOCMImpact(ctx, domain.OCMImpact{
			ID:           strVal(input.Body.ID),
			AssessmentID: input.AssessmentID,
			Area:         input.Body.Area,
			Severity:     input.Body.Severity,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.OCMImpact `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-ocm-impacts",
		Method:      http.MethodGet,
		Path:        "/assessments/{assessment_id}/ocm-impacts",
		Summary:     "List OCM impacts",
	}, func(ctx context.Context, input *struct {
		AssessmentID string `path:"assessment_id"`
	}) (*struct {
		Body []domain.OCMImpact `json:"body"`
	}, error) {
		items, err := e.Repo.OCMImpacts(ctx, input.AssessmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.OCMImpact `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerSignoff(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-validation",
		Method:      http.MethodPost,
		Path:        "/assessments/{assessment_id}/signoff/validations",
		Summary:     "Submit a validation decision",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		AssessmentID string                  `path:"assessment_id"`
		Body         SubmitValidationRequest `json:"body"`
	}) (*struct {
		Body SubmitValidationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		validatorID := input.Body.ValidatorID
		if validatorID == "" {
			validatorID = actorID
		}
		res, err := e.SubmitValidation(ctx, input.AssessmentID, stage.Role(input.Body.Role), validatorID, input.Body.Decision, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmitValidationResponse `json:"body"`
		}{Body: submitResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-signoff",
		Method:      http.MethodGet,
		Path:        "/assessments/{assessment_id}/signoff",
		Summary:     "Sign-off process with validation records",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AssessmentID string `path:"assessment_id"`
	}) (*struct {
		Body engine.SignoffView `json:"body"`
	}, error) {
		view, err := e.GetSignoff(ctx, input.AssessmentID)
		if err != nil {
			return nil, handleError(err)
		}
		view.Records = nonNilSlice(view.Records)
		view.Pending = nonNilSlice(view.Pending)
		return &struct {
			Body engine.SignoffView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restart-signoff",
		Method:      http.MethodPost,
		Path:        "/assessments/{assessment_id}/signoff/restart",
		Summary:     "Restart a rejected sign-off",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		AssessmentID string `path:"assessment_id"`
	}) (*struct {
		Body domain.SignoffProcess `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.RestartSignoff(ctx, input.AssessmentID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SignoffProcess `json:"body"`
		}{Body: p}, nil
	})
}

func registerSnapshots(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-snapshot",
		Method:        http.MethodPost,
		Path:          "/assessments/{assessment_id}/snapshots",
		Summary:       "Capture a fingerprinted snapshot",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		AssessmentID string                `path:"assessment_id"`
		Body         CreateSnapshotRequest `json:"body"`
	}) (*struct {
		Body SnapshotResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateSnapshot(ctx, input.AssessmentID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SnapshotResponse `json:"body"`
		}{Body: snapshotResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-snapshots",
		Method:      http.MethodGet,
		Path:        "/assessments/{assessment_id}/snapshots",
		Summary:     "List snapshots",
	}, func(ctx context.Context, input *struct {
		AssessmentID string `path:"assessment_id"`
	}) (*struct {
		Body []SnapshotResponse `json:"body"`
	}, error) {
		items, err := e.ListSnapshots(ctx, input.AssessmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SnapshotResponse `json:"body"`
		}{Body: mapSnapshots(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-snapshot",
		Method:      http.MethodGet,
		Path:        "/assessments/{assessment_id}/snapshots/{version}",
		Summary:     "Get one snapshot with payload",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AssessmentID string `path:"assessment_id"`
		Version      int    `path:"version"`
	}) (*struct {
		Body domain.Snapshot `json:"body"`
	}, error) {
		s, err := e.GetSnapshot(ctx, input.AssessmentID, input.Version)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Snapshot `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-snapshot",
		Method:      http.MethodGet,
		Path:        "/assessments/{assessment_id}/snapshots/{version}/verify",
		Summary:     "Recompute and check the stored fingerprint",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		AssessmentID string `path:"assessment_id"`
		Version      int    `path:"version"`
	}) (*struct {
		Body VerifySnapshotResponse `json:"body"`
	}, error) {
		s, err := e.VerifySnapshot(ctx, input.AssessmentID, input.Version)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VerifySnapshotResponse `json:"body"`
		}{Body: VerifySnapshotResponse{
			AssessmentID: s.AssessmentID,
			Version:      s.Version,
			Fingerprint:  s.Fingerprint,
			Valid:        true,
		}}, nil
	})
}

func registerChangeRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-change-request",
		Method:        http.MethodPost,
		Path:          "/assessments/{assessment_id}/change-requests",
		Summary:       "Open a change request with frozen impact",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		AssessmentID string                     `path:"assessment_id"`
		Body         CreateChangeRequestRequest `json:"body"`
	}) (*struct {
		Body domain.ChangeRequest `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cr, err := e.CreateChangeRequest(ctx, engine.ChangeRequestOptions{
			AssessmentID:    input.AssessmentID,
			BaselineVersion: input.Body.BaselineVersion,
			Title:           input.Body.Title,
			Reason:          input.Body.Reason,
			Unlocked:        input.Body.Unlocked,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChangeRequest `json:"body"`
		}{Body: cr}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-change-requests",
		Method:      http.MethodGet,
		Path:        "/assessments/{assessment_id}/change-requests",
		Summary:     "List change requests",
	}, func(ctx context.Context, input *struct {
		AssessmentID string `path:"assessment_id"`
	}) (*struct {
		Body []domain.ChangeRequest `json:"body"`
	}, error) {
		items, err := e.ListChangeRequests(ctx, input.AssessmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ChangeRequest `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-change-request",
		Method:      http.MethodPost,
		Path:        "/change-requests/{change_request_id}/close",
		Summary:     "Close a change request and relock its entities",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ChangeRequestID string `path:"change_request_id"`
	}) (*struct {
		Body domain.ChangeRequest `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cr, err := e.CloseChangeRequest(ctx, input.ChangeRequestID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChangeRequest `json:"body"`
		}{Body: cr}, nil
	})
}

func registerPhases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "link-phases",
		Method:        http.MethodPost,
		Path:          "/phase-links",
		Summary:       "Link two assessment phases and compute deltas",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body LinkPhasesRequest `json:"body"`
	}) (*struct {
		Body domain.PhaseLink `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.LinkPhases(ctx, input.Body.Phase1AssessmentID, input.Body.Phase2AssessmentID, input.Body.ClientID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PhaseLink `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cross-phase-summary",
		Method:      http.MethodGet,
		Path:        "/assessments/{assessment_id}/cross-phase",
		Summary:     "Cross-phase links, summaries, and insights",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AssessmentID string `path:"assessment_id"`
	}) (*struct {
		Body engine.CrossPhaseView `json:"body"`
	}, error) {
		view, err := e.CrossPhaseSummary(ctx, input.AssessmentID)
		if err != nil {
			return nil, handleError(err)
		}
		view.Links = nonNilSlice(view.Links)
		view.Summaries = nonNilSlice(view.Summaries)
		return &struct {
			Body engine.CrossPhaseView `json:"body"`
		}{Body: view}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/assessments/{assessment_id}/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		AssessmentID string `path:"assessment_id"`
		Type         string `query:"type"`
		EntityKind   string `query:"entity_kind"`
		EntityID     string `query:"entity_id"`
		Limit        int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.AssessmentID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, ok := principalFromContext(ctx)
		if !ok || principal.ActorID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{ActorID: principal.ActorID, Source: principal.Source}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}
