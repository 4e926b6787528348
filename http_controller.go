package authc

import (
	"net/url"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
)

// HTTPController exposes the authentication protocols as a JSON surface.
// Route wiring stays thin: every handler parses, delegates to the
// Authenticator, and renders either the success envelope or the stable
// {code, message} error envelope.
type HTTPController struct {
	auth         *Authenticator
	tenantHeader string
	logger       Logger
}

// NewHTTPController creates the controller. tenantHeader names the header
// carrying the tenant id (Config.TenantHeader).
func NewHTTPController(auth *Authenticator, tenantHeader string) *HTTPController {
	if tenantHeader == "" {
		tenantHeader = "X-Tenant-ID"
	}
	return &HTTPController{
		auth:         auth,
		tenantHeader: tenantHeader,
		logger:       defLogger{},
	}
}

func (h *HTTPController) WithLogger(logger Logger) *HTTPController {
	h.logger = normalizeLogger(logger)
	return h
}

// RegisterRoutes mounts the v1 surface on app.
func (h *HTTPController) RegisterRoutes(app *fiber.App) {
	v1 := app.Group("/api/v1")

	v1.Post("/setup", h.Setup)
	v1.Post("/register", h.Register)
	v1.Post("/login", h.Login)
	v1.Post("/accounts/token", h.Refresh)
	v1.Get("/providers/settings", h.ProviderSettings)
	v1.Get("/providers/:provider/callback", h.ProviderCallback)

	apps := v1.Group("/applications")
	apps.Post("/", h.CreateApplication)
	apps.Get("/:id", h.GetApplication)
	apps.Patch("/:id", h.UpdateApplication)
	apps.Patch("/:id/owner", h.SetApplicationOwner)
	apps.Get("/:id/activities", h.ListActivities)
}

type setupPayload struct {
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Settings Settings `json:"settings"`
}

func (p setupPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required),
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required),
	)
}

// Setup bootstraps the first tenant and its owner.
func (h *HTTPController) Setup(c *fiber.Ctx) error {
	var payload setupPayload
	if err := c.BodyParser(&payload); err != nil {
		return h.badRequest(c, "invalid request body")
	}
	if err := payload.Validate(); err != nil {
		return h.badRequest(c, err.Error())
	}

	res, err := h.auth.SetupTenant(c.Context(), SetupInput(payload))
	if err != nil {
		return h.renderError(c, err)
	}

	return c.JSON(fiber.Map{
		"application_id": res.TenantID,
		"user_id":        res.IdentityID,
	})
}

type registerPayload struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (p registerPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required),
	)
}

// Register handles email/password registration.
func (h *HTTPController) Register(c *fiber.Ctx) error {
	tenantID := h.tenantID(c)
	if tenantID == "" {
		return h.renderError(c, ErrUnauthorized)
	}

	var payload registerPayload
	if err := c.BodyParser(&payload); err != nil {
		return h.badRequest(c, "invalid request body")
	}
	if err := payload.Validate(); err != nil {
		return h.badRequest(c, err.Error())
	}

	res, err := h.auth.Register(c.Context(), tenantID, RegisterRequest(payload))
	if err != nil {
		return h.renderError(c, err)
	}

	return c.JSON(authEnvelope(res))
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (p loginPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required),
	)
}

// Login handles email/password login.
func (h *HTTPController) Login(c *fiber.Ctx) error {
	tenantID := h.tenantID(c)
	if tenantID == "" {
		return h.renderError(c, ErrUnauthorized)
	}

	var payload loginPayload
	if err := c.BodyParser(&payload); err != nil {
		return h.badRequest(c, "invalid request body")
	}
	if err := payload.Validate(); err != nil {
		return h.badRequest(c, err.Error())
	}

	res, err := h.auth.Login(c.Context(), tenantID, LoginRequest(payload))
	if err != nil {
		return h.renderError(c, err)
	}

	return c.JSON(authEnvelope(res))
}

type refreshPayload struct {
	RefreshToken string `json:"refresh_token"`
}

func (p refreshPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.RefreshToken, validation.Required),
	)
}

// Refresh exchanges a refresh token for a fresh access token.
func (h *HTTPController) Refresh(c *fiber.Ctx) error {
	tenantID := h.tenantID(c)
	if tenantID == "" {
		return h.renderError(c, ErrUnauthorized)
	}

	var payload refreshPayload
	if err := c.BodyParser(&payload); err != nil {
		return h.badRequest(c, "invalid request body")
	}
	if err := payload.Validate(); err != nil {
		return h.badRequest(c, err.Error())
	}

	pair, err := h.auth.Refresh(c.Context(), tenantID, payload.RefreshToken)
	if err != nil {
		return h.renderError(c, err)
	}

	return c.JSON(pair)
}

// ProviderSettings serves the sanitized tenant settings used by
// unauthenticated login widgets.
func (h *HTTPController) ProviderSettings(c *fiber.Ctx) error {
	tenantID := h.tenantID(c)
	if tenantID == "" {
		return h.renderError(c, ErrUnauthorized)
	}

	settings, err := h.auth.TenantSettings(c.Context(), tenantID)
	if err != nil {
		return h.renderError(c, err)
	}
	return c.JSON(settings)
}

// ProviderCallback finishes an OAuth flow. With a configured redirect URI
// the tokens travel as query parameters; otherwise they come back as JSON.
func (h *HTTPController) ProviderCallback(c *fiber.Ctx) error {
	tenantID := h.tenantID(c)
	if tenantID == "" {
		return h.renderError(c, ErrUnauthorized)
	}

	provider := c.Params("provider")
	code := c.Query("code")
	if code == "" {
		return h.renderError(c, ErrRedirectFailed)
	}

	res, redirectURI, err := h.auth.ProviderCallback(c.Context(), tenantID, provider, code)
	if err != nil {
		return h.renderError(c, err)
	}

	if redirectURI == "" {
		return c.JSON(authEnvelope(res))
	}

	target, err := url.Parse(redirectURI)
	if err != nil {
		return h.renderError(c, ErrRedirectFailed)
	}
	q := target.Query()
	q.Set("access_token", res.AccessToken)
	q.Set("refresh_token", res.RefreshToken)
	q.Set("expires_in", strconv.FormatInt(res.ExpiresIn, 10))
	target.RawQuery = q.Encode()

	return c.Redirect(target.String(), fiber.StatusFound)
}

// CreateApplication creates another tenant owned by the caller.
func (h *HTTPController) CreateApplication(c *fiber.Ctx) error {
	caller, err := h.caller(c)
	if err != nil {
		return h.renderError(c, err)
	}

	var cfg TenantConfig
	if err := c.BodyParser(&cfg); err != nil {
		return h.badRequest(c, "invalid request body")
	}
	if cfg.Name == "" {
		return h.badRequest(c, "name is required")
	}

	created, err := h.auth.CreateTenant(c.Context(), caller, cfg)
	if err != nil {
		return h.renderError(c, err)
	}
	return c.JSON(created)
}

// GetApplication returns a tenant configuration to one of its owners.
func (h *HTTPController) GetApplication(c *fiber.Ctx) error {
	caller, err := h.caller(c)
	if err != nil {
		return h.renderError(c, err)
	}

	cfg, err := h.auth.GetTenant(c.Context(), caller, c.Params("id"))
	if err != nil {
		return h.renderError(c, err)
	}
	return c.JSON(cfg)
}

// UpdateApplication applies a partial tenant update.
func (h *HTTPController) UpdateApplication(c *fiber.Ctx) error {
	caller, err := h.caller(c)
	if err != nil {
		return h.renderError(c, err)
	}

	var patch TenantPatch
	if err := c.BodyParser(&patch); err != nil {
		return h.badRequest(c, "invalid request body")
	}

	updated, err := h.auth.UpdateTenant(c.Context(), caller, c.Params("id"), patch)
	if err != nil {
		return h.renderError(c, err)
	}
	return c.JSON(updated)
}

// SetApplicationOwner upserts an owner entry.
func (h *HTTPController) SetApplicationOwner(c *fiber.Ctx) error {
	caller, err := h.caller(c)
	if err != nil {
		return h.renderError(c, err)
	}

	var owner Owner
	if err := c.BodyParser(&owner); err != nil {
		return h.badRequest(c, "invalid request body")
	}
	if owner.ID == "" || owner.Email == "" {
		return h.badRequest(c, "owner id and email are required")
	}

	if err := h.auth.SetTenantOwner(c.Context(), caller, c.Params("id"), owner); err != nil {
		return h.renderError(c, err)
	}
	return c.JSON(owner)
}

// ListActivities returns the tenant's recent activity events.
func (h *HTTPController) ListActivities(c *fiber.Ctx) error {
	caller, err := h.caller(c)
	if err != nil {
		return h.renderError(c, err)
	}

	limit := c.QueryInt("limit", 50)
	events, err := h.auth.TenantActivities(c.Context(), caller, c.Params("id"), limit)
	if err != nil {
		return h.renderError(c, err)
	}
	return c.JSON(fiber.Map{"events": events})
}

func (h *HTTPController) tenantID(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Get(h.tenantHeader))
}

// caller authenticates the bearer token against the tenant named in the
// header and resolves the caller's identity shard.
func (h *HTTPController) caller(c *fiber.Ctx) (*Caller, error) {
	tenantID := h.tenantID(c)
	if tenantID == "" {
		return nil, ErrUnauthorized
	}

	authz := c.Get(fiber.HeaderAuthorization)
	token := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	if token == "" || token == authz {
		return nil, ErrUnauthorized
	}

	return h.auth.CallerFromToken(c.Context(), tenantID, token)
}

func (h *HTTPController) badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"code":    "bad_request",
		"message": msg,
	})
}

// renderError maps the error taxonomy onto the stable wire envelope. No
// internal details or key names ever reach the client.
func (h *HTTPController) renderError(c *fiber.Ctx, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "unexpected server error").
			WithCode(errors.CodeInternal)
	}

	status := richErr.Code
	if status < 400 || status > 599 {
		status = fiber.StatusInternalServerError
	}

	code := richErr.TextCode
	if code == "" {
		code = "internal_error"
	}

	if status >= 500 {
		h.logger.Error("request failed: %v", err)
	}

	return c.Status(status).JSON(fiber.Map{
		"code":    code,
		"message": richErr.Message,
	})
}

func authEnvelope(res *AuthResult) fiber.Map {
	return fiber.Map{
		"access_token":  res.AccessToken,
		"refresh_token": res.RefreshToken,
		"expires_in":    res.ExpiresIn,
		"local_id":      res.Identity.ID,
		"name":          res.Identity.Name,
		"email":         res.Identity.Email,
	}
}
