package httpapi

import (
	"context"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/passkey"
	"github.com/MrEthical07/authcore/session"
)

// Engine is the part of *authcore.Engine the handlers call.
type Engine interface {
	Signup(ctx context.Context, req authcore.SignupRequest) (authcore.LoginResult, error)
	Login(ctx context.Context, req authcore.LoginRequest) (authcore.LoginResult, error)
	BeginPasskeyLogin(ctx context.Context) (passkey.Challenge, error)
	LoginWithPasskey(ctx context.Context, req authcore.PasskeyLoginRequest) (authcore.LoginResult, error)
	RegisterPasskey(ctx context.Context, token string, reg authcore.PasskeyRegistration) error
	VerifyEmail(ctx context.Context, token, code string) (authcore.LoginResult, error)
	ResendVerificationEmail(ctx context.Context, token string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ValidatePasswordResetToken(ctx context.Context, token string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	VerifyTwoFactor(ctx context.Context, token, code string) (session.Step, error)
	NewTwoFactorKey(ctx context.Context, token string) (authcore.TwoFactorKey, error)
	EnrollTwoFactor(ctx context.Context, token, code string) error
	ValidateSession(ctx context.Context, token string) (authcore.SessionInfo, error)
	Logout(ctx context.Context, token string) error
	LogoutAll(ctx context.Context, token string) (int64, error)
}

// Config controls cookies and redirect targets.
type Config struct {
	CookieName string
	// CookieSecure should be false only for plain-HTTP local development.
	CookieSecure bool
	// HomePath is where fully trusted sessions and logouts are sent.
	HomePath string
	// LoginPath is where a completed password reset is sent.
	LoginPath string
	// TrustedProxies may set X-Forwarded-For and X-Real-IP. Empty means the
	// connection peer is always the client.
	TrustedProxies []netip.Prefix
}

func DefaultConfig() Config {
	return Config{
		CookieName:   "session",
		CookieSecure: true,
		HomePath:     "/",
		LoginPath:    "/auth/login",
	}
}

// Handler serves the auth routes.
type Handler struct {
	engine   Engine
	cfg      Config
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewHandler(engine Engine, cfg Config, logger zerolog.Logger) *Handler {
	def := DefaultConfig()
	if cfg.CookieName == "" {
		cfg.CookieName = def.CookieName
	}
	if cfg.HomePath == "" {
		cfg.HomePath = def.HomePath
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = def.LoginPath
	}

	return &Handler{
		engine:   engine,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With().Str("component", "httpapi").Logger(),
	}
}

// Router mounts every route under /auth with request logging, panic
// recovery and client context.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(ClientContext(h.cfg.TrustedProxies))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", h.signup)
		r.Post("/login", h.login)
		r.Post("/login/passkey/challenge", h.passkeyChallenge)
		r.Post("/login/passkey", h.passkeyLogin)

		r.Route("/password-reset", func(r chi.Router) {
			r.Use(middleware.SetHeader("Referrer-Policy", "strict-origin"))
			r.Post("/", h.requestPasswordReset)
			r.Get("/{token}", h.validatePasswordReset)
			r.Post("/{token}", h.resetPassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.RequireSession)
			r.Post("/email-verification", h.verifyEmail)
			r.Post("/email-verification/resend", h.resendVerification)
			r.Post("/2fa/otp", h.verifyTwoFactor)
			r.Get("/2fa/setup", h.twoFactorKey)
			r.Post("/2fa/setup", h.enrollTwoFactor)
			r.Post("/passkeys", h.registerPasskey)
			r.Get("/session", h.session)
			r.Post("/logout", h.logout)
			r.Post("/logout/all", h.logoutAll)
		})
	})

	return r
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var body signupBody
	if !h.decode(w, r, &body) {
		return
	}

	res, err := h.engine.Signup(r.Context(), authcore.SignupRequest{
		Username: body.Username,
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.startSession(w, r, res)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if !h.decode(w, r, &body) {
		return
	}

	res, err := h.engine.Login(r.Context(), authcore.LoginRequest{
		Identifier: body.Identifier,
		Password:   body.Password,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.startSession(w, r, res)
}

func (h *Handler) passkeyChallenge(w http.ResponseWriter, r *http.Request) {
	ch, err := h.engine.BeginPasskeyLogin(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, challengeResponse{
		ID:        ch.ID,
		Challenge: ch.Value,
		ExpiresAt: ch.ExpiresAt,
	})
}

func (h *Handler) passkeyLogin(w http.ResponseWriter, r *http.Request) {
	var body passkeyLoginBody
	if !h.decode(w, r, &body) {
		return
	}

	res, err := h.engine.LoginWithPasskey(r.Context(), authcore.PasskeyLoginRequest{
		Identifier:  body.Identifier,
		ChallengeID: body.ChallengeID,
		Assertion: passkey.Assertion{
			CredentialID:      body.CredentialID,
			AuthenticatorData: body.AuthenticatorData,
			ClientDataJSON:    body.ClientDataJSON,
			Signature:         body.Signature,
		},
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.startSession(w, r, res)
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var body codeBody
	if !h.decode(w, r, &body) {
		return
	}

	res, err := h.engine.VerifyEmail(r.Context(), tokenFromContext(r.Context()), body.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.startSession(w, r, res)
}

func (h *Handler) resendVerification(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ResendVerificationEmail(r.Context(), tokenFromContext(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body resetRequestBody
	if !h.decode(w, r, &body) {
		return
	}

	if err := h.engine.RequestPasswordReset(r.Context(), body.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	// Same answer whether or not the address has an account.
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) validatePasswordReset(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ValidatePasswordResetToken(r.Context(), chi.URLParam(r, "token")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetBody
	if !h.decode(w, r, &body) {
		return
	}

	if err := h.engine.ResetPassword(r.Context(), chi.URLParam(r, "token"), body.Password); err != nil {
		h.fail(w, r, err)
		return
	}
	h.clearCookie(w)
	http.Redirect(w, r, h.cfg.LoginPath, http.StatusFound)
}

func (h *Handler) verifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var body otpBody
	if !h.decode(w, r, &body) {
		return
	}

	next, err := h.engine.VerifyTwoFactor(r.Context(), tokenFromContext(r.Context()), body.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, h.stepPath(next), http.StatusFound)
}

func (h *Handler) twoFactorKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.engine.NewTwoFactorKey(r.Context(), tokenFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, twoFactorKeyResponse{Secret: key.Secret, URL: key.URL})
}

func (h *Handler) enrollTwoFactor(w http.ResponseWriter, r *http.Request) {
	var body otpBody
	if !h.decode(w, r, &body) {
		return
	}

	if err := h.engine.EnrollTwoFactor(r.Context(), tokenFromContext(r.Context()), body.Code); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) registerPasskey(w http.ResponseWriter, r *http.Request) {
	var body passkeyRegisterBody
	if !h.decode(w, r, &body) {
		return
	}

	err := h.engine.RegisterPasskey(r.Context(), tokenFromContext(r.Context()), authcore.PasskeyRegistration{
		CredentialID: body.CredentialID,
		PublicKey:    body.PublicKey,
		Algorithm:    body.Algorithm,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	info, err := h.engine.ValidateSession(r.Context(), tokenFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if info.Renewed {
		h.setCookie(w, tokenFromContext(r.Context()), info.Session.ExpiresAt)
	}

	writeJSON(w, http.StatusOK, newSessionResponse(info))
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Logout(r.Context(), tokenFromContext(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	h.clearCookie(w)
	http.Redirect(w, r, h.cfg.HomePath, http.StatusFound)
}

func (h *Handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.LogoutAll(r.Context(), tokenFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.clearCookie(w)
	writeJSON(w, http.StatusOK, logoutAllResponse{Sessions: n})
}

// startSession sets the cookie for a freshly issued session and sends the
// client to whatever the session must do next.
func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, res authcore.LoginResult) {
	h.setCookie(w, res.Token, res.Session.ExpiresAt)
	http.Redirect(w, r, h.stepPath(res.Next), http.StatusFound)
}

func (h *Handler) stepPath(step session.Step) string {
	switch step {
	case session.StepEmailVerification:
		return "/auth/email-verification"
	case session.StepTwoFactor:
		return "/auth/2fa/otp"
	case session.StepPasskey:
		return "/auth/login/passkey"
	default:
		return h.cfg.HomePath
	}
}
