package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/MrEthical07/authcore"
)

const maxBodyBytes = 64 << 10

type signupBody struct {
	Username string `json:"username" validate:"required,max=64"`
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=255"`
}

type loginBody struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=255"`
}

// []byte fields arrive base64 encoded.
type passkeyLoginBody struct {
	Identifier        string `json:"identifier" validate:"required,max=254"`
	ChallengeID       string `json:"challenge_id" validate:"required,uuid"`
	CredentialID      string `json:"credential_id" validate:"required,max=1024"`
	AuthenticatorData []byte `json:"authenticator_data" validate:"required"`
	ClientDataJSON    []byte `json:"client_data_json" validate:"required"`
	Signature         []byte `json:"signature" validate:"required"`
}

type passkeyRegisterBody struct {
	CredentialID string `json:"credential_id" validate:"required,max=1024"`
	PublicKey    []byte `json:"public_key" validate:"required"`
	Algorithm    int    `json:"algorithm" validate:"required"`
}

type codeBody struct {
	Code string `json:"code" validate:"required,max=32"`
}

type otpBody struct {
	Code string `json:"code" validate:"required,numeric,len=6"`
}

type resetRequestBody struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type resetBody struct {
	Password string `json:"password" validate:"required,max=255"`
}

type challengeResponse struct {
	ID        string    `json:"id"`
	Challenge []byte    `json:"challenge"`
	ExpiresAt time.Time `json:"expires_at"`
}

type twoFactorKeyResponse struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

type logoutAllResponse struct {
	Sessions int64 `json:"sessions"`
}

type sessionResponse struct {
	UserID        string    `json:"user_id"`
	Username      string    `json:"username"`
	Email         string    `json:"email,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	ExpiresAt     time.Time `json:"expires_at"`
	Next          string    `json:"next"`
}

func newSessionResponse(info authcore.SessionInfo) sessionResponse {
	out := sessionResponse{
		UserID:        info.User.ID,
		Username:      info.User.Username,
		EmailVerified: info.User.EmailVerified(),
		ExpiresAt:     info.Session.ExpiresAt,
		Next:          info.Next.String(),
	}
	if info.User.Email != nil {
		out.Email = info.User.Email.Address
	}
	return out
}

// decode reads a JSON body into dst and validates its shape. On failure it
// writes a 400 and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("undecodable body")
		writeError(w, http.StatusBadRequest, authcore.PublicMessage(authcore.ErrInvalidRequest))
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			h.logger.Debug().Str("path", r.URL.Path).Str("field", verrs[0].Field()).Str("tag", verrs[0].Tag()).Msg("invalid body")
		}
		writeError(w, http.StatusBadRequest, authcore.PublicMessage(authcore.ErrInvalidRequest))
		return false
	}
	return true
}
