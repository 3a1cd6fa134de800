package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, authcore.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, authcore.ErrInvalidCredential),
		errors.Is(err, authcore.ErrUnauthenticated),
		errors.Is(err, authcore.ErrStepRequired):
		return http.StatusUnauthorized
	case errors.Is(err, authcore.ErrInvalidRequest),
		errors.Is(err, authcore.ErrWeakCredential),
		errors.Is(err, authcore.ErrAccountExists),
		errors.Is(err, authcore.ErrNotFound),
		errors.Is(err, authcore.ErrExpired):
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

// fail writes the response for err. A pending verification step is a
// redirect, not an error.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var step *authcore.StepRequiredError
	if errors.As(err, &step) {
		http.Redirect(w, r, h.stepPath(step.Step), http.StatusFound)
		return
	}

	status := statusFor(err)
	switch status {
	case http.StatusServiceUnavailable:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	case http.StatusUnauthorized:
		if errors.Is(err, authcore.ErrUnauthenticated) {
			h.clearCookie(w)
		}
	case http.StatusTooManyRequests:
		var rl *authcore.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
		}
	}

	writeError(w, status, authcore.PublicMessage(err))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) setCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
