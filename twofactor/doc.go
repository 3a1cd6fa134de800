// Package twofactor wraps pquerna/otp for TOTP enrollment and
// verification, and keeps spent time steps in Redis so a code works once.
package twofactor
