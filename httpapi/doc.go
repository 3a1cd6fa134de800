// Package httpapi exposes an authcore Engine over HTTP.
//
// Requests carry JSON bodies whose shape is checked with
// go-playground/validator before any engine call. The session token travels
// only in an HTTP-only cookie. Flows that end on a page transition answer
// with 302 and a Location naming the next step; failures answer with a
// JSON body {"error": "..."} built from authcore.PublicMessage.
//
// Status mapping:
//
//	400  invalid request, weak password, taken account, bad code or link
//	401  wrong credential, missing or expired session
//	429  rate limited, with Retry-After when the wait is known
//	503  any backend failure
package httpapi
