// Package net provides utilities for working with request contexts
package net

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// ctxKey is an unexported key type for context values
type ctxKey string

const (
	keyProjectID ctxKey = "project_id"
	keyAuthKey   ctxKey = "auth_key"
)

// WithRequest annotates context with common request scoped ids
func WithRequest(ctx context.Context, reqID, projectID string) context.Context {
	if reqID != "" {
		// set chi RequestID so chimw.GetReqID can retrieve it
		ctx = context.WithValue(ctx, chimw.RequestIDKey, reqID)
	}
	if projectID != "" {
		ctx = context.WithValue(ctx, keyProjectID, projectID)
	}
	return ctx
}

// WithAuthKey annotates context with the client's sentry public key
func WithAuthKey(ctx context.Context, key string) context.Context {
	if key != "" {
		ctx = context.WithValue(ctx, keyAuthKey, key)
	}
	return ctx
}

// RequestID returns the request id on the context if present
func RequestID(ctx context.Context) string {
	if v := chimw.GetReqID(ctx); v != "" {
		return v
	}
	return ""
}

// ProjectID returns the project id on the context if present
func ProjectID(ctx context.Context) string {
	if v, ok := ctx.Value(keyProjectID).(string); ok {
		return v
	}
	return ""
}

// AuthKey returns the sentry public key on the context if present
func AuthKey(ctx context.Context) string {
	if v, ok := ctx.Value(keyAuthKey).(string); ok {
		return v
	}
	return ""
}
