package errors

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// maxRequestIDLen bounds ids accepted from clients.
const maxRequestIDLen = 128

func generateRequestID() string {
	return uuid.NewString()
}

// AcceptRequestID returns the client supplied id when it is short and
// printable ASCII, otherwise a fresh one. The id ends up in logs and
// response headers.
func AcceptRequestID(incoming string) string {
	if incoming == "" || len(incoming) > maxRequestIDLen {
		return generateRequestID()
	}
	for i := 0; i < len(incoming); i++ {
		if c := incoming[i]; c < 0x21 || c > 0x7e {
			return generateRequestID()
		}
	}
	return incoming
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// GetRequestID returns the id stored by WithRequestID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
