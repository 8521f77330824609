package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/scriptpad-dev/scriptpad-go/session"
)

// HashBackend is the default save backend: it derives a content version
// from the saved files and acknowledges. Durable persistence sits
// behind the same interface in deployments that have one.
type HashBackend struct{}

func (HashBackend) Save(_ context.Context, req session.SaveRequest) (session.SaveResult, error) {
	h := sha256.New()
	io.WriteString(h, req.ID)
	for _, sc := range req.Scripts {
		io.WriteString(h, "\x00")
		io.WriteString(h, sc.Data.Filename)
		io.WriteString(h, "\x00")
		io.WriteString(h, sc.Data.Code)
	}
	return session.SaveResult{Version: hex.EncodeToString(h.Sum(nil))[:16]}, nil
}
