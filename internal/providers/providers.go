// Package providers contains one client per external data source, each
// translating provider-native payloads into the canonical metrics record.
package providers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/itracker-hq/metrics-bot/internal/models"
)

// Client is the uniform contract every platform integration satisfies.
// FetchMetrics returns a fully normalised canonical record; FetchComments
// returns up to limit comments in the shared shape.
type Client interface {
	Platform() models.Platform
	FetchMetrics(ctx context.Context, postID, postURL string) (*models.CanonicalMetrics, error)
	FetchComments(ctx context.Context, postURL string, limit int) ([]models.Comment, error)
}

// Registry routes posts to the client for their platform.
type Registry struct {
	clients map[models.Platform]Client
}

// NewRegistry builds a registry from the given clients.
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[models.Platform]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Platform()] = c
	}
	return r
}

// For returns the client registered for a platform.
func (r *Registry) For(platform models.Platform) (Client, error) {
	c, ok := r.clients[platform]
	if !ok {
		return nil, fmt.Errorf("unsupported platform: %s", platform)
	}
	return c, nil
}

// MappingError reports a payload the provider declared successful but which
// is missing a field the canonical schema requires.
type MappingError struct {
	Platform models.Platform
	Field    string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("%s payload missing required field %q", e.Platform, e.Field)
}

// IsMappingError extracts a *MappingError from an error chain, if present.
func IsMappingError(err error) (*MappingError, bool) {
	var mapErr *MappingError
	if errors.As(err, &mapErr) {
		return mapErr, true
	}
	return nil, false
}

// rawEnvelope mirrors the success/error wrapper the upstream consumer of
// raw_response expects around every provider payload.
type rawEnvelope struct {
	Data                       any    `json:"data"`
	Error                      string `json:"error"`
	Success                    bool   `json:"success"`
	QuotaUsed                  int    `json:"quotaUsed"`
	Timestamp                  int64  `json:"timestamp"`
	QuotaUsedTotal             int    `json:"quotaUsedTotal"`
	RemainingPlanCredit        int    `json:"remainingPlanCredit"`
	RemainingPrepurchasedCredit int   `json:"remainingPrepurchasedCredit"`
}

func newRawEnvelope(data any) rawEnvelope {
	return rawEnvelope{
		Data:                data,
		Success:             true,
		QuotaUsed:           1,
		Timestamp:           time.Now().UnixMilli(),
		QuotaUsedTotal:      1,
		RemainingPlanCredit: 9999,
	}
}

// round4 rounds an engagement ratio to 4 decimal places.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
