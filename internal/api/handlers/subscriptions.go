package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/MacJediWizard/activator/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SubscriptionStore lists the licenses a requester has redeemed.
type SubscriptionStore interface {
	ListByRequester(ctx context.Context, requesterID int64) ([]models.LicenseRecord, error)
}

// SubscriptionsResponse is the requester dashboard.
type SubscriptionsResponse struct {
	RequesterID   int64                 `json:"requester_id"`
	Subscriptions []models.Subscription `json:"subscriptions"`
	RenewContact  string                `json:"renew_contact,omitempty"`
}

// SubscriptionsHandler serves the requester dashboard.
type SubscriptionsHandler struct {
	store        SubscriptionStore
	renewContact string
	logger       zerolog.Logger
	nowFn        func() time.Time
}

// NewSubscriptionsHandler creates a new SubscriptionsHandler.
func NewSubscriptionsHandler(store SubscriptionStore, renewContact string, logger zerolog.Logger) *SubscriptionsHandler {
	return &SubscriptionsHandler{
		store:        store,
		renewContact: renewContact,
		logger:       logger.With().Str("component", "subscriptions_handler").Logger(),
		nowFn:        time.Now,
	}
}

// RegisterRoutes registers dashboard routes on the given router group.
func (h *SubscriptionsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/requesters/:id/subscriptions", h.List)
}

// List returns the requester's redeemed licenses, soonest expiry first.
// GET /api/v1/requesters/:id/subscriptions
func (h *SubscriptionsHandler) List(c *gin.Context) {
	requesterID, ok := requesterParam(c)
	if !ok {
		return
	}

	records, err := h.store.ListByRequester(c.Request.Context(), requesterID)
	if err != nil {
		h.logger.Error().Err(err).Int64("requester_id", requesterID).Msg("failed to list subscriptions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list subscriptions"})
		return
	}

	now := h.nowFn()
	subs := make([]models.Subscription, 0, len(records))
	for _, rec := range records {
		if sub, ok := models.NewSubscription(rec, now); ok {
			subs = append(subs, sub)
		}
	}
	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].ExpiresAt.Before(subs[j].ExpiresAt)
	})

	c.JSON(http.StatusOK, SubscriptionsResponse{
		RequesterID:   requesterID,
		Subscriptions: subs,
		RenewContact:  h.renewContact,
	})
}
