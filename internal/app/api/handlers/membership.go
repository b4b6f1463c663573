package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/memberships/internal/app/service/membership"
	"github.com/fatflowers/memberships/internal/models"
	"github.com/fatflowers/memberships/pkg/response"
)

// MembershipService is the lifecycle surface exposed to members.
type MembershipService interface {
	Subscribe(ctx context.Context, req *membership.SubscribeRequest) (*models.UserMembership, error)
	ChangePlan(ctx context.Context, req *membership.ChangePlanRequest) (*models.UserMembership, error)
	Cancel(ctx context.Context, userID, planID string) (*models.UserMembership, error)
	ListMembershipsForUser(ctx context.Context, userID string) ([]*models.UserMembership, error)
}

type CancelRequest struct {
	UserID string `json:"user_id" binding:"required"`
	PlanID string `json:"plan_id" binding:"required"`
}

// @Summary      Subscribe
// @Description  Starts a membership on a plan. Without payment_intent_id the plan price plus tax is charged to the stored payment method.
// @Tags         Membership
// @Accept       json
// @Produce      json
// @Param        request body membership.SubscribeRequest true "Subscribe request"
// @Success      200  {object}  handlers.RespMembership
// @Router       /api/v1/membership/subscribe [post]
func ApiSubscribe(svc MembershipService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req membership.SubscribeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		m, err := svc.Subscribe(c.Request.Context(), &req)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(m))
	}
}

// @Summary      Change plan
// @Description  Upgrades (prorated charge), downgrades (deferred to the next cycle) or resubscribes a cancelled membership.
// @Tags         Membership
// @Accept       json
// @Produce      json
// @Param        request body membership.ChangePlanRequest true "Change plan request"
// @Success      200  {object}  handlers.RespMembership
// @Router       /api/v1/membership/change_plan [post]
func ApiChangePlan(svc MembershipService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req membership.ChangePlanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		m, err := svc.ChangePlan(c.Request.Context(), &req)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(m))
	}
}

// @Summary      Cancel
// @Description  Cancels the member's membership on a plan. Data is null when an already expired membership was removed or nothing was left to cancel.
// @Tags         Membership
// @Accept       json
// @Produce      json
// @Param        request body handlers.CancelRequest true "Cancel request"
// @Success      200  {object}  handlers.RespMembership
// @Router       /api/v1/membership/cancel [post]
func ApiCancel(svc MembershipService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CancelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		m, err := svc.Cancel(c.Request.Context(), req.UserID, req.PlanID)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(m))
	}
}

// @Summary      List memberships
// @Description  Lists every membership of a user, newest first.
// @Tags         Membership
// @Produce      json
// @Param        user_id  query  string  true  "User ID"
// @Success      200  {object}  handlers.RespMembershipList
// @Router       /api/v1/membership/list [get]
func ApiListMemberships(svc MembershipService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			badRequest(c, "missing user_id")
			return
		}
		items, err := svc.ListMembershipsForUser(c.Request.Context(), userID)
		if err != nil {
			writeError(c, log, err)
			return
		}
		if items == nil {
			items = []*models.UserMembership{}
		}
		c.JSON(http.StatusOK, response.OKT(items))
	}
}

func RegisterMembershipRoutes(r gin.IRouter, svc MembershipService, log *zap.SugaredLogger) {
	r.POST("/subscribe", ApiSubscribe(svc, log))
	r.POST("/change_plan", ApiChangePlan(svc, log))
	r.POST("/cancel", ApiCancel(svc, log))
	r.GET("/list", ApiListMemberships(svc, log))
}
