package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/memberships/internal/app/repository"
	"github.com/fatflowers/memberships/internal/app/service/access"
	"github.com/fatflowers/memberships/internal/app/service/billing"
	"github.com/fatflowers/memberships/internal/app/service/statistics"
	"github.com/fatflowers/memberships/internal/models"
	"github.com/fatflowers/memberships/pkg/response"
	"github.com/fatflowers/memberships/pkg/types"
)

type BillingRunner interface {
	RunBillingCycle(ctx context.Context) (*billing.RunResult, error)
}

type AccessSyncer interface {
	Sync(ctx context.Context, userID string) (*access.SyncResult, error)
}

type MembershipScanner interface {
	ScanMemberships(ctx context.Context, req *repository.ScanMembershipsRequest) (*repository.ScanMembershipsResult, error)
}

type StatisticsService interface {
	GetDailyMembershipStatistic(ctx context.Context, request *statistics.MembershipStatisticRequest) (*statistics.MembershipStatisticResponse, error)
}

type ListMembershipsRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ListMembershipsResponse struct {
	Items []*models.UserMembership `json:"items"`
	Total int64                    `json:"total"`
}

type SyncAccessRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// @Summary      Run billing cycle (Admin)
// @Description  Runs one billing pass now. Returns skipped=true when a pass is already in progress.
// @Tags         Admin
// @Produce      json
// @Success      200  {object}  handlers.RespRunResult
// @Router       /api/v1/admin/run_billing_cycle [post]
func ApiRunBillingCycle(runner BillingRunner, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// the pass outlives a dropped client connection
		ctx := context.WithoutCancel(c.Request.Context())
		res, err := runner.RunBillingCycle(ctx)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Sync access (Admin)
// @Description  Re-runs access card and door provider synchronization for a user. Provider failures are reported in the result, not as an error.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body handlers.SyncAccessRequest true "Sync access request"
// @Success      200  {object}  handlers.RespSyncResult
// @Router       /api/v1/admin/sync_access [post]
func ApiSyncAccess(syncer AccessSyncer, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SyncAccessRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := syncer.Sync(c.Request.Context(), req.UserID)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      List memberships (Admin)
// @Description  Retrieves a paginated and filterable list of all memberships.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body handlers.ListMembershipsRequest true "List memberships request with filters, pagination, and sorting"
// @Success      200  {object}  handlers.RespListMemberships
// @Router       /api/v1/admin/list_memberships [post]
func ApiAdminListMemberships(scanner MembershipScanner, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ListMembershipsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		scanReq := &repository.ScanMembershipsRequest{Filters: req.Filters, From: req.From, Size: req.Size, SortBy: req.SortBy, SortOrder: req.SortOrder}
		res, err := scanner.ScanMemberships(c.Request.Context(), scanReq)
		if err != nil {
			writeError(c, log, err)
			return
		}
		items := res.Items
		if items == nil {
			items = []*models.UserMembership{}
		}
		c.JSON(http.StatusOK, response.OKT(&ListMembershipsResponse{Items: items, Total: res.Total}))
	}
}

// @Summary      Get Membership Statistics (Admin)
// @Description  Retrieves charge and membership statistics.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body statistics.MembershipStatisticRequest true "Statistic request parameters"
// @Success      200  {object}  handlers.RespMembershipStatistic
// @Router       /api/v1/admin/get_membership_statistic [post]
func ApiGetMembershipStatistic(svc StatisticsService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.MembershipStatisticRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := svc.GetDailyMembershipStatistic(c.Request.Context(), &req)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterAdminRoutes(r gin.IRouter, runner BillingRunner, syncer AccessSyncer, scanner MembershipScanner, stats StatisticsService, log *zap.SugaredLogger) {
	r.POST("/run_billing_cycle", ApiRunBillingCycle(runner, log))
	r.POST("/sync_access", ApiSyncAccess(syncer, log))
	r.POST("/list_memberships", ApiAdminListMemberships(scanner, log))
	r.POST("/get_membership_statistic", ApiGetMembershipStatistic(stats, log))
}
