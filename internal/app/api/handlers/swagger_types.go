package handlers

import (
	"github.com/fatflowers/memberships/internal/app/service/access"
	"github.com/fatflowers/memberships/internal/app/service/billing"
	"github.com/fatflowers/memberships/internal/app/service/statistics"
	"github.com/fatflowers/memberships/internal/models"
	"github.com/fatflowers/memberships/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

// RespMembership wraps a single membership in the standard envelope.
type RespMembership struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    *models.UserMembership   `json:"data"`
}

type RespMembershipList struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    []*models.UserMembership `json:"data"`
}

type RespListMemberships struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ListMembershipsResponse  `json:"data"`
}

type RespRunResult struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    billing.RunResult        `json:"data"`
}

type RespSyncResult struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    access.SyncResult        `json:"data"`
}

// RespMembershipStatistic wraps MembershipStatisticResponse in the standard envelope.
type RespMembershipStatistic struct {
	Code    response.APIResponseCode               `json:"code"`
	Message string                                 `json:"message"`
	Data    statistics.MembershipStatisticResponse `json:"data"`
}
