package statistics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/fx"

	"github.com/fatflowers/memberships/internal/app/repository"
	"github.com/fatflowers/memberships/pkg/types"
)

type StatisticType string

const (
	// Charges, from the charge audit rows
	StatisticTypeDailyChargeCount StatisticType = "daily_charge_count"
	StatisticTypeDailyRevenue     StatisticType = "daily_revenue"

	// Memberships
	StatisticTypeTotalActiveMembershipCount StatisticType = "total_active_membership_count"
	StatisticTypeDailyMembershipCount       StatisticType = "daily_membership_count"
)

// Filter types supported by certain statistic types
type MembershipStatisticFilterType string

const (
	MembershipStatisticFilterTypeDate MembershipStatisticFilterType = "date"
)

var filterTypes = []MembershipStatisticFilterType{
	MembershipStatisticFilterTypeDate,
}

var validFilters = map[MembershipStatisticFilterType][]StatisticType{
	MembershipStatisticFilterTypeDate: {StatisticTypeDailyChargeCount, StatisticTypeDailyRevenue, StatisticTypeDailyMembershipCount},
}

// defaultRange is used when a daily statistic has no date filter.
const defaultRange = 30 * 24 * time.Hour

var ErrInvalidRequest = errors.New("invalid statistic request")

type MembershipStatisticDataItem struct {
	ID StatisticType `json:"id"`
}

type MembershipStatisticRequest struct {
	Filters   []*types.CommonFilter          `json:"filters"`
	DataItems []*MembershipStatisticDataItem `json:"data_items"`
}

// GetFilters drops the filters that do not apply to statisticType.
func (f *MembershipStatisticRequest) GetFilters(statisticType StatisticType) *MembershipStatisticRequest {
	if f == nil || len(f.Filters) == 0 {
		return f
	}
	var result MembershipStatisticRequest
	for _, filter := range f.Filters {
		if statisticTypes, ok := validFilters[MembershipStatisticFilterType(filter.Field)]; ok {
			if lo.Contains(statisticTypes, statisticType) {
				result.Filters = append(result.Filters, filter)
			}
		} else {
			result.Filters = append(result.Filters, filter)
		}
	}
	return &result
}

// dateRange resolves the inclusive [from, to] day range of the request. Only the
// date_range operator is understood on the date field.
func (f *MembershipStatisticRequest) dateRange(now time.Time) (time.Time, time.Time, error) {
	to := now.UTC().Truncate(24 * time.Hour)
	from := to.Add(-defaultRange)
	if f == nil {
		return from, to, nil
	}
	for _, filter := range f.Filters {
		if filter.Field != string(MembershipStatisticFilterTypeDate) {
			continue
		}
		if filter.Operator != types.CommonFilterOperatorDateRange || len(filter.Values) < 2 {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: date filter needs date_range with two values", ErrInvalidRequest)
		}
		var err error
		if from, err = time.Parse(time.DateOnly, fmt.Sprint(filter.Values[0])); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if to, err = time.Parse(time.DateOnly, fmt.Sprint(filter.Values[1])); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if to.Before(from) {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: date range ends before it starts", ErrInvalidRequest)
		}
	}
	return from, to, nil
}

type MembershipStatisticResponseDataItem struct {
	Date  string `json:"date,omitempty"`
	Label string `json:"label,omitempty"`
	Value int64  `json:"value"`
}

type MembershipStatisticResponse struct {
	DataItems map[StatisticType][]MembershipStatisticResponseDataItem `json:"data_items"`
}

// Service provides statistics operations
type Service struct {
	repo repository.Repository
	now  func() time.Time
}

func New(repo repository.Repository) *Service { return &Service{repo: repo, now: time.Now} }

// getDailyChargeCount counts succeeded charges per day, all currencies together.
func (s *Service) getDailyChargeCount(ctx context.Context, request *MembershipStatisticRequest) ([]MembershipStatisticResponseDataItem, error) {
	stats, err := s.chargeStats(ctx, request.GetFilters(StatisticTypeDailyChargeCount))
	if err != nil {
		return nil, err
	}
	byDate := map[string]int64{}
	for _, st := range stats {
		byDate[st.Date] += st.Count
	}
	results := lo.MapToSlice(byDate, func(date string, n int64) MembershipStatisticResponseDataItem {
		return MembershipStatisticResponseDataItem{Date: date, Value: n}
	})
	sortByDate(results)
	return results, nil
}

// getDailyRevenue sums succeeded charges per day and currency, in cents.
func (s *Service) getDailyRevenue(ctx context.Context, request *MembershipStatisticRequest) ([]MembershipStatisticResponseDataItem, error) {
	stats, err := s.chargeStats(ctx, request.GetFilters(StatisticTypeDailyRevenue))
	if err != nil {
		return nil, err
	}
	return lo.Map(stats, func(st repository.DailyChargeStat, _ int) MembershipStatisticResponseDataItem {
		return MembershipStatisticResponseDataItem{Date: st.Date, Label: st.Currency, Value: st.AmountCents}
	}), nil
}

func (s *Service) chargeStats(ctx context.Context, request *MembershipStatisticRequest) ([]repository.DailyChargeStat, error) {
	from, to, err := request.dateRange(s.now())
	if err != nil {
		return nil, err
	}
	return s.repo.DailyChargeStats(ctx, from, to.AddDate(0, 0, 1))
}

func (s *Service) getTotalActiveMembershipCount(ctx context.Context, _ *MembershipStatisticRequest) ([]MembershipStatisticResponseDataItem, error) {
	n, err := s.repo.CountCurrentMemberships(ctx, s.now())
	if err != nil {
		return nil, err
	}
	return []MembershipStatisticResponseDataItem{{Value: n}}, nil
}

// getDailyMembershipCount reads the active memberships recorded by the daily snapshot.
func (s *Service) getDailyMembershipCount(ctx context.Context, request *MembershipStatisticRequest) ([]MembershipStatisticResponseDataItem, error) {
	from, to, err := request.GetFilters(StatisticTypeDailyMembershipCount).dateRange(s.now())
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.DailyActiveSnapshotCounts(ctx, from.Format(time.DateOnly), to.Format(time.DateOnly))
	if err != nil {
		return nil, err
	}
	return lo.Map(counts, func(c repository.DailyCount, _ int) MembershipStatisticResponseDataItem {
		return MembershipStatisticResponseDataItem{Date: c.Date, Value: c.Value}
	}), nil
}

func (s *Service) getMembershipStatistic(ctx context.Context, request *MembershipStatisticRequest, dataItem *MembershipStatisticDataItem) ([]MembershipStatisticResponseDataItem, error) {
	switch dataItem.ID {
	case StatisticTypeDailyChargeCount:
		return s.getDailyChargeCount(ctx, request)
	case StatisticTypeDailyRevenue:
		return s.getDailyRevenue(ctx, request)
	case StatisticTypeTotalActiveMembershipCount:
		return s.getTotalActiveMembershipCount(ctx, request)
	case StatisticTypeDailyMembershipCount:
		return s.getDailyMembershipCount(ctx, request)
	default:
		return nil, fmt.Errorf("%w: invalid data item id: %s", ErrInvalidRequest, dataItem.ID)
	}
}

func (s *Service) GetDailyMembershipStatistic(ctx context.Context, request *MembershipStatisticRequest) (*MembershipStatisticResponse, error) {
	var wg sync.WaitGroup
	errChan := make(chan error, len(request.DataItems))
	resChan := make(chan *lo.Entry[StatisticType, []MembershipStatisticResponseDataItem], len(request.DataItems))

	for _, item := range request.DataItems {
		wg.Add(1)
		go func(di *MembershipStatisticDataItem) {
			defer wg.Done()
			// check filter applicability
			for _, filter := range request.Filters {
				ft := MembershipStatisticFilterType(filter.Field)
				if lo.Contains(filterTypes, ft) && !lo.Contains(validFilters[ft], di.ID) {
					resChan <- &lo.Entry[StatisticType, []MembershipStatisticResponseDataItem]{Key: di.ID, Value: nil}
					return
				}
			}
			res, err := s.getMembershipStatistic(ctx, request, di)
			if err != nil {
				errChan <- err
				return
			}
			resChan <- &lo.Entry[StatisticType, []MembershipStatisticResponseDataItem]{Key: di.ID, Value: res}
		}(item)
	}

	wg.Wait()
	close(errChan)
	close(resChan)

	if err, ok := <-errChan; ok {
		return nil, err
	}
	results := make(map[StatisticType][]MembershipStatisticResponseDataItem)
	for entry := range resChan {
		results[entry.Key] = entry.Value
	}
	return &MembershipStatisticResponse{DataItems: results}, nil
}

func sortByDate(items []MembershipStatisticResponseDataItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].Date < items[j].Date })
}

var Module = fx.Options(
	fx.Provide(New),
)
