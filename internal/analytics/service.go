package analytics

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"chillerhub/internal/apperr"
	"chillerhub/internal/logger"
	"chillerhub/internal/metrics"
	"chillerhub/internal/models"
	"chillerhub/internal/storage"
	"chillerhub/internal/tenancy"
)

// UnitNamer returns the unit names of an organization.
type UnitNamer interface {
	UnitNames(ctx context.Context, orgID int64) (map[int64]string, error)
}

// Query is a tenant-scoped aggregation request.
type Query struct {
	OrganizationID int64
	Start          *time.Time
	End            *time.Time
	BuildingID     *int64
	UnitID         *int64
	Granularity    Granularity
}

func (q Query) filter() storage.TelemetryFilter {
	return storage.TelemetryFilter{
		OrganizationID: q.OrganizationID,
		BuildingID:     q.BuildingID,
		UnitID:         q.UnitID,
		Start:          q.Start,
		End:            q.End,
	}
}

// ParseQuery reads start, end, building_id, unit_id (or chiller_unit_id)
// and granularity from v.
func ParseQuery(v url.Values, orgID int64, def Granularity) (Query, error) {
	q := Query{OrganizationID: orgID}

	var err error
	if q.Start, err = timeParam(v, "start"); err != nil {
		return Query{}, err
	}
	if q.End, err = timeParam(v, "end"); err != nil {
		return Query{}, err
	}
	if q.Start != nil && q.End != nil && q.End.Before(*q.Start) {
		return Query{}, fmt.Errorf("%w: end is before start", apperr.ErrInvalidInput)
	}

	if q.BuildingID, err = idParam(v, "building_id"); err != nil {
		return Query{}, err
	}
	if q.UnitID, err = idParam(v, "unit_id"); err != nil {
		return Query{}, err
	}
	if q.UnitID == nil {
		if q.UnitID, err = idParam(v, "chiller_unit_id"); err != nil {
			return Query{}, err
		}
	}

	if q.Granularity, err = ParseGranularity(v.Get("granularity"), def); err != nil {
		return Query{}, err
	}
	return q, nil
}

func timeParam(v url.Values, name string) (*time.Time, error) {
	raw := v.Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := models.ParseTimestamp(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &t, nil
}

func idParam(v url.Values, name string) (*int64, error) {
	raw := v.Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: %s must be a positive integer", apperr.ErrInvalidInput, name)
	}
	return &id, nil
}

// Service runs aggregation queries over the telemetry store.
type Service struct {
	store   storage.TelemetryStore
	guard   *tenancy.Guard
	names   UnitNamer
	timeout time.Duration
}

// NewService creates an analytics service. A zero timeout means 30s.
func NewService(store storage.TelemetryStore, guard *tenancy.Guard, names UnitNamer, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{store: store, guard: guard, names: names, timeout: timeout}
}

// scan authorizes q's filters and streams every matching point into fn.
func (s *Service) scan(ctx context.Context, name string, q Query, fn func(models.TelemetryPoint)) error {
	if err := s.guard.Filters(ctx, q.OrganizationID, q.BuildingID, q.UnitID); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	rows := 0
	err := s.store.ScanTelemetry(ctx, q.filter(), func(p models.TelemetryPoint) error {
		rows++
		fn(p)
		return nil
	})
	metrics.AnalyticsQueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	metrics.AnalyticsRowsScanned.WithLabelValues(name).Add(float64(rows))

	if err != nil {
		logger.WithOrganization("analytics", q.OrganizationID).Warn().
			Err(err).
			Str("query", name).
			Int("rows", rows).
			Msg("aggregation failed")
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w: query timed out", name, apperr.ErrUnavailable)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Overview is the plant-wide summary.
type Overview struct {
	CoolingLoadRTH        float64 `json:"cooling_load_rth"`
	PowerConsumptionKW    float64 `json:"power_consumption_kw"`
	AvgCOP                float64 `json:"avg_cop"`
	EfficiencyGainPercent float64 `json:"efficiency_gain_percent"`
	MonthlySavings        float64 `json:"monthly_savings"`
	CO2Saved              float64 `json:"co2_saved"`
	PointCount            int     `json:"point_count"`
}

// PlantOverview sums the range into one row and derives the business
// figures from the totals.
func (s *Service) PlantOverview(ctx context.Context, q Query) (Overview, error) {
	var total Bucket
	if err := s.scan(ctx, "plant_overview", q, total.Add); err != nil {
		return Overview{}, err
	}

	avgCOP := total.AvgCOP()
	gain := max(avgCOP-BaselineCOP, 0) / BaselineCOP * 100
	return Overview{
		CoolingLoadRTH:        round(total.CoolingLoad, 2),
		PowerConsumptionKW:    round(total.PowerKW, 2),
		AvgCOP:                round(avgCOP, 2),
		EfficiencyGainPercent: round(gain, 2),
		MonthlySavings:        round(total.CoolingLoad*SavingsPerRTH, 2),
		CO2Saved:              round(total.PowerKW*CO2KgPerKWh, 2),
		PointCount:            total.Points,
	}, nil
}

// SeriesPoint is one bucket of a time series.
type SeriesPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	CoolingRTH float64   `json:"cooling_rth"`
	PowerKW    float64   `json:"power_kw"`
	Efficiency *float64  `json:"efficiency_kwh_per_tr"`
	AvgCOP     float64   `json:"avg_cop"`
}

func seriesPoint(b *Bucket) SeriesPoint {
	return SeriesPoint{
		Timestamp:  b.Start,
		CoolingRTH: round(b.CoolingLoad, 3),
		PowerKW:    round(b.PowerKW, 3),
		Efficiency: roundPtr(b.Efficiency(), 4),
		AvgCOP:     round(b.AvgCOP(), 3),
	}
}

// ConsumptionEfficiency buckets the range by q.Granularity.
func (s *Service) ConsumptionEfficiency(ctx context.Context, q Query) ([]SeriesPoint, error) {
	buckets := map[time.Time]*Bucket{}
	err := s.scan(ctx, "consumption_efficiency", q, func(p models.TelemetryPoint) {
		start := q.Granularity.Truncate(p.Timestamp)
		b, ok := buckets[start]
		if !ok {
			b = &Bucket{Start: start}
			buckets[start] = b
		}
		b.Add(p)
	})
	if err != nil {
		return nil, err
	}

	keys := make([]time.Time, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	series := make([]SeriesPoint, len(keys))
	for i, k := range keys {
		series[i] = seriesPoint(buckets[k])
	}
	return series, nil
}

// UnitMetrics is one unit's share of the tenant totals.
type UnitMetrics struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	CoolingShare float64  `json:"cooling_share"`
	PowerShare   float64  `json:"power_share"`
	Efficiency   *float64 `json:"efficiency_kwh_per_tr"`
	AvgCOP       float64  `json:"avg_cop"`
}

// EquipmentMetrics breaks the range down per unit. Shares are percentages
// of the totals over the same filter, or 0 when a total is 0.
func (s *Service) EquipmentMetrics(ctx context.Context, q Query) ([]UnitMetrics, error) {
	units := map[int64]*Bucket{}
	err := s.scan(ctx, "equipment_metrics", q, func(p models.TelemetryPoint) {
		b, ok := units[p.UnitID]
		if !ok {
			b = &Bucket{UnitID: p.UnitID}
			units[p.UnitID] = b
		}
		b.Add(p)
	})
	if err != nil {
		return nil, err
	}

	names, err := s.unitNames(ctx, q.OrganizationID, len(units))
	if err != nil {
		return nil, err
	}

	var totalCooling, totalPower float64
	ids := make([]int64, 0, len(units))
	for id, b := range units {
		ids = append(ids, id)
		totalCooling += b.CoolingLoad
		totalPower += b.PowerKW
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]UnitMetrics, len(ids))
	for i, id := range ids {
		b := units[id]
		out[i] = UnitMetrics{
			ID:           id,
			Name:         names[id],
			CoolingShare: round(share(b.CoolingLoad, totalCooling), 2),
			PowerShare:   round(share(b.PowerKW, totalPower), 2),
			Efficiency:   roundPtr(b.Efficiency(), 4),
			AvgCOP:       round(b.AvgCOP(), 3),
		}
	}
	return out, nil
}

func share(part, total float64) float64 {
	if total == 0 {
		return 0
	}
	return part / total * 100
}

// TrendPoint is a series bucket with average water temperatures.
// CapacityPct scales cooling so that 1000 RTH reads as 100.
type TrendPoint struct {
	SeriesPoint
	EWT         float64 `json:"ewt"`
	LWT         float64 `json:"lwt"`
	CapacityPct float64 `json:"capacity_pct"`
}

// ChillerTrend is one unit's series.
type ChillerTrend struct {
	UnitID   int64        `json:"unit_id"`
	UnitName string       `json:"unit_name"`
	Points   []TrendPoint `json:"points"`
}

type trendKey struct {
	start  time.Time
	unitID int64
}

// ChillerTrends buckets the range by (bucket, unit) and returns one series
// per unit, ordered by unit id.
func (s *Service) ChillerTrends(ctx context.Context, q Query) ([]ChillerTrend, error) {
	buckets := map[trendKey]*Bucket{}
	err := s.scan(ctx, "chiller_trends", q, func(p models.TelemetryPoint) {
		k := trendKey{start: q.Granularity.Truncate(p.Timestamp), unitID: p.UnitID}
		b, ok := buckets[k]
		if !ok {
			b = &Bucket{Start: k.start, UnitID: k.unitID}
			buckets[k] = b
		}
		b.Add(p)
	})
	if err != nil {
		return nil, err
	}

	ordered := make([]*Bucket, 0, len(buckets))
	for _, b := range buckets {
		ordered = append(ordered, b)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].Start.Equal(ordered[j].Start) {
			return ordered[i].Start.Before(ordered[j].Start)
		}
		return ordered[i].UnitID < ordered[j].UnitID
	})

	names, err := s.unitNames(ctx, q.OrganizationID, len(ordered))
	if err != nil {
		return nil, err
	}

	index := map[int64]int{}
	trends := []ChillerTrend{}
	for _, b := range ordered {
		i, ok := index[b.UnitID]
		if !ok {
			i = len(trends)
			index[b.UnitID] = i
			trends = append(trends, ChillerTrend{UnitID: b.UnitID, UnitName: names[b.UnitID], Points: []TrendPoint{}})
		}
		trends[i].Points = append(trends[i].Points, TrendPoint{
			SeriesPoint: seriesPoint(b),
			EWT:         round(b.AvgInlet(), 3),
			LWT:         round(b.AvgOutlet(), 3),
			CapacityPct: round(b.CoolingLoad/10, 3),
		})
	}
	sort.Slice(trends, func(i, j int) bool { return trends[i].UnitID < trends[j].UnitID })
	return trends, nil
}

func (s *Service) unitNames(ctx context.Context, orgID int64, n int) (map[int64]string, error) {
	if n == 0 || s.names == nil {
		return map[int64]string{}, nil
	}
	names, err := s.names.UnitNames(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("load unit names: %w", err)
	}
	return names, nil
}
