package analytics

import (
	"context"
	"errors"
	"math"
	"net/url"
	"testing"
	"time"

	"chillerhub/internal/apperr"
	"chillerhub/internal/models"
	"chillerhub/internal/storage"
	"chillerhub/internal/tenancy"
)

type fixture struct {
	mem     *storage.Memory
	svc     *Service
	org     int64
	other   int64
	hq      models.Building
	ch1     models.Unit
	ch2     models.Unit
	foreign models.Unit
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	m := storage.NewMemory()
	acme := m.AddOrganization(models.Organization{Name: "acme"})
	globex := m.AddOrganization(models.Organization{Name: "globex"})
	hq := m.AddBuilding(models.Building{OrganizationID: acme.ID, Name: "HQ"})
	plant := m.AddBuilding(models.Building{OrganizationID: globex.ID, Name: "Plant"})
	return fixture{
		mem:     m,
		svc:     NewService(m, tenancy.NewGuard(m), m, time.Second),
		org:     acme.ID,
		other:   globex.ID,
		hq:      hq,
		ch1:     m.AddUnit(models.Unit{BuildingID: hq.ID, Name: "CH-1"}),
		ch2:     m.AddUnit(models.Unit{BuildingID: hq.ID, Name: "CH-2"}),
		foreign: m.AddUnit(models.Unit{BuildingID: plant.ID, Name: "CH-9"}),
	}
}

func (f fixture) insert(t *testing.T, points ...models.TelemetryPoint) {
	t.Helper()
	err := f.mem.WithinTx(context.Background(), func(tx storage.TxWriter) error {
		for _, p := range points {
			if _, err := tx.InsertTelemetry(context.Background(), p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func (f fixture) point(unit models.Unit, ts string, inlet, outlet, power, flow, cop float64) models.TelemetryPoint {
	org := f.org
	if unit.ID == f.foreign.ID {
		org = f.other
	}
	return models.TelemetryPoint{
		OrganizationID: org,
		BuildingID:     unit.BuildingID,
		UnitID:         unit.ID,
		Timestamp:      at(ts),
		InletTemp:      inlet,
		OutletTemp:     outlet,
		PowerKW:        power,
		FlowRate:       flow,
		COP:            cop,
	}
}

func TestCoolingLoad(t *testing.T) {
	tests := []struct {
		name   string
		p      models.TelemetryPoint
		want   float64
		wantOK bool
	}{
		{"typical", models.TelemetryPoint{InletTemp: 12, OutletTemp: 7, FlowRate: 100}, 20.8333, true},
		{"no delta", models.TelemetryPoint{InletTemp: 9, OutletTemp: 9, FlowRate: 100}, 0, false},
		{"reversed", models.TelemetryPoint{InletTemp: 7, OutletTemp: 12, FlowRate: 12}, -2.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CoolingLoad(tt.p)
			if ok != tt.wantOK || round(got, 4) != tt.want {
				t.Errorf("CoolingLoad() = %v, %v; want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestGranularity(t *testing.T) {
	ts := at("2024-03-17T13:45:30Z")
	tests := []struct {
		g    Granularity
		want string
	}{
		{Minute, "2024-03-17T13:45:00Z"},
		{Hour, "2024-03-17T13:00:00Z"},
		{Day, "2024-03-17T00:00:00Z"},
		{Month, "2024-03-01T00:00:00Z"},
	}
	for _, tt := range tests {
		if got := tt.g.Truncate(ts); !got.Equal(at(tt.want)) {
			t.Errorf("%s.Truncate() = %v, want %s", tt.g, got, tt.want)
		}
	}

	if g, err := ParseGranularity("", Day); err != nil || g != Day {
		t.Errorf("empty granularity = %q, %v", g, err)
	}
	if g, err := ParseGranularity(" HOUR ", Day); err != nil || g != Hour {
		t.Errorf("HOUR = %q, %v", g, err)
	}
	if _, err := ParseGranularity("week", Day); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("week error = %v", err)
	}
}

func TestParseQuery(t *testing.T) {
	v := url.Values{
		"start":           {"2024-03-01T00:00:00Z"},
		"end":             {"2024-03-02T00:00:00Z"},
		"building_id":     {"3"},
		"chiller_unit_id": {"7"},
	}
	q, err := ParseQuery(v, 1, Hour)
	if err != nil {
		t.Fatal(err)
	}
	if q.OrganizationID != 1 || *q.BuildingID != 3 || *q.UnitID != 7 || q.Granularity != Hour {
		t.Errorf("query = %+v", q)
	}
	if !q.Start.Equal(at("2024-03-01T00:00:00Z")) || !q.End.Equal(at("2024-03-02T00:00:00Z")) {
		t.Errorf("range = %v..%v", q.Start, q.End)
	}

	bad := []url.Values{
		{"start": {"yesterday"}},
		{"start": {"2024-03-02T00:00:00Z"}, "end": {"2024-03-01T00:00:00Z"}},
		{"unit_id": {"abc"}},
		{"building_id": {"-1"}},
		{"granularity": {"fortnight"}},
	}
	for _, v := range bad {
		if _, err := ParseQuery(v, 1, Day); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("ParseQuery(%v) error = %v, want ErrInvalidInput", v, err)
		}
	}
}

func TestPlantOverview(t *testing.T) {
	f := newFixture(t)
	f.insert(t,
		f.point(f.ch1, "2024-03-01T10:00:00Z", 12, 7, 50, 100, 3.0),
		f.point(f.ch2, "2024-03-01T10:00:00Z", 10, 10, 30, 80, 4.0),
		f.point(f.foreign, "2024-03-01T10:00:00Z", 12, 7, 999, 100, 9.0),
	)

	got, err := f.svc.PlantOverview(context.Background(), Query{OrganizationID: f.org})
	if err != nil {
		t.Fatal(err)
	}
	want := Overview{
		CoolingLoadRTH:        20.83,
		PowerConsumptionKW:    80,
		AvgCOP:                3.5,
		EfficiencyGainPercent: 40,
		MonthlySavings:        2.5,
		CO2Saved:              33.6,
		PointCount:            2,
	}
	if got != want {
		t.Errorf("PlantOverview() = %+v\nwant %+v", got, want)
	}
}

func TestPlantOverview_Empty(t *testing.T) {
	f := newFixture(t)
	got, err := f.svc.PlantOverview(context.Background(), Query{OrganizationID: f.org})
	if err != nil {
		t.Fatal(err)
	}
	if got != (Overview{}) {
		t.Errorf("empty overview = %+v", got)
	}
}

func TestConsumptionEfficiency(t *testing.T) {
	f := newFixture(t)
	f.insert(t,
		f.point(f.ch1, "2024-03-02T08:00:00Z", 12, 7, 40, 120, 4.0),
		f.point(f.ch1, "2024-03-01T10:00:00Z", 12, 7, 50, 100, 3.0),
		f.point(f.ch2, "2024-03-01T23:59:00Z", 11, 11, 25, 100, 5.0),
	)

	series, err := f.svc.ConsumptionEfficiency(context.Background(), Query{OrganizationID: f.org, Granularity: Day})
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 2 {
		t.Fatalf("buckets = %d, want 2", len(series))
	}

	first := series[0]
	if !first.Timestamp.Equal(at("2024-03-01T00:00:00Z")) {
		t.Errorf("first bucket = %v", first.Timestamp)
	}
	if first.CoolingRTH != 20.833 || first.PowerKW != 75 || first.AvgCOP != 4 {
		t.Errorf("first bucket = %+v", first)
	}
	if first.Efficiency == nil || *first.Efficiency != 3.6 {
		t.Errorf("first efficiency = %v, want 3.6", first.Efficiency)
	}

	if !series[1].Timestamp.Equal(at("2024-03-02T00:00:00Z")) || series[1].CoolingRTH != 25 {
		t.Errorf("second bucket = %+v", series[1])
	}
}

func TestConsumptionEfficiency_NoLoadHasNullEfficiency(t *testing.T) {
	f := newFixture(t)
	f.insert(t, f.point(f.ch1, "2024-03-01T10:00:00Z", 9, 9, 50, 100, 3.0))

	series, err := f.svc.ConsumptionEfficiency(context.Background(), Query{OrganizationID: f.org, Granularity: Hour})
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 1 || series[0].CoolingRTH != 0 || series[0].Efficiency != nil {
		t.Errorf("series = %+v", series)
	}
}

func TestSinglePointIdentity(t *testing.T) {
	f := newFixture(t)
	p := f.point(f.ch1, "2024-03-01T10:17:00Z", 12, 7, 50, 100, 3.2)
	f.insert(t, p)
	load, _ := CoolingLoad(p)

	for _, g := range []Granularity{Minute, Hour, Day, Month} {
		series, err := f.svc.ConsumptionEfficiency(context.Background(), Query{OrganizationID: f.org, Granularity: g})
		if err != nil {
			t.Fatal(err)
		}
		if len(series) != 1 {
			t.Fatalf("%s: buckets = %d", g, len(series))
		}
		s := series[0]
		if s.CoolingRTH != round(load, 3) || s.PowerKW != 50 || s.AvgCOP != 3.2 {
			t.Errorf("%s: bucket = %+v", g, s)
		}
	}
}

func TestEquipmentMetrics(t *testing.T) {
	f := newFixture(t)
	f.insert(t,
		f.point(f.ch1, "2024-03-01T10:00:00Z", 12, 7, 60, 100, 3.0),
		f.point(f.ch2, "2024-03-01T10:00:00Z", 12, 7, 20, 300, 5.0),
		f.point(f.ch2, "2024-03-01T11:00:00Z", 12, 7, 20, 300, 4.0),
		f.point(f.foreign, "2024-03-01T10:00:00Z", 12, 7, 500, 100, 1.0),
	)

	units, err := f.svc.EquipmentMetrics(context.Background(), Query{OrganizationID: f.org})
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 2 {
		t.Fatalf("units = %+v", units)
	}
	if units[0].ID != f.ch1.ID || units[0].Name != "CH-1" || units[1].Name != "CH-2" {
		t.Errorf("order/names = %+v", units)
	}

	var cooling, power float64
	for _, u := range units {
		cooling += u.CoolingShare
		power += u.PowerShare
	}
	if math.Abs(cooling-100) > 0.02 || math.Abs(power-100) > 0.02 {
		t.Errorf("shares sum to %v / %v", cooling, power)
	}
	if units[0].CoolingShare != 14.29 || units[0].PowerShare != 60 {
		t.Errorf("CH-1 shares = %+v", units[0])
	}
	if units[1].AvgCOP != 4.5 {
		t.Errorf("CH-2 avg_cop = %v", units[1].AvgCOP)
	}
}

func TestEquipmentMetrics_ZeroTotals(t *testing.T) {
	f := newFixture(t)
	f.insert(t, f.point(f.ch1, "2024-03-01T10:00:00Z", 9, 9, 0, 100, 3.0))

	units, err := f.svc.EquipmentMetrics(context.Background(), Query{OrganizationID: f.org})
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 1 || units[0].CoolingShare != 0 || units[0].PowerShare != 0 || units[0].Efficiency != nil {
		t.Errorf("units = %+v", units)
	}
}

func TestChillerTrends(t *testing.T) {
	f := newFixture(t)
	f.insert(t,
		f.point(f.ch2, "2024-03-01T10:05:00Z", 12, 7, 20, 100, 5.0),
		f.point(f.ch1, "2024-03-01T10:10:00Z", 12, 6, 40, 100, 3.0),
		f.point(f.ch1, "2024-03-01T10:50:00Z", 14, 8, 60, 100, 4.0),
		f.point(f.ch1, "2024-03-01T11:00:00Z", 12, 7, 50, 100, 3.5),
	)

	trends, err := f.svc.ChillerTrends(context.Background(), Query{OrganizationID: f.org, Granularity: Hour})
	if err != nil {
		t.Fatal(err)
	}
	if len(trends) != 2 || trends[0].UnitID != f.ch1.ID || trends[1].UnitID != f.ch2.ID {
		t.Fatalf("trends = %+v", trends)
	}
	ch1 := trends[0]
	if ch1.UnitName != "CH-1" || len(ch1.Points) != 2 {
		t.Fatalf("CH-1 = %+v", ch1)
	}
	p := ch1.Points[0]
	if !p.Timestamp.Equal(at("2024-03-01T10:00:00Z")) || p.EWT != 13 || p.LWT != 7 || p.PowerKW != 100 || p.AvgCOP != 3.5 {
		t.Errorf("CH-1 10:00 = %+v", p)
	}
	if p.CoolingRTH != 50 || p.CapacityPct != 5 {
		t.Errorf("CH-1 10:00 cooling = %v capacity = %v, want 50 and 5", p.CoolingRTH, p.CapacityPct)
	}
	if !ch1.Points[1].Timestamp.After(p.Timestamp) {
		t.Errorf("points out of order: %+v", ch1.Points)
	}
}

func TestQueries_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.insert(t,
		f.point(f.ch1, "2024-03-01T10:00:00Z", 12, 7, 60, 100, 3.0),
		f.point(f.ch2, "2024-03-01T12:00:00Z", 12, 8, 20, 300, 5.0),
	)
	q := Query{OrganizationID: f.org, Granularity: Hour}

	a, err := f.svc.ChillerTrends(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	b, err := f.svc.ChillerTrends(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) {
		t.Fatalf("runs differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].UnitID != b[i].UnitID || len(a[i].Points) != len(b[i].Points) || a[i].Points[0].CoolingRTH != b[i].Points[0].CoolingRTH {
			t.Errorf("run %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestQueries_FilterScope(t *testing.T) {
	f := newFixture(t)
	f.insert(t,
		f.point(f.ch1, "2024-03-01T10:00:00Z", 12, 7, 60, 100, 3.0),
		f.point(f.ch2, "2024-03-01T10:00:00Z", 12, 7, 20, 100, 5.0),
	)

	t.Run("unit filter", func(t *testing.T) {
		id := f.ch2.ID
		got, err := f.svc.PlantOverview(context.Background(), Query{OrganizationID: f.org, UnitID: &id})
		if err != nil {
			t.Fatal(err)
		}
		if got.PointCount != 1 || got.PowerConsumptionKW != 20 {
			t.Errorf("overview = %+v", got)
		}
	})

	t.Run("foreign unit", func(t *testing.T) {
		id := f.foreign.ID
		_, err := f.svc.EquipmentMetrics(context.Background(), Query{OrganizationID: f.org, UnitID: &id})
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("foreign building", func(t *testing.T) {
		id := f.foreign.BuildingID
		_, err := f.svc.PlantOverview(context.Background(), Query{OrganizationID: f.org, BuildingID: &id})
		if apperr.Status(err) != 404 {
			t.Errorf("status = %d", apperr.Status(err))
		}
	})

	t.Run("time range end is inclusive", func(t *testing.T) {
		start, end := at("2024-03-01T09:00:00Z"), at("2024-03-01T10:00:00Z")
		got, err := f.svc.PlantOverview(context.Background(), Query{OrganizationID: f.org, Start: &start, End: &end})
		if err != nil {
			t.Fatal(err)
		}
		if got.PointCount != 2 {
			t.Errorf("points = %d, want 2", got.PointCount)
		}
	})

	t.Run("time range before points", func(t *testing.T) {
		start, end := at("2024-03-01T09:00:00Z"), at("2024-03-01T09:59:59Z")
		got, err := f.svc.PlantOverview(context.Background(), Query{OrganizationID: f.org, Start: &start, End: &end})
		if err != nil {
			t.Fatal(err)
		}
		if got.PointCount != 0 {
			t.Errorf("points = %d, want 0", got.PointCount)
		}
	})

	t.Run("no principal", func(t *testing.T) {
		_, err := f.svc.PlantOverview(context.Background(), Query{})
		if !errors.Is(err, apperr.ErrUnauthenticated) {
			t.Errorf("error = %v", err)
		}
	})
}

type slowStore struct {
	storage.TelemetryStore
}

func (slowStore) ScanTelemetry(ctx context.Context, f storage.TelemetryFilter, fn func(models.TelemetryPoint) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestQueryTimeout(t *testing.T) {
	f := newFixture(t)
	svc := NewService(slowStore{f.mem}, tenancy.NewGuard(f.mem), f.mem, 10*time.Millisecond)

	_, err := svc.PlantOverview(context.Background(), Query{OrganizationID: f.org})
	if !errors.Is(err, apperr.ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}
