package query

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/mohammed-shakir/brewery-cache/internal/core/model"
	"github.com/mohammed-shakir/brewery-cache/internal/mapper"
)

func f64(v float64) *float64 { return &v }

func rec(id, name, city string, coords ...float64) model.BreweryRecord {
	r := model.BreweryRecord{ID: id, Name: name, City: city}
	if len(coords) == 2 {
		r.Latitude, r.Longitude = f64(coords[0]), f64(coords[1])
	}
	return r
}

func names(recs []model.BreweryRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Name
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func params(page, size int) Params {
	return Params{Sort: model.SortByName, Dir: model.Asc, Page: page, PageSize: size}
}

func TestRun_PaginationBounds(t *testing.T) {
	recs := make([]model.BreweryRecord, 23)
	for i := range recs {
		recs[i] = rec(fmt.Sprint(i), fmt.Sprintf("b%02d", i), "c")
	}
	for _, size := range []int{1, 5, 10, 23, 50, 500} {
		pages := (len(recs) + size - 1) / size
		total := 0
		for page := 1; page <= pages+2; page++ {
			got, err := Run(recs, params(page, size))
			if err != nil {
				t.Fatalf("size=%d page=%d: %v", size, page, err)
			}
			if len(got) > size {
				t.Fatalf("size=%d page=%d: len=%d exceeds page size", size, page, len(got))
			}
			if len(got) < size && page < pages {
				t.Fatalf("size=%d page=%d: short page before the last", size, page)
			}
			if page > pages && len(got) != 0 {
				t.Fatalf("size=%d page=%d: want empty past the end", size, page)
			}
			total += len(got)
		}
		if total != len(recs) {
			t.Fatalf("size=%d: pages covered %d records want %d", size, total, len(recs))
		}
	}
}

func TestRun_HugePageIsEmptyNotOverflow(t *testing.T) {
	got, err := Run([]model.BreweryRecord{rec("a", "A", "")}, params(math.MaxInt, 500))
	if err != nil || len(got) != 0 {
		t.Fatalf("got=%v err=%v", got, err)
	}
}

func TestRun_InvalidParameters(t *testing.T) {
	cases := []struct {
		name string
		p    Params
		msg  string
	}{
		{"page zero", params(0, 10), "page must be >= 1"},
		{"page negative", params(-3, 10), "page must be >= 1"},
		{"pageSize zero", params(1, 0), "pageSize must be between 1 and 500"},
		{"pageSize too big", params(1, 501), "pageSize must be between 1 and 500"},
		{"distance without point", Params{Sort: model.SortByDistance, Page: 1, PageSize: 10}, "lat and lon must be provided when sorting by distance"},
		{"distance with lat only", Params{Sort: model.SortByDistance, Lat: f64(1), Page: 1, PageSize: 10}, "lat and lon must be provided when sorting by distance"},
		{"distance with lon only", Params{Sort: model.SortByDistance, Lon: f64(1), Page: 1, PageSize: 10}, "lat and lon must be provided when sorting by distance"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Run([]model.BreweryRecord{rec("a", "A", "")}, tc.p)
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("err=%v want ErrInvalid", err)
			}
			if want := ErrInvalid.Error() + ": " + tc.msg; err.Error() != want {
				t.Fatalf("msg=%q want %q", err.Error(), want)
			}
		})
	}
}

func TestRun_DistanceWithPointIsValid(t *testing.T) {
	p := Params{Sort: model.SortByDistance, Lat: f64(0), Lon: f64(0), Page: 1, PageSize: 10}
	if _, err := Run(nil, p); err != nil {
		t.Fatalf("err=%v", err)
	}
}

func TestHaversine_IdentityAndSymmetry(t *testing.T) {
	pts := [][2]float64{{0, 0}, {38.7776, -75.3099}, {-33.86, 151.21}, {89.9, 179.9}, {-45, -120}}
	for _, a := range pts {
		if d := Haversine(a[0], a[1], a[0], a[1]); d != 0 {
			t.Fatalf("distance(%v,%v)=%v want 0", a, a, d)
		}
		for _, b := range pts {
			ab := Haversine(a[0], a[1], b[0], b[1])
			ba := Haversine(b[0], b[1], a[0], a[1])
			if math.Abs(ab-ba) > 1e-9 {
				t.Fatalf("asymmetric: %v vs %v", ab, ba)
			}
		}
	}
	// one degree of longitude on the equator
	if d := Haversine(0, 0, 0, 1); math.Abs(d-111.195) > 0.01 {
		t.Fatalf("1deg=%v want ~111.195km", d)
	}
}

func TestRun_MissingCoordinatesSortLastBothDirections(t *testing.T) {
	recs := []model.BreweryRecord{
		rec("n1", "NoCoords1", ""),
		rec("far", "Far", "", 10, 10),
		rec("n2", "NoCoords2", ""),
		rec("near", "Near", "", 1, 1),
	}
	for _, dir := range []model.Direction{model.Asc, model.Desc} {
		p := Params{Sort: model.SortByDistance, Dir: dir, Lat: f64(0), Lon: f64(0), Page: 1, PageSize: 10}
		got, err := Run(recs, p)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"Near", "Far", "NoCoords1", "NoCoords2"}
		if dir == model.Desc {
			want = []string{"Far", "Near", "NoCoords1", "NoCoords2"}
		}
		if !equal(names(got), want) {
			t.Fatalf("dir=%s got %v want %v", dir, names(got), want)
		}
		if got[2].DistanceKm != nil || got[3].DistanceKm != nil {
			t.Fatalf("records without coordinates must not carry a distance")
		}
	}
}

func TestRun_SearchIsCaseInsensitiveOnNameOrCity(t *testing.T) {
	recs := []model.BreweryRecord{
		rec("1", "Dogfish Head", "Milton"),
		rec("2", "Other", "Dogtown"),
		rec("3", "Unrelated", "Nowhere"),
	}
	p := params(1, 10)
	p.Search = "  DOG "
	got, err := Run(recs, p)
	if err != nil {
		t.Fatal(err)
	}
	if !equal(names(got), []string{"Dogfish Head", "Other"}) {
		t.Fatalf("got %v", names(got))
	}

	p.Search = "   "
	got, _ = Run(recs, p)
	if len(got) != 3 {
		t.Fatalf("blank search should keep all, got %d", len(got))
	}
}

func TestRun_StableTiesAndDirections(t *testing.T) {
	recs := []model.BreweryRecord{
		rec("1", "Same", "b"),
		rec("2", "alpha", "a"),
		rec("3", "Same", "c"),
		rec("4", "Zed", "a"),
	}
	got, _ := Run(recs, params(1, 10))
	if !equal(names(got), []string{"alpha", "Same", "Same", "Zed"}) || got[1].ID != "1" || got[2].ID != "3" {
		t.Fatalf("asc got %v", got)
	}

	p := params(1, 10)
	p.Dir = model.Desc
	got, _ = Run(recs, p)
	if !equal(names(got), []string{"Zed", "Same", "Same", "alpha"}) || got[1].ID != "1" || got[2].ID != "3" {
		t.Fatalf("desc got %v", got)
	}

	p = params(1, 10)
	p.Sort = model.SortByCity
	got, _ = Run(recs, p)
	if ids := []string{got[0].ID, got[1].ID, got[2].ID, got[3].ID}; !equal(ids, []string{"2", "4", "1", "3"}) {
		t.Fatalf("city sort ids %v", ids)
	}
}

func TestRun_DoesNotMutateInput(t *testing.T) {
	recs := []model.BreweryRecord{rec("b", "Beta", "Y", 1, 1), rec("a", "Alpha", "X", 0, 0)}
	p := Params{Sort: model.SortByDistance, Lat: f64(0), Lon: f64(0), Page: 1, PageSize: 10}
	if _, err := Run(recs, p); err != nil {
		t.Fatal(err)
	}
	if recs[0].Name != "Beta" || recs[1].Name != "Alpha" {
		t.Fatal("input reordered")
	}
	for _, r := range recs {
		if r.DistanceKm != nil {
			t.Fatalf("input record %s gained a distance", r.ID)
		}
	}
}

func TestRun_EndToEndAlphaBeta(t *testing.T) {
	s := func(v string) *string { return &v }
	c := func(v string) *model.CoordText { x := model.CoordText(v); return &x }
	raw := []model.UpstreamRecord{
		{Name: s("Alpha"), City: s("X"), Latitude: c("0"), Longitude: c("0")},
		{Name: s("Beta"), City: s("Y"), Latitude: c("1"), Longitude: c("1")},
	}
	recs := mapper.MapAll(mapper.New(), raw)

	p := Params{Sort: ParseSort("distance"), Dir: ParseDirection("asc"), Lat: f64(0), Lon: f64(0), Page: 1, PageSize: 10}
	got, err := Run(recs, p)
	if err != nil {
		t.Fatal(err)
	}
	if !equal(names(got), []string{"Alpha", "Beta"}) {
		t.Fatalf("order %v", names(got))
	}
	if got[0].DistanceKm == nil || math.Abs(*got[0].DistanceKm) > 1e-9 {
		t.Fatalf("alpha distance %v want ~0", got[0].DistanceKm)
	}
	if got[1].DistanceKm == nil || math.Abs(*got[1].DistanceKm-157.25) > 0.1 {
		t.Fatalf("beta distance %v want ~157.25", got[1].DistanceKm)
	}
}

func TestParseSortAndDirection(t *testing.T) {
	sorts := map[string]model.SortKey{
		"": model.SortByName, "NAME": model.SortByName, "City": model.SortByCity,
		"DISTANCE": model.SortByDistance, "rating": model.SortByName,
	}
	for in, want := range sorts {
		if got := ParseSort(in); got != want {
			t.Errorf("ParseSort(%q)=%s want %s", in, got, want)
		}
	}
	dirs := map[string]model.Direction{
		"": model.Asc, "asc": model.Asc, "ASC": model.Asc, "desc": model.Desc, "down": model.Desc,
	}
	for in, want := range dirs {
		if got := ParseDirection(in); got != want {
			t.Errorf("ParseDirection(%q)=%s want %s", in, got, want)
		}
	}
}
