package clip

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/clipship/internal/geometry"
)

const stateplaneAOI = `{"type":"FeatureCollection","crs":{"type":"name","properties":{"name":"urn:ogc:def:crs:EPSG::2927"}},` +
	`"features":[{"type":"Feature","properties":{},"geometry":{"type":"Polygon",` +
	`"coordinates":[[[1000,2000],[1150,2000],[1150,2050],[1000,2050],[1000,2000]]]}}]}`

// fakeOgr writes a fixed result the way ogr2ogr writes its destination.
type fakeOgr struct {
	calls  int
	args   []string
	source string
	fail   bool
}

func (f *fakeOgr) Run(_ context.Context, _ string, args ...string) (string, string, error) {
	f.calls++
	f.args = args
	dst, src := args[len(args)-2], args[len(args)-1]
	b, _ := os.ReadFile(src)
	f.source = string(b)
	if f.fail {
		return "", "ERROR 1: Failed to process SRS definition", errors.New("exit status 1")
	}
	return "", "", os.WriteFile(dst, []byte(stateplaneAOI), 0o644)
}

func TestReproject(t *testing.T) {
	wgs := geometry.AOI{Geometry: orb.Bound{Min: orb.Point{-122.5, 47.5}, Max: orb.Point{-122.4, 47.6}}.ToPolygon(), WKID: geometry.WGS84}

	tests := []struct {
		name      string
		wkid      int
		fail      bool
		wantCalls int
		wantErr   error
		wantBound orb.Bound
	}{
		{name: "in process", wkid: 102100, wantCalls: 0},
		{name: "external", wkid: 2927, wantCalls: 1, wantBound: orb.Bound{Min: orb.Point{1000, 2000}, Max: orb.Point{1150, 2050}}},
		{name: "tool fails", wkid: 2927, fail: true, wantCalls: 1, wantErr: ErrReprojectFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fo := &fakeOgr{fail: tc.fail}
			r := NewReprojector(quietLogger(), fo, "")

			got, err := r.Reproject(context.Background(), wgs, tc.wkid)
			if fo.calls != tc.wantCalls {
				t.Fatalf("ogr2ogr calls=%d want %d", fo.calls, tc.wantCalls)
			}
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) || !strings.Contains(err.Error(), "SRS definition") {
					t.Fatalf("err=%v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Reproject: %v", err)
			}
			if got.WKID != tc.wkid {
				t.Fatalf("wkid=%d want %d", got.WKID, tc.wkid)
			}
			if tc.wantCalls == 0 {
				return
			}
			if got.Bound() != tc.wantBound {
				t.Fatalf("bound=%v want %v", got.Bound(), tc.wantBound)
			}
			joined := strings.Join(fo.args, " ")
			if !strings.HasPrefix(joined, "-f GeoJSON -t_srs EPSG:2927 ") {
				t.Fatalf("args=%q", joined)
			}
			if !strings.Contains(fo.source, `"EPSG:4326"`) {
				t.Fatalf("source crs missing: %s", fo.source)
			}
		})
	}
}
