package domain

import "testing"

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in      string
		wantLat float64
		wantLon float64
		ok      bool
	}{
		{"10.762622,106.660172-268 Ly Thuong Kiet", 10.762622, 106.660172, true},
		{"10.5,106.25", 10.5, 106.25, true},
		{" -33.8688 , 151.2093-Sydney", -33.8688, 151.2093, true},
		{"-33.8688,-70.6693", -33.8688, -70.6693, true},
		{"45,-122-with-dashes-in-text", 45, -122, true},
		{"91,10", 0, 0, false},
		{"10,181", 0, 0, false},
		{"downtown", 0, 0, false},
		{"10.5;106.2", 0, 0, false},
		{"", 0, 0, false},
	}

	for _, tt := range tests {
		c, ok := ParseLocation(tt.in)
		if ok != tt.ok {
			t.Errorf("ParseLocation(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && (c.Lat != tt.wantLat || c.Lon != tt.wantLon) {
			t.Errorf("ParseLocation(%q) = %+v, want lat=%v lon=%v", tt.in, c, tt.wantLat, tt.wantLon)
		}
	}
}

func TestCoordinatesKey(t *testing.T) {
	a, _ := ParseLocation("10.5,106.25-Somewhere")
	b, _ := ParseLocation("10.500000,106.250000-Elsewhere")

	if a.Key() != "10.500000,106.250000" {
		t.Fatalf("key = %q", a.Key())
	}
	if a.Key() != b.Key() {
		t.Fatalf("same coordinates gave different keys: %q vs %q", a.Key(), b.Key())
	}
	if got := a.CoordsToList(); got[0] != 106.25 || got[1] != 10.5 {
		t.Fatalf("CoordsToList = %v, want [lon lat]", got)
	}
}
