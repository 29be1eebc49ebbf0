package game

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBoundedSentinel(t *testing.T) {
	if !Infinite.IsInfinite() {
		t.Error("Infinite.IsInfinite() = false")
	}
	if Bounded(0).IsInfinite() || Bounded(99).IsInfinite() {
		t.Error("finite values report infinite")
	}
}

func TestClampInt(t *testing.T) {
	tests := []struct {
		name        string
		v, lo, hi   int
		want        int
		wantClamped bool
	}{
		{"inside", 5, 1, 10, 5, false},
		{"at lower", 1, 1, 10, 1, false},
		{"at upper", 10, 1, 10, 10, false},
		{"below", 0, 1, 10, 1, true},
		{"above", 11, 1, 10, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clamped := false
			got := clampInt(tt.v, tt.lo, tt.hi, &clamped)
			if got != tt.want || clamped != tt.wantClamped {
				t.Errorf("clampInt(%d, %d, %d) = (%d, %v), want (%d, %v)",
					tt.v, tt.lo, tt.hi, got, clamped, tt.want, tt.wantClamped)
			}
		})
	}
}

func TestClampBoundedPassesSentinel(t *testing.T) {
	clamped := false
	if got := clampBounded(-1, 1, 99, &clamped); !got.IsInfinite() || clamped {
		t.Errorf("clampBounded(-1) = (%d, clamped=%v)", got, clamped)
	}
	if got := clampBounded(-2, 1, 99, &clamped); got != 1 || !clamped {
		t.Errorf("clampBounded(-2) = (%d, clamped=%v), want (1, true)", got, clamped)
	}
}

func TestLoadDefaultRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := "max_hearts: 10\nteam_play: true\nvolume: 40\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := LoadDefaultRules(path)
	if err != nil {
		t.Fatal(err)
	}
	if r.MaxHearts != 10 || !r.TeamPlay || r.Volume != 40 {
		t.Errorf("loaded rules = %+v", r)
	}
	// Fields absent from the file keep factory values.
	if r.ShotRateLimitMS != DefaultRules().ShotRateLimitMS {
		t.Errorf("ShotRateLimitMS = %d, want factory %d", r.ShotRateLimitMS, DefaultRules().ShotRateLimitMS)
	}
}

func TestLoadDefaultRulesMissingFile(t *testing.T) {
	r, err := LoadDefaultRules(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	// The factory rules still come back usable.
	if r.MaxHearts != DefaultRules().MaxHearts {
		t.Errorf("fallback rules = %+v", r)
	}
}
