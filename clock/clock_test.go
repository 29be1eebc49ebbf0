package clock

import "testing"

func TestSinceWrap(t *testing.T) {
	tests := []struct {
		name string
		now  uint32
		then uint32
		want uint32
	}{
		{"simple", 5000, 2000, 3000},
		{"zero", 1234, 1234, 0},
		{"wrap", 100, 0xFFFFFF9C, 200},
		{"wrap exact boundary", 0, 0xFFFFFFFF, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Since(tt.now, tt.then); got != tt.want {
				t.Errorf("Since(%d, %d) = %d, want %d", tt.now, tt.then, got, tt.want)
			}
		})
	}
}

func TestDeadline(t *testing.T) {
	tests := []struct {
		name string
		now  uint32
		at   uint32
		want bool
	}{
		{"not yet", 1000, 2000, false},
		{"exactly", 2000, 2000, true},
		{"passed", 3000, 2000, true},
		{"passed across wrap", 50, 0xFFFFFFF0, true},
		{"pending across wrap", 0xFFFFFFF0, 50, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Deadline(tt.now, tt.at); got != tt.want {
				t.Errorf("Deadline(%d, %d) = %v, want %v", tt.now, tt.at, got, tt.want)
			}
		})
	}
}

func TestSeqNewer(t *testing.T) {
	tests := []struct {
		name string
		a    uint32
		b    uint32
		want bool
	}{
		{"newer", 10, 5, true},
		{"older", 5, 10, false},
		{"equal", 7, 7, false},
		{"newer across wrap", 3, 0xFFFFFFFE, true},
		{"older across wrap", 0xFFFFFFFE, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SeqNewer(tt.a, tt.b); got != tt.want {
				t.Errorf("SeqNewer(%d, %d) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestFakeClock(t *testing.T) {
	f := NewFake(100)
	if f.NowMS() != 100 {
		t.Fatalf("NowMS = %d, want 100", f.NowMS())
	}
	f.Advance(250)
	if f.NowMS() != 350 {
		t.Fatalf("NowMS after Advance = %d, want 350", f.NowMS())
	}
	f.Set(0xFFFFFFFF)
	f.Advance(1)
	if f.NowMS() != 0 {
		t.Fatalf("NowMS after wrap = %d, want 0", f.NowMS())
	}
}
