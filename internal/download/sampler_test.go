package download

import "testing"

func TestSamplerPercentSteps(t *testing.T) {
	s := NewSampler(25, 0)
	const total = 1000
	var shown []int64
	for downloaded := int64(100); downloaded <= total; downloaded += 100 {
		p := Progress{Filename: "a.thor", Downloaded: downloaded, Total: total, Percentage: float64(downloaded) / total * 100}
		if s.Sample(p) {
			shown = append(shown, downloaded)
		}
	}
	want := []int64{100, 300, 500, 800, 1000}
	if len(shown) != len(want) {
		t.Fatalf("shown = %v, want %v", shown, want)
	}
	for i := range want {
		if shown[i] != want[i] {
			t.Fatalf("shown = %v, want %v", shown, want)
		}
	}
	if s.Sample(Progress{Filename: "a.thor", Downloaded: total, Total: total, Percentage: 100}) {
		t.Fatal("completion should be shown once")
	}
}

func TestSamplerUnknownTotalUsesByteStep(t *testing.T) {
	s := NewSampler(0, 1024)
	cases := []struct {
		downloaded int64
		want       bool
	}{
		{100, true},
		{900, false},
		{1024, true},
		{2000, false},
		{5000, true},
		{5100, false},
	}
	for _, tc := range cases {
		if got := s.Sample(Progress{Filename: "b.zip", Downloaded: tc.downloaded}); got != tc.want {
			t.Fatalf("Sample(%d) = %v, want %v", tc.downloaded, got, tc.want)
		}
	}
}

func TestSamplerRestartsOnNewFileAndRetry(t *testing.T) {
	s := NewSampler(50, 0)
	p := Progress{Filename: "a.thor", Downloaded: 10, Total: 100, Percentage: 10}
	if !s.Sample(p) {
		t.Fatal("first update should be shown")
	}
	p.Downloaded, p.Percentage = 20, 20
	if s.Sample(p) {
		t.Fatal("update below the next step should be hidden")
	}
	p.Downloaded, p.Percentage = 5, 5
	if !s.Sample(p) {
		t.Fatal("retry restart should be shown")
	}
	if !s.Sample(Progress{Filename: "b.thor", Downloaded: 30, Total: 100, Percentage: 30}) {
		t.Fatal("new file should be shown")
	}
}

func TestNilSamplerPassesEverything(t *testing.T) {
	var s *Sampler
	if !s.Sample(Progress{}) {
		t.Fatal("nil sampler should pass")
	}
}
