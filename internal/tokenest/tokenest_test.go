package tokenest

import "testing"

func TestByteRatio(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abcd", 1},
		{"abcdefgh", 2},
		{"abc", 0},
	}
	for _, c := range cases {
		if got := Estimate(MethodByteRatio, c.in); got != c.want {
			t.Errorf("Estimate(byte-ratio, %q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestCharRatio(t *testing.T) {
	// Multi-byte runes should count as one character each, not one per byte.
	in := "日本語日" // 4 runes, 12 bytes in UTF-8
	if got := Estimate(MethodCharRatio, in); got != 1 {
		t.Errorf("Estimate(char-ratio, %q) = %d, want 1", in, got)
	}
}

func TestUnknownMethodFallsBackToByteRatio(t *testing.T) {
	in := "abcdefgh"
	if got := Estimate(Method("bogus"), in); got != byteRatio(in) {
		t.Errorf("Estimate(bogus) = %d, want %d", got, byteRatio(in))
	}
}

func TestIsValid(t *testing.T) {
	for _, m := range []Method{MethodAccurateBPE, MethodByteRatio, MethodCharRatio} {
		if !m.IsValid() {
			t.Errorf("%q should be valid", m)
		}
	}
	if Method("nope").IsValid() {
		t.Error(`"nope" should not be valid`)
	}
}

func TestEstimateMonotonicAcrossStream(t *testing.T) {
	// The estimator contract is monotonic-across-a-stream: concatenating
	// fragments should never decrease the running total relative to
	// estimating each fragment independently and summing.
	fragments := []string{"hello world", "", "another chunk of text", "x"}
	sum := 0
	for _, f := range fragments {
		sum += Estimate(MethodByteRatio, f)
	}
	whole := Estimate(MethodByteRatio, fragments[0]+fragments[1]+fragments[2]+fragments[3])
	if whole < sum-len(fragments) {
		t.Errorf("whole estimate %d unexpectedly far below summed estimate %d", whole, sum)
	}
}
