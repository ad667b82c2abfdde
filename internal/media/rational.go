package media

// Rational is a numerator/denominator pair used for time bases and frame rates.
type Rational struct {
	Num int
	Den int
}

// NewRational keeps a zero denominator as-is so callers can detect
// missing container fields with Valid.
func NewRational(num, den int) Rational {
	return Rational{Num: num, Den: den}
}

// Valid reports whether both terms are non-zero.
func (r Rational) Valid() bool {
	return r.Num != 0 && r.Den != 0
}

func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) Invert() Rational {
	return Rational{Num: r.Den, Den: r.Num}
}

// Common time bases and frame rates.
var (
	TimeBase90kHz = Rational{Num: 1, Den: 90000}
	TimeBase1kHz  = Rational{Num: 1, Den: 1000}
	TimeBase48kHz = Rational{Num: 1, Den: 48000}

	FrameRate24     = Rational{Num: 24, Den: 1}
	FrameRate25     = Rational{Num: 25, Den: 1}
	FrameRate30     = Rational{Num: 30, Den: 1}
	FrameRate29_97  = Rational{Num: 30000, Den: 1001}
	FrameRate23_976 = Rational{Num: 24000, Den: 1001}
)
