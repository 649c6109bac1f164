package transcribe

// Fraction is the share of the audio covered once a segment ending at end
// has been produced. It is bounded to [0, 1] and is 0 when the duration is
// unknown.
func Fraction(end, duration float64) float64 {
	if duration <= 0 || end <= 0 {
		return 0
	}
	f := end / duration
	if f > 1 {
		return 1
	}
	return f
}
