package download

// defaultByteStep spaces samples when the server sends no Content-Length.
const defaultByteStep = 8 << 20

// Sampler thins a progress stream for line-oriented output. It passes the
// first update of each transfer, every crossing of a percentage step, the
// final update, and every byteStep bytes when the total is unknown. A
// transfer restarts when the filename changes or the byte count goes back,
// as it does on retry.
type Sampler struct {
	percentStep float64
	byteStep    int64

	file      string
	last      int64
	next      float64
	nextBytes int64
	done      bool
}

// NewSampler returns a sampler. Non-positive steps select 10% and 8 MiB.
func NewSampler(percentStep float64, byteStep int64) *Sampler {
	if percentStep <= 0 {
		percentStep = 10
	}
	if byteStep <= 0 {
		byteStep = defaultByteStep
	}
	return &Sampler{percentStep: percentStep, byteStep: byteStep}
}

// Sample reports whether p should be shown. A nil sampler passes everything.
func (s *Sampler) Sample(p Progress) bool {
	if s == nil {
		return true
	}
	if p.Filename != s.file || p.Downloaded < s.last {
		s.file = p.Filename
		s.last = p.Downloaded
		s.next = s.percentStep
		s.nextBytes = s.byteStep
		s.done = false
		return true
	}
	s.last = p.Downloaded

	if p.Total > 0 {
		if p.Downloaded >= p.Total {
			if s.done {
				return false
			}
			s.done = true
			return true
		}
		if p.Percentage < s.next {
			return false
		}
		for s.next <= p.Percentage {
			s.next += s.percentStep
		}
		return true
	}

	if p.Downloaded < s.nextBytes {
		return false
	}
	for s.nextBytes <= p.Downloaded {
		s.nextBytes += s.byteStep
	}
	return true
}
