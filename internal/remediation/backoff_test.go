package remediation

import (
	"testing"
	"time"
)

func TestBackoffPolicy_DoublesUpToCap(t *testing.T) {
	t.Parallel()

	p := BackoffPolicy{Base: 2 * time.Second, Cap: 30 * time.Second, Jitter: 0}
	bo := p.newBackOff()

	want := []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
		30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		got := bo.NextBackOff()
		if got != w {
			t.Errorf("delay %d = %v, want %v", i+1, got, w)
		}
	}
}

func TestBackoffPolicy_JitterStaysBounded(t *testing.T) {
	t.Parallel()

	p := BackoffPolicy{Base: time.Second, Cap: 8 * time.Second, Jitter: 0.5}
	bo := p.newBackOff()

	for i := 0; i < 10; i++ {
		d := bo.NextBackOff()
		if d < 0 || d > 12*time.Second {
			t.Errorf("delay %d = %v, outside jittered bounds", i+1, d)
		}
	}
}

func TestBackoffPolicy_SequencesIndependent(t *testing.T) {
	t.Parallel()

	p := BackoffPolicy{Base: time.Second, Cap: time.Minute, Jitter: 0}
	a := p.newBackOff()
	a.NextBackOff()
	a.NextBackOff()

	b := p.newBackOff()
	if got := b.NextBackOff(); got != time.Second {
		t.Errorf("fresh sequence first delay = %v, want base", got)
	}
}
