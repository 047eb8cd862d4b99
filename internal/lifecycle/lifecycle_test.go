package lifecycle

import (
	"testing"

	"github.com/wrenchdesk/wrenchdesk/internal/domain"
)

func TestApply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		current      domain.Status
		requested    domain.Status
		want         domain.Status
		wantRejected bool
	}{
		{
			name:      "advance one stage",
			current:   domain.StatusCreated,
			requested: domain.StatusContextVerified,
			want:      domain.StatusContextVerified,
		},
		{
			name:      "skip stages forward",
			current:   domain.StatusCreated,
			requested: domain.StatusEstimated,
			want:      domain.StatusEstimated,
		},
		{
			name:         "regression rejected",
			current:      domain.StatusEstimated,
			requested:    domain.StatusCreated,
			want:         domain.StatusEstimated,
			wantRejected: true,
		},
		{
			name:      "same stage is a no-op",
			current:   domain.StatusDiagnosed,
			requested: domain.StatusDiagnosed,
			want:      domain.StatusDiagnosed,
		},
		{
			name:      "advance to terminal",
			current:   domain.StatusInvoiced,
			requested: domain.StatusClosed,
			want:      domain.StatusClosed,
		},
		{
			name:         "invalid stage rejected",
			current:      domain.StatusDiagnosed,
			requested:    domain.Status(42),
			want:         domain.StatusDiagnosed,
			wantRejected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rejected := Apply(tt.current, tt.requested)
			if got != tt.want {
				t.Errorf("Apply(%v, %v) = %v, want %v", tt.current, tt.requested, got, tt.want)
			}
			if rejected != tt.wantRejected {
				t.Errorf("Apply(%v, %v) rejected = %v, want %v", tt.current, tt.requested, rejected, tt.wantRejected)
			}
		})
	}
}

func TestApplySequenceIsNonDecreasing(t *testing.T) {
	t.Parallel()

	requests := []domain.Status{
		domain.StatusDiagnosed,
		domain.StatusCreated,
		domain.StatusEstimated,
		domain.StatusContextVerified,
		domain.StatusEstimated,
		domain.StatusClosed,
	}

	current := domain.StatusCreated
	prev := current
	for _, req := range requests {
		current, _ = Apply(current, req)
		if current < prev {
			t.Fatalf("status regressed from %v to %v", prev, current)
		}
		prev = current
	}
	if current != domain.StatusClosed {
		t.Errorf("final status = %v, want CLOSED", current)
	}
}

func TestApplyIdempotentReplay(t *testing.T) {
	t.Parallel()

	first, rejected := Apply(domain.StatusCreated, domain.StatusDiagnosed)
	if rejected || first != domain.StatusDiagnosed {
		t.Fatalf("first apply = %v (rejected=%v)", first, rejected)
	}
	second, rejected := Apply(first, domain.StatusDiagnosed)
	if rejected {
		t.Error("replaying the same stage should not report a regression")
	}
	if second != first {
		t.Errorf("replay changed status from %v to %v", first, second)
	}
}

func TestParseStatusRoundTrip(t *testing.T) {
	t.Parallel()

	for s := domain.StatusCreated; s <= domain.StatusClosed; s++ {
		parsed, err := domain.ParseStatus(s.String())
		if err != nil {
			t.Fatalf("ParseStatus(%q) failed: %v", s.String(), err)
		}
		if parsed != s {
			t.Errorf("ParseStatus(%q) = %v, want %v", s.String(), parsed, s)
		}
	}
	if _, err := domain.ParseStatus("REOPENED"); err == nil {
		t.Error("expected error for unknown status name")
	}
}
