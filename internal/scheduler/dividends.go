package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/atmx/paper-broker/internal/model"
)

// Accruer credits one day of dividends to every session.
type Accruer interface {
	AccrueAll(ctx context.Context, today time.Time) (int, error)
}

// DividendJob accrues daily dividends across all sessions. Running it more
// than once on the same date credits nothing further.
type DividendJob struct {
	parent  context.Context
	accruer Accruer
	timeout time.Duration
	now     func() time.Time
}

// NewDividendJob creates the daily accrual job. Each run stops when ctx is
// cancelled. A zero timeout means no deadline.
func NewDividendJob(ctx context.Context, a Accruer, timeout time.Duration) *DividendJob {
	return &DividendJob{
		parent:  ctx,
		accruer: a,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (j *DividendJob) Name() string { return "dividend_accrual" }

func (j *DividendJob) Run() error {
	ctx := j.parent
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	today := j.now()
	n, err := j.accruer.AccrueAll(ctx, today)
	if err != nil {
		return err
	}
	slog.Info("dividends accrued", "date", today.Format(model.DateFormat), "credits", n)
	return nil
}
