package periods

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPeriodLocked wraps every rejection caused by a closed period.
	ErrPeriodLocked = errors.New("periods: period locked")
	// ErrInvalidPeriod indicates a fiscal year or month out of range.
	ErrInvalidPeriod = errors.New("periods: invalid fiscal period")
)

// Lock is the lock state of one fiscal period. Fiscal years follow the
// calendar year and periods are months 1 to 12.
type Lock struct {
	FiscalYear int
	Period     int
	IsLocked   bool
	LockedAt   *time.Time
	LockedBy   string
	UpdatedAt  time.Time
}

// Validate checks the fiscal coordinates.
func (l Lock) Validate() error {
	if l.FiscalYear < 1900 || l.FiscalYear > 9999 {
		return fmt.Errorf("%w: fiscal year %d", ErrInvalidPeriod, l.FiscalYear)
	}
	if l.Period < 1 || l.Period > 12 {
		return fmt.Errorf("%w: period %d", ErrInvalidPeriod, l.Period)
	}
	return nil
}

// EndDate is the last calendar day of the period.
func (l Lock) EndDate() time.Time {
	return time.Date(l.FiscalYear, time.Month(l.Period)+1, 0, 0, 0, 0, 0, time.UTC)
}

// LockStatus answers whether a date falls into a closed period.
type LockStatus struct {
	Locked      bool
	LockedUntil *time.Time
}

// Evaluate derives the lock watermark from locks and compares date with it.
// The watermark is the latest end date among locked periods; every date on
// or before it is locked, including dates in earlier periods that were never
// locked explicitly.
func Evaluate(locks []Lock, date time.Time) LockStatus {
	var watermark *time.Time
	for _, l := range locks {
		if !l.IsLocked {
			continue
		}
		end := l.EndDate()
		if watermark == nil || end.After(*watermark) {
			watermark = &end
		}
	}
	if watermark == nil {
		return LockStatus{}
	}
	day := dateOnly(date)
	return LockStatus{Locked: !day.After(*watermark), LockedUntil: watermark}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// LockedError reports a mutation rejected by a period lock.
type LockedError struct {
	Date        time.Time
	LockedUntil time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("periods: %s falls in a locked period (locked until %s)",
		e.Date.Format("2006-01-02"), e.LockedUntil.Format("2006-01-02"))
}

func (e *LockedError) Is(target error) bool {
	return target == ErrPeriodLocked
}
