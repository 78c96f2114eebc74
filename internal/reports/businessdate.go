// Package reports holds the pure calendar logic shared by the report
// scheduler and the morning message recovery: the assignment of events to
// business dates.
//
// A business date is the calendar date an activity belongs to, using a
// 05:00-local day boundary instead of midnight. An entry logged at 01:30 on
// the 2nd still belongs to the evening of the 1st.
package reports

import (
	"fmt"
	"time"

	"daybook/internal/types"
)

// BoundaryHour is the local hour at which one business day rolls over to the
// next.
const BoundaryHour = 5

// BusinessDate converts the timestamp into the given timezone's local
// wall-clock time and returns the calendar date it belongs to, shifting
// timestamps before the 05:00 boundary onto the previous day. The returned
// time is midnight UTC of the business date; only the date component is
// meaningful.
//
// The only failure mode is an unloadable IANA timezone name.
func BusinessDate(t time.Time, timezone string) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, types.NewAppError(types.ErrCodeValidationInvalidTimezone,
			fmt.Sprintf("unknown timezone %q", timezone), err)
	}

	local := t.In(loc)
	if local.Hour() < BoundaryHour {
		local = local.AddDate(0, 0, -1)
	}
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC), nil
}
