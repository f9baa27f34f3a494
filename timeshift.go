package onvif

import (
	"context"
	"time"

	"github.com/juju/errors"
)

// TimeShiftResolver computes the offset between a device clock and the
// local clock. The zero value uses time.Now.
type TimeShiftResolver struct {
	Now func() time.Time
}

// ResolveTimeShift queries GetSystemDateAndTime over ch, which need not be
// authenticated, and returns device UTC minus local UTC.
func ResolveTimeShift(ctx context.Context, ch *Channel) (time.Duration, error) {
	return TimeShiftResolver{}.Resolve(ctx, ch)
}

// Resolve performs a single query; retrying is left to the caller.
func (r TimeShiftResolver) Resolve(ctx context.Context, ch *Channel) (time.Duration, error) {
	dt, err := getSystemDateAndTime(ctx, ch)
	if err != nil {
		return 0, err
	}
	if dt.UTCDateTime == nil {
		return 0, errors.NotValidf("device %s reported no UTC date and time", ch.Address())
	}
	if !dt.UTCDateTime.valid() {
		return 0, errors.NotValidf("device %s reported UTC date %04d-%02d-%02d", ch.Address(),
			dt.UTCDateTime.Date.Year, dt.UTCDateTime.Date.Month, dt.UTCDateTime.Date.Day)
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return dt.UTCDateTime.UTC().Sub(now().UTC()), nil
}

func getSystemDateAndTime(ctx context.Context, ch *Channel) (*SystemDateAndTime, error) {
	var resp struct {
		SystemDateAndTime SystemDateAndTime `xml:"SystemDateAndTime"`
	}
	op := newOperation(nsDevice, "tds", "GetSystemDateAndTime")
	if err := ch.call(ctx, op, &resp); err != nil {
		return nil, err
	}
	return &resp.SystemDateAndTime, nil
}
