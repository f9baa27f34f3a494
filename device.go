package onvif

import (
	"context"
	"strconv"
	"time"

	"github.com/juju/errors"
)

// GetDeviceInformation fetches manufacturer, model and firmware details
func (c *DeviceClient) GetDeviceInformation(ctx context.Context) (*DeviceInformation, error) {
	var info DeviceInformation
	op := newOperation(nsDevice, "tds", "GetDeviceInformation")
	if err := c.channel.call(ctx, op, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetHostname fetches the device hostname
func (c *DeviceClient) GetHostname(ctx context.Context) (*HostnameInformation, error) {
	var resp struct {
		HostnameInformation HostnameInformation `xml:"HostnameInformation"`
	}
	op := newOperation(nsDevice, "tds", "GetHostname")
	if err := c.channel.call(ctx, op, &resp); err != nil {
		return nil, err
	}
	return &resp.HostnameInformation, nil
}

// GetSystemDateAndTime fetches the device clock
func (c *DeviceClient) GetSystemDateAndTime(ctx context.Context) (*SystemDateAndTime, error) {
	return getSystemDateAndTime(ctx, c.channel)
}

// SetSystemDateAndTime sets the device clock manually to t in UTC (GMT0).
func (c *DeviceClient) SetSystemDateAndTime(ctx context.Context, t time.Time) error {
	t = t.UTC()

	op := newOperation(nsDevice, "tds", "SetSystemDateAndTime")
	addText(op.body, "tds:DateTimeType", "Manual")
	addText(op.body, "tds:DaylightSavings", "false")
	tz := op.body.CreateElement("tds:TimeZone")
	addText(tz, "tt:TZ", "GMT0")

	utc := op.body.CreateElement("tds:UTCDateTime")
	tm := utc.CreateElement("tt:Time")
	addText(tm, "tt:Hour", strconv.Itoa(t.Hour()))
	addText(tm, "tt:Minute", strconv.Itoa(t.Minute()))
	addText(tm, "tt:Second", strconv.Itoa(t.Second()))
	date := utc.CreateElement("tt:Date")
	addText(date, "tt:Year", strconv.Itoa(t.Year()))
	addText(date, "tt:Month", strconv.Itoa(int(t.Month())))
	addText(date, "tt:Day", strconv.Itoa(t.Day()))

	if err := c.channel.call(ctx, op, nil); err != nil {
		return errors.Annotate(err, "setting date/time")
	}
	return nil
}

// GetCapabilities fetches the capability document for category.
func (c *DeviceClient) GetCapabilities(ctx context.Context, category CapabilityKind) (*Capabilities, error) {
	return getCapabilities(ctx, c.channel, category.category())
}

// ResolveCapability returns the address the device advertises for kind.
func (c *DeviceClient) ResolveCapability(ctx context.Context, kind CapabilityKind) (CapabilityAddress, error) {
	return ResolveCapability(ctx, c.channel, kind)
}

// TimeShift returns the current offset between the device clock and the
// local clock.
func (c *DeviceClient) TimeShift(ctx context.Context) (time.Duration, error) {
	return ResolveTimeShift(ctx, c.channel)
}
