package onvif

import (
	"context"

	"github.com/juju/errors"
)

// GetImagingSettings retrieves the imaging settings of a video source
func (c *ImagingClient) GetImagingSettings(ctx context.Context, videoSourceToken string) (*ImagingSettings, error) {
	var resp struct {
		ImagingSettings ImagingSettings `xml:"ImagingSettings"`
	}
	op := newOperation(nsImaging, "timg", "GetImagingSettings")
	addText(op.body, "timg:VideoSourceToken", videoSourceToken)
	if err := c.channel.call(ctx, op, &resp); err != nil {
		return nil, errors.Annotate(err, "getting imaging settings")
	}

	settings := resp.ImagingSettings
	settings.VideoSourceToken = videoSourceToken
	return &settings, nil
}

// SetIrCutFilter sets the IR cut filter (day/night) mode of a video source
func (c *ImagingClient) SetIrCutFilter(ctx context.Context, videoSourceToken string, mode IrCutFilterMode) error {
	switch mode {
	case IrCutFilterOn, IrCutFilterOff, IrCutFilterAuto:
	default:
		return errors.NotValidf("IR cut filter mode %q", mode)
	}

	op := newOperation(nsImaging, "timg", "SetImagingSettings")
	addText(op.body, "timg:VideoSourceToken", videoSourceToken)
	settings := op.body.CreateElement("timg:ImagingSettings")
	addText(settings, "tt:IrCutFilter", string(mode))
	addText(op.body, "timg:ForcePersistence", "true")

	if err := c.channel.call(ctx, op, nil); err != nil {
		return errors.Annotate(err, "setting IR cut filter")
	}
	return nil
}
