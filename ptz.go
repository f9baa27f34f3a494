package onvif

import (
	"context"

	"github.com/juju/errors"
)

// GetNodes lists the PTZ nodes of the device.
func (c *PTZClient) GetNodes(ctx context.Context) ([]PTZNode, error) {
	var resp struct {
		Nodes []PTZNode `xml:"PTZNode"`
	}
	op := newOperation(nsPTZ, "tptz", "GetNodes")
	if err := c.channel.call(ctx, op, &resp); err != nil {
		return nil, errors.Annotate(err, "getting PTZ nodes")
	}
	return resp.Nodes, nil
}

// GetConfigurations lists the PTZ configurations.
func (c *PTZClient) GetConfigurations(ctx context.Context) ([]PTZConfiguration, error) {
	var resp struct {
		Configurations []PTZConfiguration `xml:"PTZConfiguration"`
	}
	op := newOperation(nsPTZ, "tptz", "GetConfigurations")
	if err := c.channel.call(ctx, op, &resp); err != nil {
		return nil, errors.Annotate(err, "getting PTZ configurations")
	}
	return resp.Configurations, nil
}

// GetStatus returns position and move state for a media profile.
func (c *PTZClient) GetStatus(ctx context.Context, profileToken string) (*PTZStatus, error) {
	var resp struct {
		Status PTZStatus `xml:"PTZStatus"`
	}
	op := newOperation(nsPTZ, "tptz", "GetStatus")
	addText(op.body, "tptz:ProfileToken", profileToken)
	if err := c.channel.call(ctx, op, &resp); err != nil {
		return nil, errors.Annotate(err, "getting PTZ status")
	}
	return &resp.Status, nil
}

// Stop halts any pan/tilt and zoom movement on a media profile.
func (c *PTZClient) Stop(ctx context.Context, profileToken string) error {
	op := newOperation(nsPTZ, "tptz", "Stop")
	addText(op.body, "tptz:ProfileToken", profileToken)
	addText(op.body, "tptz:PanTilt", "true")
	addText(op.body, "tptz:Zoom", "true")
	if err := c.channel.call(ctx, op, nil); err != nil {
		return errors.Annotate(err, "stopping PTZ")
	}
	return nil
}
