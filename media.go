package onvif

import (
	"context"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// GetProfiles fetches all media profiles
func (c *MediaClient) GetProfiles(ctx context.Context) ([]Profile, error) {
	var resp struct {
		Profiles []Profile `xml:"Profiles"`
	}
	op := newOperation(nsMedia, "trt", "GetProfiles")
	if err := c.channel.call(ctx, op, &resp); err != nil {
		return nil, errors.Annotate(err, "getting profiles")
	}
	return resp.Profiles, nil
}

// GetStreamUri retrieves the RTSP stream URI for a given profile token
func (c *MediaClient) GetStreamUri(ctx context.Context, profileToken string) (string, error) {
	var resp struct {
		MediaUri struct {
			Uri string `xml:"Uri"`
		} `xml:"MediaUri"`
	}

	op := newOperation(nsMedia, "trt", "GetStreamUri")
	setup := op.body.CreateElement("trt:StreamSetup")
	addText(setup, "tt:Stream", "RTP-Unicast")
	transport := setup.CreateElement("tt:Transport")
	addText(transport, "tt:Protocol", "RTSP")
	addText(op.body, "trt:ProfileToken", profileToken)

	if err := c.channel.call(ctx, op, &resp); err != nil {
		return "", errors.Annotate(err, "getting stream URI")
	}
	if resp.MediaUri.Uri == "" {
		return "", errors.NotFoundf("stream URI for profile %q", profileToken)
	}
	return resp.MediaUri.Uri, nil
}

// GetVideoSources fetches the physical video inputs
func (c *MediaClient) GetVideoSources(ctx context.Context) ([]VideoSource, error) {
	var resp struct {
		VideoSources []VideoSource `xml:"VideoSources"`
	}
	op := newOperation(nsMedia, "trt", "GetVideoSources")
	if err := c.channel.call(ctx, op, &resp); err != nil {
		return nil, errors.Annotate(err, "getting video sources")
	}
	return resp.VideoSources, nil
}

// StreamProfiles fetches every profile with a video encoder together with
// its stream URI
func (c *MediaClient) StreamProfiles(ctx context.Context) ([]StreamConfig, error) {
	profiles, err := c.GetProfiles(ctx)
	if err != nil {
		return nil, err
	}

	var streams []StreamConfig
	for _, profile := range profiles {
		enc := profile.VideoEncoderConfiguration
		if enc == nil || enc.Token == "" {
			continue // Skip profiles without video configuration
		}

		// A profile without a stream URI is still reported.
		uri, err := c.GetStreamUri(ctx, profile.Token)
		if err != nil && !errors.Is(err, errors.NotFound) {
			return nil, err
		}

		quality := "Sub"
		if enc.Resolution.Width >= 1280 {
			quality = "Main"
		}

		streams = append(streams, StreamConfig{
			ProfileName:  profile.Name,
			ProfileToken: profile.Token,
			EncoderToken: enc.Token,
			Resolution:   enc.Resolution,
			Framerate:    enc.RateControl.FrameRateLimit,
			Bitrate:      enc.RateControl.BitrateLimit,
			Encoding:     enc.Encoding,
			StreamURI:    uri,
			Quality:      quality,
		})
	}
	return streams, nil
}

// SetVideoEncoderConfiguration updates a video encoder configuration
func (c *MediaClient) SetVideoEncoderConfiguration(ctx context.Context, encoderToken string, config StreamUpdateConfig) error {
	op := newOperation(nsMedia, "trt", "SetVideoEncoderConfiguration")
	cfg := op.body.CreateElement("trt:Configuration")
	cfg.CreateAttr("token", encoderToken)
	addText(cfg, "tt:Name", encoderToken)
	addText(cfg, "tt:UseCount", "0")
	addText(cfg, "tt:Encoding", config.Encoding)
	res := cfg.CreateElement("tt:Resolution")
	addText(res, "tt:Width", strconv.Itoa(config.Resolution.Width))
	addText(res, "tt:Height", strconv.Itoa(config.Resolution.Height))
	addText(cfg, "tt:Quality", "3.0")
	rate := cfg.CreateElement("tt:RateControl")
	addText(rate, "tt:FrameRateLimit", strconv.Itoa(config.Framerate))
	addText(rate, "tt:EncodingInterval", "1")
	addText(rate, "tt:BitrateLimit", strconv.Itoa(config.Bitrate))
	addText(op.body, "trt:ForcePersistence", "true")

	if err := c.channel.call(ctx, op, nil); err != nil {
		return errors.Annotate(err, "updating encoder configuration")
	}
	return nil
}

// UpdateSubStream finds the sub stream and applies config to its encoder
func (c *MediaClient) UpdateSubStream(ctx context.Context, config StreamUpdateConfig) error {
	streams, err := c.StreamProfiles(ctx)
	if err != nil {
		return err
	}

	for _, s := range streams {
		if IsSubStream(s) {
			return c.SetVideoEncoderConfiguration(ctx, s.EncoderToken, config)
		}
	}
	return errors.NotFoundf("sub stream")
}

// IsMainStream checks if a stream configuration is likely the main stream
func IsMainStream(config StreamConfig) bool {
	return config.Quality == "Main" ||
		strings.Contains(strings.ToLower(config.ProfileName), "main") ||
		strings.Contains(strings.ToLower(config.ProfileName), "stream1")
}

// IsSubStream checks if a stream configuration is likely the sub stream
func IsSubStream(config StreamConfig) bool {
	return config.Quality == "Sub" ||
		strings.Contains(strings.ToLower(config.ProfileName), "sub") ||
		strings.Contains(strings.ToLower(config.ProfileName), "stream2")
}
