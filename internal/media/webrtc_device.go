package media

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/rs/xid"
)

// DecodedSampleRate is the rate of PCM produced from WebRTC audio.
const DecodedSampleRate = 16000

// WebRTCDevice receives the client's microphone (and optionally camera) over
// a WebRTC peer connection. Each Open consumes one SDP offer.
type WebRTCDevice struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewWebRTCDevice creates a device that negotiates Opus audio and VP8 video.
func NewWebRTCDevice(config webrtc.Configuration) *WebRTCDevice {
	me := &webrtc.MediaEngine{}
	_ = me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio)
	_ = me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo)

	return &WebRTCDevice{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(me)),
		config: config,
	}
}

// Open answers the offer and returns tracks that start producing once the
// remote side begins sending media.
func (d *WebRTCDevice) Open(ctx context.Context, c Constraints) (*Stream, error) {
	if c.Offer == "" {
		return nil, fmt.Errorf("%w: client did not offer any media", ErrPermissionDenied)
	}
	if !strings.Contains(c.Offer, "m=audio") {
		return nil, fmt.Errorf("%w: offer has no audio", ErrDeviceUnavailable)
	}
	if c.Video && !strings.Contains(c.Offer, "m=video") {
		return nil, fmt.Errorf("%w: offer has no video", ErrDeviceUnavailable)
	}

	pc, err := d.api.NewPeerConnection(d.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	audio := NewTrack("mic-"+xid.New().String(), KindAudio, DecodedSampleRate, webrtc.MimeTypeOpus)
	tracks := []*Track{audio}
	var video *Track
	if c.Video {
		video = NewTrack("cam-"+xid.New().String(), KindVideo, 0, webrtc.MimeTypeVP8)
		tracks = append(tracks, video)
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if kind == webrtc.RTPCodecTypeVideo && video == nil {
			continue
		}
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		switch {
		case remote.Kind() == webrtc.RTPCodecTypeAudio:
			go pumpAudio(remote, audio)
		case remote.Kind() == webrtc.RTPCodecTypeVideo && video != nil:
			go pumpVideo(remote, video)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			for _, t := range tracks {
				t.End()
			}
		}
	})

	answer, err := negotiate(ctx, pc, c.Offer)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	return &Stream{Tracks: tracks, Answer: answer, Close: pc.Close}, nil
}

func negotiate(ctx context.Context, pc *webrtc.PeerConnection, offerSDP string) (string, error) {
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return pc.LocalDescription().SDP, nil
}

func pumpAudio(remote *webrtc.TrackRemote, track *Track) {
	defer track.End()
	dec := newOpusDecoder()
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		track.WriteRTP(pkt)

		samples, err := dec.Decode(pkt.Payload)
		if err != nil {
			slog.Debug("opus decode failed", slog.String("track_id", track.ID()), slog.String("error", err.Error()))
			continue
		}
		track.WritePCM(samples)
	}
}

func pumpVideo(remote *webrtc.TrackRemote, track *Track) {
	defer track.End()
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			slog.Debug("video track ended", slog.String("track_id", track.ID()))
			return
		}
		track.WriteRTP(pkt)
	}
}
