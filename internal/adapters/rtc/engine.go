// Package rtc implements core.MediaTransport on pion/webrtc. It owns
// the codec registries: one audio-only engine for voice rooms, one
// audio+video engine for screen-share rooms.
package rtc

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type EngineConfig struct {
	STUNServer string
	PublicIP   string
	// PreferH264 registers H.264 ahead of VP8 on the screen engine and
	// mints H.264 forwarding tracks for viewers.
	PreferH264 bool
}

// Engine holds the two pion API instances and the capabilities used to
// mint forwarding tracks. It implements core.TransportFactory.
type Engine struct {
	voiceAPI  *webrtc.API
	screenAPI *webrtc.API
	config    webrtc.Configuration

	audioCap webrtc.RTPCodecCapability
	videoCap webrtc.RTPCodecCapability
}

var (
	voiceOpus = webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1;usedtx=1;maxaveragebitrate=128000",
	}
	screenOpus = webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	}
	screenVP8 = webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}
	screenH264 = webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeH264,
		ClockRate:   90000,
		SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f",
	}
)

func NewEngine(cfg EngineConfig) (*Engine, error) {
	voiceAPI, err := buildVoiceAPI(cfg)
	if err != nil {
		return nil, fmt.Errorf("voice engine: %w", err)
	}
	screenAPI, err := buildScreenAPI(cfg)
	if err != nil {
		return nil, fmt.Errorf("screen engine: %w", err)
	}

	var iceServers []webrtc.ICEServer
	if cfg.STUNServer != "" {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{cfg.STUNServer}})
	}

	e := &Engine{
		voiceAPI:  voiceAPI,
		screenAPI: screenAPI,
		config:    webrtc.Configuration{ICEServers: iceServers},
		audioCap:  screenOpus,
		videoCap:  screenVP8,
	}
	if cfg.PreferH264 {
		e.videoCap = screenH264
	}
	log.Info().Str("module", "rtc").
		Str("stun", cfg.STUNServer).
		Bool("prefer_h264", cfg.PreferH264).
		Msg("media engines ready")
	return e, nil
}

// buildVoiceAPI registers Opus only, with NACK generation and response
// for loss recovery. Voice rooms never carry video.
func buildVoiceAPI(cfg EngineConfig) (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: voiceOpus,
		PayloadType:        111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}

	ir := &interceptor.Registry{}
	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, err
	}
	ir.Add(responder)
	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, err
	}
	ir.Add(generator)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(settingEngine(cfg)),
	), nil
}

// buildScreenAPI registers the video codec (VP8, optionally preceded by
// H.264) plus Opus, explicit NACK interceptors for retransmission, and
// pion's default interceptor set for the rest (RTCP reports, TWCC).
func buildScreenAPI(cfg EngineConfig) (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}

	videoCodecs := []webrtc.RTPCodecParameters{
		{RTPCodecCapability: screenVP8, PayloadType: 96},
	}
	if cfg.PreferH264 {
		videoCodecs = []webrtc.RTPCodecParameters{
			{RTPCodecCapability: screenH264, PayloadType: 102},
			{RTPCodecCapability: screenVP8, PayloadType: 96},
		}
	}
	for _, c := range videoCodecs {
		if err := me.RegisterCodec(c, webrtc.RTPCodecTypeVideo); err != nil {
			return nil, err
		}
	}
	if err := me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: screenOpus,
		PayloadType:        111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}

	ir := &interceptor.Registry{}
	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, err
	}
	ir.Add(responder)
	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, err
	}
	ir.Add(generator)
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(settingEngine(cfg)),
	), nil
}

func settingEngine(cfg EngineConfig) webrtc.SettingEngine {
	se := webrtc.SettingEngine{}
	if cfg.PublicIP != "" {
		se.SetNAT1To1IPs([]string{cfg.PublicIP}, webrtc.ICECandidateTypeHost)
	}
	return se
}
