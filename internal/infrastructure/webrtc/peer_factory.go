package webrtc

import (
	"fmt"

	"roomcast/internal/core/ports"
	"roomcast/pkg/config"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// FactoryConfig WebRTC configuration
type FactoryConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// FactoryConfigFrom reads the WebRTC settings from cfg.
func FactoryConfigFrom(cfg *config.Config) FactoryConfig {
	var fc FactoryConfig
	for _, s := range cfg.WebRTC.ICEServers {
		fc.ICEServers = append(fc.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	fc.PortRange.Min = cfg.WebRTC.PortRange.Min
	fc.PortRange.Max = cfg.WebRTC.PortRange.Max
	return fc
}

// PeerFactory builds pion PeerConnections sharing one API instance.
type PeerFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
	logger *zap.SugaredLogger
}

var _ ports.PeerConnectionFactory = (*PeerFactory)(nil)

// NewPeerFactory creates a factory sharing one pion API.
func NewPeerFactory(cfg FactoryConfig, logger *zap.SugaredLogger) (*PeerFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}

	return &PeerFactory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithSettingEngine(settingEngine),
		),
		config: webrtc.Configuration{ICEServers: cfg.ICEServers},
		logger: logger,
	}, nil
}

func (f *PeerFactory) NewPeerConnection() (ports.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		f.logger.Debugw("peer ICE connection state changed", "ice_state", state)
	})
	return pc, nil
}
