package engine

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peercall/internal/util"
)

// newAPI builds a pion API with the default codecs and interceptors, and
// pion's own logging routed through ours.
func newAPI() (*webrtc.API, error) {
	media := &webrtc.MediaEngine{}
	if err := media.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(media, registry); err != nil {
		return nil, err
	}

	settings := webrtc.SettingEngine{LoggerFactory: util.PionLoggerFactory{}}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(media),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settings),
	), nil
}

// newPeerConnection creates a PeerConnection configured with the given STUN
// servers and one sendrecv transceiver each for audio and video.
func newPeerConnection(iceServers []string) (*webrtc.PeerConnection, error) {
	api, err := newAPI()
	if err != nil {
		return nil, err
	}

	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{
			{URLs: iceServers},
		}
	}

	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		}); err != nil {
			pc.Close()
			return nil, err
		}
	}

	return pc, nil
}
