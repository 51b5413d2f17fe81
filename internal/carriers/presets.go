package carriers

import (
	"time"

	"cargotrack-backend/lib/configutil"

	"dario.cat/mergo"
)

// HMM is Hyundai Merchant Marine's track & trace. The bootstrap page embeds
// a spring csrf token, the query endpoint takes every container of a batch
// in listCntr.
func HMM() OriginConfig {
	return OriginConfig{
		Name:          "hmm",
		Aliases:       []string{"hyundai", "hmm21"},
		BaseUrl:       "https://www.hmm21.com",
		BootstrapPath: "/e-service/general/trackNTrace/TrackNTrace.do",
		QueryPath:     "/e-service/general/trackNTrace/selectTrackNTrace.do",
		TokenHeader:   "X-CSRF-TOKEN",
		Headers: map[string]string{
			"Content-Type":     "application/json; charset=UTF-8",
			"X-Requested-With": "XMLHttpRequest",
		},
		TokenMeta: "_csrf",
		BodyTemplate: map[string]any{
			"type":    "cntr",
			"listBl":  []string{},
			"listBkg": []string{},
			"listPo":  []string{},
		},
		KeysField:        "listCntr",
		StaleMarkers:     []string{"No Data"},
		ErrorMarkers:     []string{"JS_ERROR"},
		MinPayloadLength: 50,
		TokenTimeout:     configutil.Duration(15 * time.Second),
		RequestTimeout:   configutil.Duration(60 * time.Second),
		Transport: TransportConfig{
			Kind: TransportPlaywright,
			Args: []string{"--disable-http2"},
		},
	}
}

// Presets are the origins known without any configuration.
func Presets() []OriginConfig {
	return []OriginConfig{HMM()}
}

func mergeOrigin(preset, override OriginConfig) OriginConfig {
	out := preset
	err := mergo.Merge(&out, override, mergo.WithOverride)
	if err != nil {
		return preset
	}
	return out
}
