package stt

// EncodeConfig wraps the session configuration as the first request unit
func EncodeConfig(cfg SessionConfig) RequestUnit {
	return ConfigUnit{Config: cfg}
}

// EncodeAudio wraps a chunk of audio. An empty chunk yields a zero-length unit.
func EncodeAudio(data []byte) RequestUnit {
	if data == nil {
		data = []byte{}
	}
	return AudioUnit{Data: data}
}

// Silence returns a zero-filled synthetic audio unit of n bytes
func Silence(n int) RequestUnit {
	return AudioUnit{Data: make([]byte, n), Synthetic: true}
}
