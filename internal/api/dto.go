package api

// VocodeRequest carries time-major log-mel features, one row per frame.
type VocodeRequest struct {
	Features [][]float32 `json:"features"`
	Seed     *int64      `json:"seed,omitempty"`
}

type ModelResponse struct {
	Object          string `json:"object"`
	GeneratorType   string `json:"generator_type"`
	SampleRate      int    `json:"sample_rate"`
	HopSize         int    `json:"hop_size"`
	UpsampleFactor  int    `json:"upsample_factor"`
	AuxChannels     int    `json:"aux_channels"`
	ReceptiveFields []int  `json:"receptive_fields"`
	Params          int    `json:"params"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorBody struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
