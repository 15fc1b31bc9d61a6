// Package api exposes a loaded vocoder over HTTP.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v5"

	"github.com/MaxMax2016/Multi-Singer/internal/audio"
	"github.com/MaxMax2016/Multi-Singer/internal/logger"
	"github.com/MaxMax2016/Multi-Singer/internal/model"
	"github.com/MaxMax2016/Multi-Singer/internal/tensor"
	"github.com/MaxMax2016/Multi-Singer/internal/vocoder"
)

const (
	MIMEAudioWAV     = "audio/wav"
	defaultMaxFrames = 4096
)

type Config struct {
	// MaxFrames bounds the number of feature frames per request.
	MaxFrames int
	// DefaultSeed is used when a request carries no seed.
	DefaultSeed int64
}

// Server serves one vocoder. Generation is serialised because the
// generator's noise source is shared.
type Server struct {
	mu  sync.Mutex
	voc vocoder.Vocoder
	aux int
	cfg Config
	log logger.Logger
}

func NewServer(voc vocoder.Vocoder, cfg Config, log logger.Logger) *Server {
	if cfg.MaxFrames <= 0 {
		cfg.MaxFrames = defaultMaxFrames
	}
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{voc: voc, cfg: cfg, log: log}
	if voc != nil {
		s.aux = voc.Summary().AuxChannels
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.Use(requestID)
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/model", s.handleModel)
	e.POST("/v1/vocode", s.handleVocode)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleModel(c *echo.Context) error {
	if s.voc == nil {
		return writeError(c, http.StatusServiceUnavailable, "server_error", "no model loaded", "", "")
	}
	sum := s.voc.Summary()
	return c.JSON(http.StatusOK, ModelResponse{
		Object:          "model",
		GeneratorType:   sum.GeneratorType,
		SampleRate:      sum.SampleRate,
		HopSize:         sum.HopSize,
		UpsampleFactor:  sum.UpsampleFactor,
		AuxChannels:     sum.AuxChannels,
		ReceptiveFields: sum.ReceptiveFields,
		Params:          sum.Params,
	})
}

func (s *Server) handleVocode(c *echo.Context) error {
	if s.voc == nil {
		return writeError(c, http.StatusServiceUnavailable, "server_error", "no model loaded", "", "")
	}
	req, err := decodeJSON[VocodeRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error(), "")
	}
	feats, err := s.featureMatrix(req.Features)
	if err != nil {
		return writeBadRequest(c, err.Error(), paramOf(err))
	}
	seed := s.cfg.DefaultSeed
	if req.Seed != nil {
		seed = *req.Seed
	}

	s.mu.Lock()
	wave, err := s.voc.Synthesize(&feats, seed)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, model.ErrShapeMismatch) || errors.Is(err, model.ErrMissingInput) {
			return writeBadRequest(c, err.Error(), "features")
		}
		s.log.Error("synthesis failed", "error", err, "request_id", c.Get(requestIDKey))
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}

	body, err := audio.WAVBytes(audio.Clip{Samples: wave, SampleRate: s.voc.SampleRate()})
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
	s.log.Debug("vocoded", "frames", feats.R, "samples", len(wave), "request_id", c.Get(requestIDKey))
	return c.Blob(http.StatusOK, MIMEAudioWAV, body)
}

func (s *Server) featureMatrix(rows [][]float32) (tensor.Mat, error) {
	if len(rows) == 0 {
		return tensor.Mat{}, newInvalidRequest("features", "features must contain at least one frame")
	}
	if len(rows) > s.cfg.MaxFrames {
		return tensor.Mat{}, newInvalidRequest("features", fmt.Sprintf("features has %d frames, limit is %d", len(rows), s.cfg.MaxFrames))
	}
	want := s.aux
	for i, r := range rows {
		if len(r) != want {
			return tensor.Mat{}, newInvalidRequest("features", fmt.Sprintf("frame %d has %d bins, want %d", i, len(r), want))
		}
	}
	m, err := tensor.NewMatFromRows(rows)
	if err != nil {
		return tensor.Mat{}, newInvalidRequest("features", err.Error())
	}
	return m, nil
}
