package api

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/MaxMax2016/Multi-Singer/internal/audio"
	"github.com/MaxMax2016/Multi-Singer/internal/model"
	"github.com/MaxMax2016/Multi-Singer/internal/tensor"
	"github.com/MaxMax2016/Multi-Singer/internal/vocoder"
)

type testVocoder struct {
	err      error
	lastSeed int64
}

func (v *testVocoder) Synthesize(f *tensor.Mat, seed int64) ([]float32, error) {
	if v.err != nil {
		return nil, v.err
	}
	v.lastSeed = seed
	out := make([]float32, f.R*v.HopSize())
	for i := range out {
		out[i] = 0.25
	}
	return out, nil
}

func (v *testVocoder) HopSize() int    { return 4 }
func (v *testVocoder) SampleRate() int { return 8000 }
func (v *testVocoder) Summary() vocoder.Summary {
	return vocoder.Summary{
		GeneratorType:   "Generator2",
		SampleRate:      8000,
		HopSize:         4,
		UpsampleFactor:  1,
		AuxChannels:     2,
		ReceptiveFields: []int{7, 5},
		Params:          123,
	}
}

func newTestEcho(v vocoder.Vocoder) *echo.Echo {
	e := echo.New()
	NewServer(v, Config{MaxFrames: 8, DefaultSeed: 5}, nil).Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body struct {
		Error ErrorBody `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return body.Error
}

func TestHealthAndRequestID(t *testing.T) {
	t.Parallel()
	e := newTestEcho(&testVocoder{})
	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("health: %d %s", rec.Code, rec.Body.String())
	}
	if id := rec.Header().Get(echo.HeaderXRequestID); !strings.HasPrefix(id, "req_") {
		t.Fatalf("request id %q", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(echo.HeaderXRequestID, "client-1")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if got := rec.Header().Get(echo.HeaderXRequestID); got != "client-1" {
		t.Fatalf("request id not echoed: %q", got)
	}
}

func TestModelEndpoint(t *testing.T) {
	t.Parallel()
	rec := doJSON(t, newTestEcho(&testVocoder{}), http.MethodGet, "/v1/model", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp ModelResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Object != "model" || resp.GeneratorType != "Generator2" || len(resp.ReceptiveFields) != 2 {
		t.Fatalf("got %+v", resp)
	}
}

func TestVocodeReturnsWAV(t *testing.T) {
	t.Parallel()
	v := &testVocoder{}
	e := newTestEcho(v)
	rec := doJSON(t, e, http.MethodPost, "/v1/vocode", `{"features":[[0,1],[2,3],[4,5]],"seed":11}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != MIMEAudioWAV {
		t.Fatalf("content type %q", ct)
	}
	clip, err := audio.DecodeWAV(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if clip.SampleRate != 8000 || len(clip.Samples) != 12 {
		t.Fatalf("clip rate %d len %d", clip.SampleRate, len(clip.Samples))
	}
	if v.lastSeed != 11 {
		t.Fatalf("seed %d", v.lastSeed)
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/vocode", `{"features":[[0,1]]}`)
	if rec.Code != http.StatusOK || v.lastSeed != 5 {
		t.Fatalf("default seed: status %d seed %d", rec.Code, v.lastSeed)
	}
}

func TestVocodeValidation(t *testing.T) {
	t.Parallel()
	e := newTestEcho(&testVocoder{})
	tests := []struct {
		name  string
		body  string
		param string
	}{
		{"malformed", `{"features":`, ""},
		{"empty", `{"features":[]}`, "features"},
		{"ragged", `{"features":[[0,1],[2]]}`, "features"},
		{"wrong bins", `{"features":[[0,1,2]]}`, "features"},
		{"too long", `{"features":[[0,0],[0,0],[0,0],[0,0],[0,0],[0,0],[0,0],[0,0],[0,0]]}`, "features"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, e, http.MethodPost, "/v1/vocode", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
			}
			body := decodeError(t, rec)
			if body.Type != "invalid_request_error" || body.Param != tt.param {
				t.Fatalf("error %+v", body)
			}
		})
	}
}

func TestVocodeErrorMapping(t *testing.T) {
	t.Parallel()
	rec := doJSON(t, newTestEcho(&testVocoder{err: model.ErrShapeMismatch}), http.MethodPost, "/v1/vocode", `{"features":[[0,1]]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("shape mismatch: status %d", rec.Code)
	}
	rec = doJSON(t, newTestEcho(&testVocoder{err: errors.New("boom")}), http.MethodPost, "/v1/vocode", `{"features":[[0,1]]}`)
	if rec.Code != http.StatusInternalServerError || decodeError(t, rec).Type != "server_error" {
		t.Fatalf("internal: status %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestNoModelLoaded(t *testing.T) {
	t.Parallel()
	e := newTestEcho(nil)
	if rec := doJSON(t, e, http.MethodGet, "/v1/model", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("model: status %d", rec.Code)
	}
	if rec := doJSON(t, e, http.MethodPost, "/v1/vocode", `{"features":[[0,1]]}`); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("vocode: status %d", rec.Code)
	}
}

func TestInvalidRequestErrorUnwraps(t *testing.T) {
	t.Parallel()
	err := newInvalidRequest("features", "bad")
	if !errors.Is(err, ErrInvalidRequest) || paramOf(err) != "features" || err.Error() != "bad" {
		t.Fatalf("got %v", err)
	}
	if paramOf(errors.New("x")) != "" {
		t.Fatal("param for foreign error")
	}
}
