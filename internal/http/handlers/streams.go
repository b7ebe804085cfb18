package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vidpace/internal/metrics"
	"github.com/jmylchreest/vidpace/internal/models"
	"github.com/jmylchreest/vidpace/internal/report"
	"github.com/jmylchreest/vidpace/internal/service"
	"github.com/jmylchreest/vidpace/internal/stream"
)

// StreamView is the per-stream state the API reads.
type StreamView interface {
	Snapshot() stream.Snapshot
	Series() metrics.Series
	History() []stream.BitrateChange
}

// StreamProvider exposes the running streams.
type StreamProvider interface {
	Snapshots() []stream.Snapshot
	Failures() []stream.StreamFailure
	Lookup(name string) (StreamView, error)
}

// ManagerStreams adapts a stream.Manager to StreamProvider.
func ManagerStreams(m *stream.Manager) StreamProvider {
	return managerStreams{m}
}

type managerStreams struct {
	*stream.Manager
}

func (m managerStreams) Lookup(name string) (StreamView, error) {
	c, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// StreamHandler serves live stream state.
type StreamHandler struct {
	streams StreamProvider
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(streams StreamProvider) *StreamHandler {
	return &StreamHandler{streams: streams}
}

// Register registers the stream routes with the API.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listStreams",
		Method:      "GET",
		Path:        "/api/v1/streams",
		Summary:     "List streams",
		Description: "Returns every running stream and the streams that failed to start",
		Tags:        []string{"Streams"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getStream",
		Method:      "GET",
		Path:        "/api/v1/streams/{name}",
		Summary:     "Get stream",
		Description: "Returns the current bitrate, counters and latency statistics of a stream",
		Tags:        []string{"Streams"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "getStreamSamples",
		Method:      "GET",
		Path:        "/api/v1/streams/{name}/samples",
		Summary:     "Get stream samples",
		Description: "Returns the retained production time, latency and jitter samples of a stream",
		Tags:        []string{"Streams"},
	}, h.Samples)

	huma.Register(api, huma.Operation{
		OperationID: "getStreamHistory",
		Method:      "GET",
		Path:        "/api/v1/streams/{name}/history",
		Summary:     "Get bitrate history",
		Description: "Returns the bitrate changes made by the adaptation loop",
		Tags:        []string{"Streams"},
	}, h.History)

	huma.Register(api, huma.Operation{
		OperationID: "getLiveReport",
		Method:      "GET",
		Path:        "/api/v1/report",
		Summary:     "Get live comparison",
		Description: "Compares static and adaptive streams using their current statistics",
		Tags:        []string{"Streams"},
	}, h.Report)
}

// ListStreamsInput is the input for listing streams.
type ListStreamsInput struct{}

// ListStreamsOutput is the output for listing streams.
type ListStreamsOutput struct {
	Body struct {
		Streams  []StreamResponse      `json:"streams"`
		Failures []stream.StreamFailure `json:"failures,omitempty"`
	}
}

// List returns every stream.
func (h *StreamHandler) List(ctx context.Context, input *ListStreamsInput) (*ListStreamsOutput, error) {
	snaps := h.streams.Snapshots()

	resp := &ListStreamsOutput{}
	resp.Body.Streams = make([]StreamResponse, 0, len(snaps))
	for _, s := range snaps {
		resp.Body.Streams = append(resp.Body.Streams, StreamFromSnapshot(s))
	}
	resp.Body.Failures = h.streams.Failures()
	return resp, nil
}

// StreamNameInput identifies a stream.
type StreamNameInput struct {
	Name string `path:"name" doc:"Stream name"`
}

// GetStreamOutput is the output for getting a stream.
type GetStreamOutput struct {
	Body StreamResponse
}

// Get returns one stream.
func (h *StreamHandler) Get(ctx context.Context, input *StreamNameInput) (*GetStreamOutput, error) {
	view, err := h.lookup(input.Name)
	if err != nil {
		return nil, err
	}
	return &GetStreamOutput{Body: StreamFromSnapshot(view.Snapshot())}, nil
}

// StreamSamplesInput is the input for reading samples.
type StreamSamplesInput struct {
	Name  string `path:"name" doc:"Stream name"`
	Limit int    `query:"limit" minimum:"0" default:"0" doc:"Return only the most recent samples of each series (0 = all retained)"`
}

// StreamSamplesOutput is the output for reading samples.
type StreamSamplesOutput struct {
	Body struct {
		Stream            string    `json:"stream"`
		ProductionTimesMs []float64 `json:"production_times_ms"`
		LatenciesMs       []float64 `json:"latencies_ms"`
		JittersMs         []float64 `json:"jitters_ms"`
	}
}

// Samples returns the retained timing samples of a stream.
func (h *StreamHandler) Samples(ctx context.Context, input *StreamSamplesInput) (*StreamSamplesOutput, error) {
	view, err := h.lookup(input.Name)
	if err != nil {
		return nil, err
	}

	series := view.Series()
	resp := &StreamSamplesOutput{}
	resp.Body.Stream = input.Name
	resp.Body.ProductionTimesMs = msSlice(tail(series.ProductionTimes, input.Limit))
	resp.Body.LatenciesMs = msSlice(tail(series.Latencies, input.Limit))
	resp.Body.JittersMs = msSlice(tail(series.Jitters, input.Limit))
	return resp, nil
}

// StreamHistoryOutput is the output for reading bitrate history.
type StreamHistoryOutput struct {
	Body struct {
		Stream  string                  `json:"stream"`
		Changes []BitrateChangeResponse `json:"changes"`
	}
}

// History returns the bitrate history of a stream.
func (h *StreamHandler) History(ctx context.Context, input *StreamNameInput) (*StreamHistoryOutput, error) {
	view, err := h.lookup(input.Name)
	if err != nil {
		return nil, err
	}

	changes := view.History()
	resp := &StreamHistoryOutput{}
	resp.Body.Stream = input.Name
	resp.Body.Changes = make([]BitrateChangeResponse, 0, len(changes))
	for _, c := range changes {
		resp.Body.Changes = append(resp.Body.Changes, BitrateChangeResponse{
			At:            c.At,
			FromKbps:      c.From,
			ToKbps:        c.To,
			MeanLatencyMs: ms(c.MeanLatency),
		})
	}
	return resp, nil
}

// ReportOutput is a static versus adaptive comparison.
type ReportOutput struct {
	Body ReportResponse
}

// ReportResponse is the API view of report.Report.
type ReportResponse struct {
	Streams  []ResultResponse `json:"streams"`
	Static   report.Group     `json:"static"`
	Adaptive report.Group     `json:"adaptive"`
}

// Report compares the running streams.
func (h *StreamHandler) Report(ctx context.Context, input *ListStreamsInput) (*ReportOutput, error) {
	snaps := h.streams.Snapshots()
	results := make([]models.StreamResult, len(snaps))
	for i, s := range snaps {
		results[i] = service.ResultModel(models.ULID{}, s)
	}
	return &ReportOutput{Body: reportResponse(report.New(results))}, nil
}

func reportResponse(r report.Report) ReportResponse {
	resp := ReportResponse{
		Streams:  make([]ResultResponse, 0, len(r.Rows)),
		Static:   r.Static,
		Adaptive: r.Adaptive,
	}
	for _, row := range r.Rows {
		resp.Streams = append(resp.Streams, ResultFromModel(row))
	}
	return resp
}

func (h *StreamHandler) lookup(name string) (StreamView, error) {
	view, err := h.streams.Lookup(name)
	if errors.Is(err, stream.ErrStreamNotFound) {
		return nil, huma.Error404NotFound(fmt.Sprintf("stream %s not found", name))
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get stream", err)
	}
	return view, nil
}

func tail[T any](s []T, n int) []T {
	if n <= 0 || n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}
