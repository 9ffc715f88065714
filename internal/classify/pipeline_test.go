package classify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeCapturer struct {
	shot  *Screenshot
	err   error
	calls int
	urls  []string
}

func (c *fakeCapturer) Capture(_ context.Context, url string) (*Screenshot, error) {
	c.calls++
	c.urls = append(c.urls, url)
	if c.err != nil {
		return nil, c.err
	}
	return c.shot, nil
}

type fakeProber struct {
	err   error
	calls int
}

func (p *fakeProber) Check(_ context.Context, _ string) error {
	p.calls++
	return p.err
}

type fakeArchiver struct {
	paths        []string
	contentTypes []string
	payloads     [][]byte
	err          error
}

func (a *fakeArchiver) PutObject(_ context.Context, path, contentType string, data io.Reader) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	a.paths = append(a.paths, path)
	a.contentTypes = append(a.contentTypes, contentType)
	a.payloads = append(a.payloads, raw)
	return "file:///" + path, nil
}

type fakeHasher struct{}

func (fakeHasher) Hash(data []byte) string {
	return fmt.Sprintf("hash-%d", len(data))
}

func newPipelineForTest(capturer Capturer, model Model, cfg PipelineConfig) *Pipeline {
	classifier := NewClassifier(model, LabelNonactive, nil)
	return NewPipeline(capturer, classifier, nil, nil, nil, cfg, nil)
}

func TestPipelineVisualSuccess(t *testing.T) {
	t.Parallel()

	capturer := &fakeCapturer{shot: &Screenshot{
		Image:     []byte{0x89, 0x50, 0x4e, 0x47},
		MediaType: "image/png",
		Attempts:  1,
	}}
	model := &fakeModel{answer: "Live Website"}
	p := newPipelineForTest(capturer, model, PipelineConfig{DefaultScheme: "https"})

	result := p.Classify(context.Background(), "example.com")

	require.Equal(t, "https://example.com", result.URL)
	require.Equal(t, LabelLive, result.Label)
	require.Equal(t, ModeVisual, result.Mode)
	require.Equal(t, 1, result.Attempts)
	require.Len(t, model.images, 1)
	require.True(t, strings.HasPrefix(model.images[0], "data:image/png;base64,"))
}

func TestPipelineReleasesScreenshotAfterEncoding(t *testing.T) {
	t.Parallel()

	shot := &Screenshot{Image: []byte{1, 2, 3}, MediaType: "image/png"}
	capturer := &fakeCapturer{shot: shot}
	model := &fakeModel{answer: "live website"}
	p := newPipelineForTest(capturer, model, PipelineConfig{})

	p.Classify(context.Background(), "https://example.com")
	require.Nil(t, shot.Image)
}

func TestPipelineRenderExhaustedTextFallback(t *testing.T) {
	t.Parallel()

	capturer := &fakeCapturer{err: fmt.Errorf("%w: navigation timed out", ErrRenderExhausted)}
	model := &fakeModel{answer: "nonactive domain"}
	p := newPipelineForTest(capturer, model, PipelineConfig{Fallback: FallbackText})

	result := p.Classify(context.Background(), "https://broken.example")

	require.Equal(t, LabelNonactive, result.Label)
	require.Equal(t, ModeText, result.Mode)
	require.Zero(t, result.Attempts)
	// Text fallback never carries an image.
	require.Equal(t, []string{""}, model.images)
}

func TestPipelineRenderExhaustedFailFallback(t *testing.T) {
	t.Parallel()

	capturer := &fakeCapturer{err: ErrRenderExhausted}
	model := &fakeModel{answer: "live website"}
	p := newPipelineForTest(capturer, model, PipelineConfig{Fallback: FallbackFail})

	result := p.Classify(context.Background(), "https://broken.example")

	require.Equal(t, LabelFailure, result.Label)
	require.Equal(t, ModeNone, result.Mode)
	// No model call in fail mode.
	require.Empty(t, model.prompts)
}

func TestPipelineFallbackIsDeterministicPerPolicy(t *testing.T) {
	t.Parallel()

	capturer := &fakeCapturer{err: ErrRenderExhausted}

	textModel := &fakeModel{answer: "live website"}
	textPipe := newPipelineForTest(capturer, textModel, PipelineConfig{Fallback: FallbackText})
	for i := 0; i < 3; i++ {
		require.Equal(t, ModeText, textPipe.Classify(context.Background(), "https://x.example").Mode)
	}

	failModel := &fakeModel{answer: "live website"}
	failPipe := newPipelineForTest(capturer, failModel, PipelineConfig{Fallback: FallbackFail})
	for i := 0; i < 3; i++ {
		require.Equal(t, LabelFailure, failPipe.Classify(context.Background(), "https://x.example").Label)
	}
}

func TestPipelineInferenceFailureIsSentinel(t *testing.T) {
	t.Parallel()

	capturer := &fakeCapturer{shot: &Screenshot{Image: []byte{1}, MediaType: "image/png"}}
	model := &fakeModel{err: errors.New("network is unreachable")}
	p := newPipelineForTest(capturer, model, PipelineConfig{})

	result := p.Classify(context.Background(), "https://example.com")

	require.Equal(t, LabelFailure, result.Label)
	require.Equal(t, ModeVisual, result.Mode)
	require.Len(t, model.prompts, 1)
}

func TestPipelineOutOfSetAnswerCoerces(t *testing.T) {
	t.Parallel()

	capturer := &fakeCapturer{shot: &Screenshot{Image: []byte{1}, MediaType: "image/png"}}
	model := &fakeModel{answer: "I don't know"}
	p := newPipelineForTest(capturer, model, PipelineConfig{})

	result := p.Classify(context.Background(), "https://example.com")
	require.Equal(t, LabelNonactive, result.Label)
}

func TestPipelineProbeFailureSkipsRender(t *testing.T) {
	t.Parallel()

	capturer := &fakeCapturer{shot: &Screenshot{Image: []byte{1}, MediaType: "image/png"}}
	prober := &fakeProber{err: errors.New("no such host")}
	model := &fakeModel{answer: "nonactive domain"}
	classifier := NewClassifier(model, LabelNonactive, nil)
	p := NewPipeline(capturer, classifier, prober, nil, nil, PipelineConfig{Fallback: FallbackText}, nil)

	result := p.Classify(context.Background(), "https://gone.example")

	require.Equal(t, 1, prober.calls)
	require.Zero(t, capturer.calls)
	require.Equal(t, ModeText, result.Mode)
}

func TestPipelineProbeSuccessContinues(t *testing.T) {
	t.Parallel()

	capturer := &fakeCapturer{shot: &Screenshot{Image: []byte{1}, MediaType: "image/png"}}
	prober := &fakeProber{}
	model := &fakeModel{answer: "live website"}
	classifier := NewClassifier(model, LabelNonactive, nil)
	p := NewPipeline(capturer, classifier, prober, nil, nil, PipelineConfig{}, nil)

	result := p.Classify(context.Background(), "https://example.com")
	require.Equal(t, 1, capturer.calls)
	require.Equal(t, LabelLive, result.Label)
}

func TestPipelineArchivesScreenshot(t *testing.T) {
	t.Parallel()

	capturer := &fakeCapturer{shot: &Screenshot{Image: []byte{9, 9, 9}, MediaType: "image/jpeg"}}
	model := &fakeModel{answer: "live website"}
	classifier := NewClassifier(model, LabelNonactive, nil)
	archiver := &fakeArchiver{}
	p := NewPipeline(capturer, classifier, nil, archiver, fakeHasher{}, PipelineConfig{
		ArchivePrefix: "screenshots",
	}, nil)

	p.Classify(context.Background(), "https://example.com")

	require.Len(t, archiver.paths, 1)
	require.Equal(t, "screenshots/hash-19.jpg", archiver.paths[0])
	require.Equal(t, "image/jpeg", archiver.contentTypes[0])
	require.Equal(t, []byte{9, 9, 9}, archiver.payloads[0])
}

func TestPipelineArchiveFailureDoesNotAffectResult(t *testing.T) {
	t.Parallel()

	capturer := &fakeCapturer{shot: &Screenshot{Image: []byte{1}, MediaType: "image/png"}}
	model := &fakeModel{answer: "live website"}
	classifier := NewClassifier(model, LabelNonactive, nil)
	archiver := &fakeArchiver{err: errors.New("bucket unavailable")}
	p := NewPipeline(capturer, classifier, nil, archiver, fakeHasher{}, PipelineConfig{}, nil)

	result := p.Classify(context.Background(), "https://example.com")
	require.Equal(t, LabelLive, result.Label)
}
