package classify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	answer  string
	err     error
	prompts []string
	images  []string
}

func (m *fakeModel) Invoke(_ context.Context, prompt, imageDataURL string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	m.images = append(m.images, imageDataURL)
	if m.err != nil {
		return "", m.err
	}
	return m.answer, nil
}

func TestClassifyVisualNormalizesAnswers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		answer string
		want   Label
	}{
		{"exact live", "live website", LabelLive},
		{"exact parked", "generic parked landing page", LabelParked},
		{"exact nonactive", "nonactive domain", LabelNonactive},
		{"mixed case", "Live Website", LabelLive},
		{"surrounding whitespace", "  nonactive domain\n", LabelNonactive},
		{"out of set coerces to default", "I don't know", LabelNonactive},
		{"empty answer coerces to default", "", LabelNonactive},
		{"chatty answer coerces to default", "This looks like a live website to me.", LabelNonactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			model := &fakeModel{answer: tt.answer}
			c := NewClassifier(model, LabelNonactive, nil)
			got := c.ClassifyVisual(context.Background(), "https://example.com", "data:image/png;base64,AAAA")
			require.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyVisualInferenceFailureIsSentinel(t *testing.T) {
	t.Parallel()

	model := &fakeModel{err: errors.New("connection refused")}
	c := NewClassifier(model, LabelNonactive, nil)

	got := c.ClassifyVisual(context.Background(), "https://example.com", "data:image/png;base64,AAAA")
	require.Equal(t, LabelFailure, got)
	// A single failure is final.
	require.Len(t, model.prompts, 1)
}

func TestClassifyVisualPassesImagePayload(t *testing.T) {
	t.Parallel()

	model := &fakeModel{answer: "live website"}
	c := NewClassifier(model, LabelNonactive, nil)

	c.ClassifyVisual(context.Background(), "https://example.com", "data:image/jpeg;base64,xyz")
	require.Equal(t, []string{"data:image/jpeg;base64,xyz"}, model.images)
	require.Contains(t, model.prompts[0], "generic parked landing page")
}

func TestClassifyTextUsesURLOnly(t *testing.T) {
	t.Parallel()

	model := &fakeModel{answer: "nonactive domain"}
	c := NewClassifier(model, LabelNonactive, nil)

	got := c.ClassifyText(context.Background(), "https://defunct.example")
	require.Equal(t, LabelNonactive, got)
	require.Len(t, model.images, 1)
	require.Empty(t, model.images[0])
	require.True(t, strings.Contains(model.prompts[0], "https://defunct.example"))
}

func TestClassifyTextInferenceFailureIsSentinel(t *testing.T) {
	t.Parallel()

	model := &fakeModel{err: errors.New("timeout")}
	c := NewClassifier(model, LabelNonactive, nil)

	require.Equal(t, LabelFailure, c.ClassifyText(context.Background(), "https://example.com"))
}

func TestNewClassifierRejectsBogusDefault(t *testing.T) {
	t.Parallel()

	model := &fakeModel{answer: "gibberish"}
	c := NewClassifier(model, Label("not a label"), nil)

	got := c.ClassifyText(context.Background(), "https://example.com")
	require.Equal(t, LabelNonactive, got)
}

func TestLabelCanonical(t *testing.T) {
	t.Parallel()

	require.True(t, LabelParked.Canonical())
	require.True(t, LabelLive.Canonical())
	require.True(t, LabelNonactive.Canonical())
	require.False(t, LabelFailure.Canonical())
	require.False(t, Label("").Canonical())
}
