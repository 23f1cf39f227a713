package detector

import (
	"context"
	"math"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScorePartialMatchesBelowThreshold(t *testing.T) {
	t.Parallel()

	// 2/2 selectors + 1/3 text + 0/0 frames at weight 1.0 comes to
	// 0.4 + 0.1 = 0.5, under the default 0.7 threshold.
	table := []Profile{{
		Type:         "test_type",
		Selectors:    []string{".a", ".b"},
		TextPatterns: compileAll("one", "two", "three"),
		Weight:       1.0,
	}}
	snap := Snapshot{Signals: map[ChallengeType]TypeSignals{
		"test_type": {
			MatchedSelectors: []string{".a", ".b"},
			MatchedText:      []string{"one"},
		},
	}}

	got := scoreTable(table, snap, DefaultConfig())
	if got.Detected {
		t.Fatalf("Detected = true, want false (confidence %v)", got.Confidence)
	}
	if !almostEqual(got.Confidence, 0.5) {
		t.Fatalf("Confidence = %v, want 0.5", got.Confidence)
	}
}

func TestScoreFullMatchDetected(t *testing.T) {
	t.Parallel()

	table := []Profile{{
		Type:          "test_type",
		Selectors:     []string{".a", ".b"},
		TextPatterns:  compileAll("one", "two", "three"),
		FramePatterns: compileAll(`challenge\.example`),
		Weight:        1.0,
	}}
	snap := Snapshot{Signals: map[ChallengeType]TypeSignals{
		"test_type": {
			MatchedSelectors: []string{".a", ".b"},
			MatchedText:      []string{"one", "two", "three"},
			MatchedFrames:    []string{"https://challenge.example/frame"},
		},
	}}

	got := scoreTable(table, snap, DefaultConfig())
	if !got.Detected {
		t.Fatalf("Detected = false, confidence %v", got.Confidence)
	}
	if !almostEqual(got.Confidence, 1.0) {
		t.Fatalf("Confidence = %v, want 1.0", got.Confidence)
	}
	if got.Type != "test_type" {
		t.Fatalf("Type = %s", got.Type)
	}
}

func TestScoreTieBreakDeclarationOrder(t *testing.T) {
	t.Parallel()

	table := []Profile{
		{Type: "first", Selectors: []string{".x"}, Weight: 1.0},
		{Type: "second", Selectors: []string{".y"}, Weight: 1.0},
	}
	snap := Snapshot{Signals: map[ChallengeType]TypeSignals{
		"first":  {MatchedSelectors: []string{".x"}},
		"second": {MatchedSelectors: []string{".y"}},
	}}

	got := scoreTable(table, snap, DefaultConfig())
	if got.Type != "first" {
		t.Fatalf("tie break chose %s, want first", got.Type)
	}
}

func TestScoreIsPure(t *testing.T) {
	t.Parallel()

	snap := Snapshot{Signals: map[ChallengeType]TypeSignals{
		TypeHCaptcha: {
			MatchedSelectors: []string{".h-captcha", "#h-captcha"},
			MatchedText:      []string{"hcaptcha"},
			MatchedFrames:    []string{"https://hcaptcha.com/frame"},
		},
	}}
	first := Score(snap, DefaultConfig())
	for range 10 {
		if got := Score(snap, DefaultConfig()); !reflect.DeepEqual(got, first) {
			t.Fatalf("Score not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestScoreEmptySnapshot(t *testing.T) {
	t.Parallel()

	got := Score(Snapshot{Signals: map[ChallengeType]TypeSignals{}}, DefaultConfig())
	if got.Detected || got.Confidence != 0 {
		t.Fatalf("empty snapshot scored %+v", got)
	}
}

func TestScoreRealProfilesRecaptcha(t *testing.T) {
	t.Parallel()

	// All 8 selectors, all 5 text patterns and both frame patterns for
	// recaptcha_v2 give the full 1.0 at weight 1.0.
	sig := TypeSignals{}
	for _, p := range Profiles() {
		if p.Type != TypeRecaptchaV2 {
			continue
		}
		sig.MatchedSelectors = append(sig.MatchedSelectors, p.Selectors...)
		for _, re := range p.TextPatterns {
			sig.MatchedText = append(sig.MatchedText, re.String())
		}
		sig.MatchedFrames = []string{
			"https://www.google.com/recaptcha/api2/anchor",
			"https://www.gstatic.com/recaptcha/releases/x.js",
		}
	}
	got := Score(Snapshot{Signals: map[ChallengeType]TypeSignals{TypeRecaptchaV2: sig}}, DefaultConfig())
	require.True(t, got.Detected)
	require.Equal(t, TypeRecaptchaV2, got.Type)
	require.InDelta(t, 1.0, got.Confidence, 1e-9)
	require.NotEmpty(t, got.Recommendation)
}

type fakeSignalDriver struct {
	bodyText string
	matches  map[string]int
	frames   []string
}

func (d *fakeSignalDriver) BodyText(context.Context) (string, error) { return d.bodyText, nil }
func (d *fakeSignalDriver) FrameSources(context.Context) ([]string, error) {
	return d.frames, nil
}
func (d *fakeSignalDriver) MatchCount(_ context.Context, sel string) (int, error) {
	return d.matches[sel], nil
}

func TestCollectSignals(t *testing.T) {
	t.Parallel()

	drv := &fakeSignalDriver{
		bodyText: "Please verify you are not a robot. Security check in progress. Captcha below.",
		matches: map[string]int{
			".g-recaptcha":       1,
			"[data-sitekey]":     2,
			`[class*="captcha"]`: 1,
		},
		frames: []string{"https://www.google.com/recaptcha/api2/anchor?k=abc"},
	}
	snap, err := CollectSignals(context.Background(), drv)
	require.NoError(t, err)

	v2 := snap.Signals[TypeRecaptchaV2]
	require.ElementsMatch(t, []string{".g-recaptcha", "[data-sitekey]"}, v2.MatchedSelectors)
	require.NotEmpty(t, v2.MatchedText)
	require.Equal(t, []string{"https://www.google.com/recaptcha/api2/anchor?k=abc"}, v2.MatchedFrames)

	result := Score(snap, DefaultConfig())
	require.Equal(t, TypeRecaptchaV2, result.Type)
}
