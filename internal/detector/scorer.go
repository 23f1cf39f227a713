package detector

// Config carries the tunable scoring constants. The threshold and the
// component weights are empirical values inherited from operations, not
// derived; they are configuration rather than tested behavior.
type Config struct {
	Threshold      float64 `mapstructure:"threshold"`
	SelectorWeight float64 `mapstructure:"selector_weight"`
	TextWeight     float64 `mapstructure:"text_weight"`
	FrameWeight    float64 `mapstructure:"frame_weight"`
}

// DefaultConfig returns the stock scoring constants.
func DefaultConfig() Config {
	return Config{
		Threshold:      0.7,
		SelectorWeight: 0.4,
		TextWeight:     0.3,
		FrameWeight:    0.3,
	}
}

// TypeSignals captures the matches observed for a single challenge type.
type TypeSignals struct {
	MatchedSelectors []string
	MatchedText      []string
	MatchedFrames    []string
}

// Snapshot is the complete per-page signal set the scorer operates on.
// Scoring is a pure function of a Snapshot: identical input yields an
// identical result.
type Snapshot struct {
	Signals map[ChallengeType]TypeSignals
}

// Result is the scoring outcome for one page.
type Result struct {
	Detected         bool
	Type             ChallengeType
	Confidence       float64
	MatchedSelectors []string
	MatchedFrames    []string
	MatchedText      []string
	Recommendation   string
}

// Score evaluates every profile against the snapshot and returns the
// highest-scoring type. Each component ratio is matches/patterns-checked
// (0 for an empty pattern list); the per-type score is
// weight * (selW*selRatio + textW*textRatio + frameW*frameRatio).
// Detection fires when the best score reaches cfg.Threshold. The first
// profile in declaration order wins ties.
func Score(snap Snapshot, cfg Config) Result {
	return scoreTable(profiles, snap, cfg)
}

func scoreTable(table []Profile, snap Snapshot, cfg Config) Result {
	best := Result{Type: TypeGeneric}
	for _, p := range table {
		sig := snap.Signals[p.Type]
		score := p.Weight * (cfg.SelectorWeight*ratio(len(sig.MatchedSelectors), len(p.Selectors)) +
			cfg.TextWeight*ratio(len(sig.MatchedText), len(p.TextPatterns)) +
			cfg.FrameWeight*ratio(len(sig.MatchedFrames), len(p.FramePatterns)))
		if score > best.Confidence {
			best = Result{
				Type:             p.Type,
				Confidence:       score,
				MatchedSelectors: sig.MatchedSelectors,
				MatchedFrames:    sig.MatchedFrames,
				MatchedText:      sig.MatchedText,
			}
		}
	}
	if best.Confidence >= cfg.Threshold {
		best.Detected = true
		best.Recommendation = Recommendation(best.Type)
	}
	return best
}

func ratio(matched, checked int) float64 {
	if checked == 0 {
		return 0
	}
	return float64(matched) / float64(checked)
}
