package detector

import (
	"context"
	"fmt"
	"strings"
)

// SignalSource is the slice of a driver session the collector needs.
// automation.Driver satisfies it.
type SignalSource interface {
	BodyText(ctx context.Context) (string, error)
	FrameSources(ctx context.Context) ([]string, error)
	MatchCount(ctx context.Context, selector string) (int, error)
}

// CollectSignals queries the driver once per pattern and assembles the
// snapshot the scorer runs on. Selector lookups that error are skipped
// rather than failing the page; body text or frame enumeration errors are
// returned since without them the snapshot is meaningless.
func CollectSignals(ctx context.Context, drv SignalSource) (Snapshot, error) {
	bodyText, err := drv.BodyText(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("collect body text: %w", err)
	}
	bodyText = strings.ToLower(bodyText)

	frames, err := drv.FrameSources(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("collect frame sources: %w", err)
	}

	snap := Snapshot{Signals: make(map[ChallengeType]TypeSignals, len(profiles))}
	for _, p := range profiles {
		var sig TypeSignals
		for _, sel := range p.Selectors {
			n, err := drv.MatchCount(ctx, sel)
			if err != nil {
				continue
			}
			if n > 0 {
				sig.MatchedSelectors = append(sig.MatchedSelectors, sel)
			}
		}
		for _, re := range p.TextPatterns {
			if re.MatchString(bodyText) {
				sig.MatchedText = append(sig.MatchedText, re.String())
			}
		}
		for _, re := range p.FramePatterns {
			for _, src := range frames {
				if re.MatchString(src) {
					sig.MatchedFrames = append(sig.MatchedFrames, src)
					break
				}
			}
		}
		snap.Signals[p.Type] = sig
	}
	return snap, nil
}
