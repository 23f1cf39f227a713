// Package detector scores pages for human-verification challenges. It is
// detection-only: the service halts on a challenge and never attempts to
// solve or bypass one.
package detector

import "regexp"

// ChallengeType identifies a known challenge family.
type ChallengeType string

// Known challenge types, in scoring declaration order.
const (
	TypeRecaptchaV2 ChallengeType = "recaptcha_v2"
	TypeRecaptchaV3 ChallengeType = "recaptcha_v3"
	TypeHCaptcha    ChallengeType = "hcaptcha"
	TypeFunCaptcha  ChallengeType = "funcaptcha"
	TypeCloudflare  ChallengeType = "cloudflare"
	TypeGeneric     ChallengeType = "generic"
)

// Profile holds the detection patterns for one challenge type.
type Profile struct {
	Type          ChallengeType
	Selectors     []string
	TextPatterns  []*regexp.Regexp
	FramePatterns []*regexp.Regexp
	Weight        float64
}

// profiles is the fixed table evaluated on every page, iterated in
// declaration order so ties between equal scores are deterministic.
var profiles = []Profile{
	{
		Type: TypeRecaptchaV2,
		Selectors: []string{
			".g-recaptcha",
			"#g-recaptcha",
			".g-recaptcha-response",
			"[data-sitekey]",
			`iframe[src*="google.com/recaptcha"]`,
			`iframe[src*="gstatic.com/recaptcha"]`,
			`div[class*="recaptcha"]`,
			`div[id*="recaptcha"]`,
		},
		TextPatterns: compileAll(
			`verify\s+you\s+are\s+not\s+a\s+robot`,
			`i'm\s+not\s+a\s+robot`,
			`prove\s+you\s+are\s+human`,
			`security\s+check`,
			`captcha`,
		),
		FramePatterns: compileAll(
			`google\.com/recaptcha`,
			`gstatic\.com/recaptcha`,
		),
		Weight: 1.0,
	},
	{
		Type: TypeRecaptchaV3,
		Selectors: []string{
			`script[src*="recaptcha/releases"]`,
			`script[src*="recaptcha/api.js"]`,
			`[data-callback*="recaptcha"]`,
			`script[src*="recaptcha"]`,
		},
		TextPatterns: compileAll(
			`grecaptcha`,
			`recaptcha`,
		),
		Weight: 0.8,
	},
	{
		Type: TypeHCaptcha,
		Selectors: []string{
			".h-captcha",
			"#h-captcha",
			"[data-hcaptcha-response]",
			`iframe[src*="hcaptcha.com"]`,
			`div[role="presentation"][data-hcaptcha-response]`,
			`div[class*="hcaptcha"]`,
		},
		TextPatterns: compileAll(
			`hcaptcha`,
			`verify\s+you\s+are\s+human`,
			`security\s+check`,
		),
		FramePatterns: compileAll(
			`hcaptcha\.com`,
		),
		Weight: 1.0,
	},
	{
		Type: TypeFunCaptcha,
		Selectors: []string{
			".funcaptcha",
			"#funcaptcha",
			`iframe[src*="funcaptcha.com"]`,
			`div[class*="funcaptcha"]`,
		},
		TextPatterns: compileAll(
			`funcaptcha`,
			`arkose\s+labs`,
		),
		FramePatterns: compileAll(
			`funcaptcha\.com`,
			`arkoselabs\.com`,
		),
		Weight: 0.9,
	},
	{
		Type: TypeCloudflare,
		Selectors: []string{
			".cf-challenge",
			"#cf-challenge",
			`iframe[src*="cloudflare.com"]`,
			`div[class*="cf-"]`,
		},
		TextPatterns: compileAll(
			`checking\s+your\s+browser`,
			`cloudflare`,
			`security\s+check`,
			`please\s+wait`,
		),
		FramePatterns: compileAll(
			`cloudflare\.com`,
		),
		Weight: 0.9,
	},
	{
		Type: TypeGeneric,
		Selectors: []string{
			`[class*="captcha"]`,
			`[id*="captcha"]`,
			`input[name*="captcha"]`,
			`img[src*="captcha"]`,
			`canvas[id*="captcha"]`,
		},
		TextPatterns: compileAll(
			`captcha`,
			`verification\s+code`,
			`enter\s+the\s+code`,
			`type\s+the\s+characters`,
			`security\s+code`,
		),
		Weight: 0.7,
	},
}

// recommendations is a static lookup keyed by type; the text is advisory
// only and never drives behavior.
var recommendations = map[ChallengeType]string{
	TypeRecaptchaV2: "Human intervention required - reCAPTCHA v2 detected",
	TypeRecaptchaV3: "reCAPTCHA v3 detected - may require score analysis",
	TypeHCaptcha:    "hCaptcha detected - human intervention required",
	TypeFunCaptcha:  "FunCaptcha/Arkose Labs detected - human intervention required",
	TypeCloudflare:  "Cloudflare challenge detected - wait for challenge to complete",
	TypeGeneric:     "Generic CAPTCHA detected - human intervention required",
}

// Profiles returns the detection table in declaration order.
func Profiles() []Profile {
	return profiles
}

// Recommendation returns the static advisory text for a challenge type.
func Recommendation(t ChallengeType) string {
	if r, ok := recommendations[t]; ok {
		return r
	}
	return "Unknown challenge type detected - human intervention required"
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}
