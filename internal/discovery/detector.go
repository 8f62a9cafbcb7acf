package discovery

import (
	"regexp"
	"strings"
)

var captchaSignature = regexp.MustCompile(`(?i)captcha`)

// Detector decides whether a static fetch is worth re-running through the
// renderer, and whether a body is a captcha interstitial.
type Detector struct {
	minHTMLBytes    int
	scriptThreshold int
	anchorFloor     int
}

// NewDetector constructs a Detector with the configured thresholds. Zero
// values fall back to the defaults tuned against hotel marketing sites.
func NewDetector(minHTMLBytes, scriptThreshold, anchorFloor int) *Detector {
	if minHTMLBytes <= 0 {
		minHTMLBytes = 2000
	}
	if scriptThreshold <= 0 {
		scriptThreshold = 20
	}
	if anchorFloor <= 0 {
		anchorFloor = 5
	}
	return &Detector{
		minHTMLBytes:    minHTMLBytes,
		scriptThreshold: scriptThreshold,
		anchorFloor:     anchorFloor,
	}
}

// JSHeavy reports whether the body looks like a client-rendered shell: too
// short to be a real page, or script-dense with almost no anchors.
func (d *Detector) JSHeavy(body string) bool {
	if body == "" {
		return true
	}
	if len(body) < d.minHTMLBytes {
		return true
	}
	lower := strings.ToLower(body)
	scripts := strings.Count(lower, "<script")
	anchors := strings.Count(lower, "<a")
	return scripts > d.scriptThreshold && anchors < d.anchorFloor
}

// LooksLikeCaptcha reports whether the body matches the captcha signature.
func (d *Detector) LooksLikeCaptcha(body string) bool {
	if body == "" {
		return false
	}
	return captchaSignature.MatchString(body)
}
