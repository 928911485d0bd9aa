// Package moderation detects policy violations in chat text. Evaluation is a
// pure function of the text and the engine's fixed vocabulary.
package moderation

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/vedran77/bazaar/internal/domain"
)

const (
	minPhoneDigits = 9
	maxPhoneDigits = 15
	spamRunLength  = 7
)

var (
	phoneCandidate = regexp.MustCompile(`\+?\(?\d[\d\s().\-]{6,}\d`)
	emailPattern   = regexp.MustCompile(`[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	socialPattern  = regexp.MustCompile(`\b(facebook|fb\.com|fb\.me|instagram|insta|whatsapp|whats app|wa\.me|telegram|t\.me|tiktok|snapchat|twitter|x\.com|wechat|line id|zalo|messenger|discord)\b`)
	mentionPattern = regexp.MustCompile(`(?:^|\s)@[a-z0-9_.]{3,}`)
	paymentPattern = regexp.MustCompile(`\b(paypal|venmo|cash ?app|zelle|western union|moneygram|bank transfer|wire transfer|bitcoin|btc|usdt|ethereum|crypto|iban|swift code)\b`)
	transactionPattern = regexp.MustCompile(
		`\b(pay (me )?outside|outside (of )?(the )?(app|platform|site|marketplace)|off[- ]?platform|deal directly|direct deal|buy directly from me|meet (up )?in person|cash on (delivery|pickup)|avoid (the )?(fees?|commission))\b`)
	schemeLinkPattern = regexp.MustCompile(`(https?://|www\.)[^\s]+`)
	bareDomainPattern = regexp.MustCompile(`\b[a-z0-9\-]+(\.[a-z0-9\-]+)*\.(com|net|org|io|co|me|shop|store|info|biz|xyz|app|link|ly)\b(/[^\s]*)?`)
)

// socialHosts are reported as social_media rather than external_link.
var socialHosts = []string{
	"facebook.com", "fb.com", "fb.me", "instagram.com", "wa.me", "whatsapp.com",
	"t.me", "telegram.me", "tiktok.com", "twitter.com", "x.com", "snapchat.com",
	"wechat.com", "zalo.me", "discord.gg", "discord.com", "m.me",
}

type Result struct {
	Compliant  bool                   `json:"compliant"`
	Violations []domain.ViolationKind `json:"violations"`
}

// Engine is safe for concurrent use; it holds no mutable state.
type Engine struct {
	bannedTerms []string
}

// NewEngine builds an engine over the given banned terms. Terms are matched as
// case-insensitive substrings of the normalized text.
func NewEngine(bannedTerms []string) *Engine {
	return &Engine{bannedTerms: MergeTerms(bannedTerms)}
}

// Evaluate reports every violation kind present in text, in the canonical
// order of domain.ViolationKinds. Empty text is compliant.
func (e *Engine) Evaluate(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Compliant: true, Violations: []domain.ViolationKind{}}
	}

	normalized := Normalize(text)
	found := make(map[domain.ViolationKind]bool)

	if hasPhoneNumber(normalized) {
		found[domain.ViolationPhoneNumber] = true
	}
	if emailPattern.MatchString(normalized) {
		found[domain.ViolationEmailAddress] = true
	}

	// Link scans run on the text with addresses removed so an email domain
	// is not reported a second time as a link.
	withoutEmails := emailPattern.ReplaceAllString(normalized, " ")

	social, external := scanLinks(withoutEmails)
	if social || socialPattern.MatchString(withoutEmails) || mentionPattern.MatchString(withoutEmails) {
		found[domain.ViolationSocialMedia] = true
	}
	if external {
		found[domain.ViolationExternalLink] = true
	}
	if paymentPattern.MatchString(normalized) {
		found[domain.ViolationExternalPayment] = true
	}
	if transactionPattern.MatchString(normalized) {
		found[domain.ViolationExternalTransaction] = true
	}
	if hasRepeatedRun(text, spamRunLength) {
		found[domain.ViolationSpamRepetition] = true
	}
	if e.hasBannedTerm(normalized) {
		found[domain.ViolationBannedKeyword] = true
	}

	violations := make([]domain.ViolationKind, 0, len(found))
	for _, kind := range domain.ViolationKinds {
		if found[kind] {
			violations = append(violations, kind)
		}
	}
	return Result{Compliant: len(violations) == 0, Violations: violations}
}

func (e *Engine) hasBannedTerm(normalized string) bool {
	for _, term := range e.bannedTerms {
		if strings.Contains(normalized, term) {
			return true
		}
	}
	return false
}

func hasPhoneNumber(s string) bool {
	for _, candidate := range phoneCandidate.FindAllString(s, -1) {
		digits := 0
		for _, r := range candidate {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits >= minPhoneDigits && digits <= maxPhoneDigits {
			return true
		}
	}
	return false
}

// scanLinks classifies every URL-like token as social or external.
func scanLinks(s string) (social, external bool) {
	var links []string
	links = append(links, schemeLinkPattern.FindAllString(s, -1)...)
	links = append(links, bareDomainPattern.FindAllString(schemeLinkPattern.ReplaceAllString(s, " "), -1)...)

	for _, link := range links {
		if isSocialHost(hostOf(link)) {
			social = true
		} else {
			external = true
		}
	}
	return social, external
}

func hostOf(link string) string {
	raw := link
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return link
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

func isSocialHost(host string) bool {
	for _, h := range socialHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// hasRepeatedRun reports whether any non-space rune repeats n or more times
// consecutively.
func hasRepeatedRun(s string, n int) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if unicode.IsSpace(r) {
			prev, run = 0, 0
			continue
		}
		if r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		if run >= n {
			return true
		}
	}
	return false
}
