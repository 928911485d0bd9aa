package moderation_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/moderation"
)

func newEngine() *moderation.Engine {
	return moderation.NewEngine(moderation.DefaultBannedTerms)
}

func TestEvaluateSingleKinds(t *testing.T) {
	t.Parallel()
	engine := newEngine()

	tests := []struct {
		name string
		text string
		want domain.ViolationKind
	}{
		{"phone dashed", "call me at 555-123-4567", domain.ViolationPhoneNumber},
		{"phone international", "my number +84 912 345 678", domain.ViolationPhoneNumber},
		{"phone fullwidth digits", "text ５５５１２３４５６７", domain.ViolationPhoneNumber},
		{"email", "write to Seller.Joe@Example.org please", domain.ViolationEmailAddress},
		{"social name", "add me on WhatsApp", domain.ViolationSocialMedia},
		{"social link", "see t.me/joeshop", domain.ViolationSocialMedia},
		{"social mention", "follow @joe_shop for more", domain.ViolationSocialMedia},
		{"payment", "I only take PayPal", domain.ViolationExternalPayment},
		{"transaction", "let's deal directly and avoid the fees", domain.ViolationExternalTransaction},
		{"external link", "cheaper at https://shop.example.net/item", domain.ViolationExternalLink},
		{"bare domain", "check joesdeals.shop", domain.ViolationExternalLink},
		{"spam", "hellooooooo", domain.ViolationSpamRepetition},
		{"banned keyword", "it's a REPLICA but looks real", domain.ViolationBannedKeyword},
		{"banned keyword accented", "totally cöunterfeit", domain.ViolationBannedKeyword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := engine.Evaluate(tt.text)
			assert.False(t, res.Compliant)
			assert.Equal(t, []domain.ViolationKind{tt.want}, res.Violations)
		})
	}
}

func TestEvaluateCleanText(t *testing.T) {
	t.Parallel()
	engine := newEngine()

	clean := []string{
		"",
		"   ",
		"hi",
		"Hi, is this still available? I can pick it up tomorrow.",
		"Would you take 1500 for 2 of them?",
		"Thanks!!! Great seller",
		"size 42, colour blue, ships in 3 days",
	}
	for _, text := range clean {
		res := engine.Evaluate(text)
		assert.True(t, res.Compliant, "text %q", text)
		assert.Empty(t, res.Violations, "text %q", text)
	}
}

func TestEvaluateReportsAllKinds(t *testing.T) {
	t.Parallel()
	engine := newEngine()

	res := engine.Evaluate("call 555-123-4567 or mail joe@example.com, pay by venmo!!!!!!!!")
	assert.False(t, res.Compliant)
	assert.Equal(t, []domain.ViolationKind{
		domain.ViolationPhoneNumber,
		domain.ViolationEmailAddress,
		domain.ViolationExternalPayment,
		domain.ViolationSpamRepetition,
	}, res.Violations)
}

func TestEvaluateEmailDomainIsNotALink(t *testing.T) {
	t.Parallel()
	res := newEngine().Evaluate("joe@gmail.com")
	assert.Equal(t, []domain.ViolationKind{domain.ViolationEmailAddress}, res.Violations)
}

func TestEvaluateSpamThreshold(t *testing.T) {
	t.Parallel()
	engine := newEngine()

	assert.True(t, engine.Evaluate("aaaaaa").Compliant, "six repeats is allowed")
	assert.False(t, engine.Evaluate("aaaaaaa").Compliant, "seven repeats is spam")
	assert.True(t, engine.Evaluate("a a a a a a a a").Compliant, "whitespace breaks a run")
}

func TestEvaluateIsDeterministicAndConcurrent(t *testing.T) {
	t.Parallel()
	engine := newEngine()
	text := "whatsapp me at 555-123-4567"
	want := engine.Evaluate(text)

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, engine.Evaluate(text))
		}()
	}
	wg.Wait()
}

func TestLoadWordlist(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "wordlist.toml")
	require.NoError(t, os.WriteFile(path, []byte(`terms = ["Knockoff", "burner account"]`), 0o600))

	terms, err := moderation.LoadWordlist(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Knockoff", "burner account"}, terms)

	engine := moderation.NewEngine(moderation.MergeTerms(moderation.DefaultBannedTerms, terms))
	assert.Equal(t, []domain.ViolationKind{domain.ViolationBannedKeyword}, engine.Evaluate("selling a KNOCKOFF bag").Violations)
}

func TestMergeTerms(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"fake id", "scam"}, moderation.MergeTerms([]string{"Fake ID", " "}, []string{"fake id", "SCAM"}))
}
