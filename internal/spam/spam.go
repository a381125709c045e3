// Package spam implements the per-chat/global multinomial Naive Bayes spam
// classifier from spec §4.4: Laplace-smoothed token statistics, online
// learn/unlearn with symmetric decrement, and a logistic-mapped log-odds
// score.
//
// No file in the retrieval pack implements a Bayes classifier directly, so
// this package is grounded on the teacher's general idiom rather than a
// single source file: small struct + constructor + method-set shape (as in
// internal/ratelimit, internal/cache), log/slog for the background-worker
// failure logging convention, and fmt.Errorf("...: %w") wrapping for the
// errs taxonomy — all carried over from vanducng-goclaw's store/ and
// providers/ packages.
package spam

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/polychat-dev/polychat/internal/errs"
)

// Store persists Bayes token/class counters and the spam/ham message log.
// A real implementation lives on top of internal/storage; tests supply an
// in-memory fake.
type Store interface {
	// IncrementTokens adds delta occurrences of each token to the
	// (spam|ham)_count for (token, chatID) — chatID == 0 means the global
	// model. Must also bump BayesClass.token_count by the sum of deltas and
	// BayesClass.message_count by messageDelta, all in one transaction.
	IncrementTokens(ctx context.Context, chatID int64, isSpam bool, counts map[string]int, messageDelta int) error
	// TokenCounts returns (spam_count, ham_count) for each requested token
	// in (token, chatID), falling back to chatID==0 (global) entries for
	// tokens the per-chat model has never seen isn't done here — callers
	// choose the model first via ClassTotals.
	TokenCounts(ctx context.Context, chatID int64, tokens []string) (map[string][2]int64, error)
	// ClassTotals returns (spam_messages, ham_messages, spam_tokens, ham_tokens) for chatID.
	ClassTotals(ctx context.Context, chatID int64) (spamMsgs, hamMsgs, spamTokens, hamTokens int64, err error)
	// VocabularySize returns the distinct token count (V) for chatID, used
	// in the Laplace-smoothing normalizer.
	VocabularySize(ctx context.Context, chatID int64) (int64, error)
}

// Config tunes preprocessing and the per-chat/global fallback threshold.
type Config struct {
	Alpha             float64 // Laplace smoothing constant, default 1
	MinTokenLen       int     // tokens shorter than this are dropped, default 2
	MinChatMessages   int64   // per-chat model needs at least this many trained messages per class, else fall back to global
}

func (c Config) withDefaults() Config {
	if c.Alpha <= 0 {
		c.Alpha = 1
	}
	if c.MinTokenLen <= 0 {
		c.MinTokenLen = 2
	}
	if c.MinChatMessages <= 0 {
		c.MinChatMessages = 10
	}
	return c
}

// Filter is the spam classifier. Action policy (delete/ban/notify) lives in
// the handler layer; Filter only scores and maintains the token store.
type Filter struct {
	store Store
	cfg   Config
}

func New(store Store, cfg Config) *Filter {
	return &Filter{store: store, cfg: cfg.withDefaults()}
}

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// Tokenize lowercases text, collapses URLs to their domain, splits on
// Unicode word boundaries, and drops tokens shorter than MinTokenLen.
func (f *Filter) Tokenize(text string) []string {
	var domains []string
	text = urlPattern.ReplaceAllStringFunc(text, func(raw string) string {
		u, err := url.Parse(raw)
		if err == nil && u.Host != "" {
			domains = append(domains, "domain:"+strings.ToLower(u.Host))
		}
		return " "
	})

	text = strings.ToLower(text)
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, tok := range fields {
		if len([]rune(tok)) < f.cfg.MinTokenLen {
			continue
		}
		tokens = append(tokens, tok)
	}
	return append(tokens, domains...)
}

// termFrequencies counts occurrences of each token in tokens.
func termFrequencies(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	return counts
}

// Learn trains on text as spam or ham for chatID (0 = global model),
// incrementing per-token occurrence counts and the class totals in a single
// store transaction.
func (f *Filter) Learn(ctx context.Context, chatID int64, text string, isSpam bool) error {
	tokens := f.Tokenize(text)
	counts := termFrequencies(tokens)
	if err := f.store.IncrementTokens(ctx, chatID, isSpam, counts, 1); err != nil {
		return fmt.Errorf("spam: learn: %w", err)
	}
	return nil
}

// Unlearn reverses a prior Learn call: symmetric decrement with a floor of
// zero, enforced by the store (spec §4.4 "Unlearning").
func (f *Filter) Unlearn(ctx context.Context, chatID int64, text string, isSpam bool) error {
	tokens := f.Tokenize(text)
	counts := termFrequencies(tokens)
	negated := make(map[string]int, len(counts))
	for tok, n := range counts {
		negated[tok] = -n
	}
	if err := f.store.IncrementTokens(ctx, chatID, isSpam, negated, -1); err != nil {
		return fmt.Errorf("spam: unlearn: %w", err)
	}
	return nil
}

// Score returns the probability in [0,1] that text is spam for chatID,
// falling back to the global model (chatID 0) when the per-chat model has
// fewer than Config.MinChatMessages trained messages on either side.
func (f *Filter) Score(ctx context.Context, chatID int64, text string) (float64, error) {
	modelChat, err := f.resolveModel(ctx, chatID)
	if err != nil {
		return 0, err
	}

	spamMsgs, hamMsgs, spamTotal, hamTotal, err := f.store.ClassTotals(ctx, modelChat)
	if err != nil {
		return 0, fmt.Errorf("spam: class totals: %w", err)
	}
	if spamMsgs == 0 && hamMsgs == 0 {
		// No training data anywhere: neutral score, not a divide-by-zero.
		return 0.5, nil
	}

	vocab, err := f.store.VocabularySize(ctx, modelChat)
	if err != nil {
		return 0, fmt.Errorf("spam: vocabulary size: %w", err)
	}

	tokens := f.Tokenize(text)
	if len(tokens) == 0 {
		return f.priorOnly(spamMsgs, hamMsgs), nil
	}

	counts, err := f.store.TokenCounts(ctx, modelChat, dedup(tokens))
	if err != nil {
		return 0, fmt.Errorf("spam: token counts: %w", err)
	}

	alpha := f.cfg.Alpha
	logOdds := math.Log(float64(spamMsgs)+alpha) - math.Log(float64(hamMsgs)+alpha)

	for _, tok := range tokens {
		tc := counts[tok] // zero value [0,0] if unseen
		spamCount := float64(tc[0])
		hamCount := float64(tc[1])
		logOdds += math.Log(spamCount+alpha) - math.Log(hamCount+alpha)
		logOdds -= math.Log(float64(spamTotal) + alpha*float64(vocab))
		logOdds += math.Log(float64(hamTotal) + alpha*float64(vocab))
	}

	return logistic(logOdds), nil
}

func (f *Filter) priorOnly(spamMsgs, hamMsgs int64) float64 {
	alpha := f.cfg.Alpha
	logOdds := math.Log(float64(spamMsgs)+alpha) - math.Log(float64(hamMsgs)+alpha)
	return logistic(logOdds)
}

// resolveModel decides whether to use the per-chat model or fall back to
// the global one (chatID 0).
func (f *Filter) resolveModel(ctx context.Context, chatID int64) (int64, error) {
	if chatID == 0 {
		return 0, nil
	}
	spamMsgs, hamMsgs, _, _, err := f.store.ClassTotals(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrInternal, err)
	}
	if spamMsgs < f.cfg.MinChatMessages || hamMsgs < f.cfg.MinChatMessages {
		return 0, nil
	}
	return chatID, nil
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func dedup(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
