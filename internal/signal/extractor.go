package signal

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"signal-trading-bot/internal/market"
)

// ErrNoSymbol means no pattern produced a candidate that exists on the exchange
var ErrNoSymbol = errors.New("no tradeable symbol in message")

// SymbolValidator confirms that a candidate symbol is listed. A symbol that is not listed
// returns (false, nil); transport failures return an error.
type SymbolValidator interface {
	Exists(ctx context.Context, symbol string) (bool, error)
}

// symbolPatterns are tried in order, most specific first. Group 1 is the candidate.
var symbolPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)#([0-9A-Z]{2,15}USDT)`),
	regexp.MustCompile(`(?i)([0-9A-Z]{2,15}USDT)`),
	regexp.MustCompile(`(?i)#([0-9A-Z]{2,10}USDT)\s+(?:LONG|SHORT)`),
	regexp.MustCompile(`(?i)#([0-9A-Z]{2,10})\s+(?:LONG|SHORT)`),
	regexp.MustCompile(`(?i)EMA\s+CROSS.*#([0-9A-Z]{2,15}USDT)`),
	regexp.MustCompile(`(?i)ALERTAS.*EMA.*#([0-9A-Z]{2,15}USDT)`),
	regexp.MustCompile(`(?i)#([0-9A-Z]{2,15}USDT).*EMA`),
	regexp.MustCompile(`(?i)\b([0-9A-Z]{2,10})\s*(?:📈|📉|🟢|🔴)`),
	regexp.MustCompile(`(?i)\b([0-9A-Z]{2,10})\s*LONG`),
	regexp.MustCompile(`(?i)\b([0-9A-Z]{2,10})\s*SHORT`),
	regexp.MustCompile(`(?i)\b([0-9A-Z]{2,10})\s*SIGNAL`),
}

var nonAlphanumeric = regexp.MustCompile(`[^0-9A-Z]`)

const (
	minStemLength = 2
	maxStemLength = 15
)

// Extractor finds the exchange symbol a message refers to
type Extractor struct {
	validator  SymbolValidator
	quoteAsset string
	logger     zerolog.Logger
}

// NewExtractor creates an extractor appending quoteAsset to bare tickers
func NewExtractor(validator SymbolValidator, quoteAsset string, logger zerolog.Logger) *Extractor {
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}
	return &Extractor{
		validator:  validator,
		quoteAsset: strings.ToUpper(quoteAsset),
		logger:     logger.With().Str("component", "symbol_extractor").Logger(),
	}
}

// Candidates returns the normalized candidates in priority order without validating them
func (e *Extractor) Candidates(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range symbolPatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			cand, ok := e.normalize(m[1])
			if !ok || seen[cand] {
				continue
			}
			seen[cand] = true
			out = append(out, cand)
		}
	}
	return out
}

// Extract returns the first candidate the validator accepts. A validator transport
// error is returned wrapped in market.ErrDataUnavailable rather than treated as "not listed".
func (e *Extractor) Extract(ctx context.Context, text string) (string, error) {
	candidates := e.Candidates(text)
	for _, cand := range candidates {
		ok, err := e.validator.Exists(ctx, cand)
		if err != nil {
			return "", fmt.Errorf("validate %s: %w: %w", cand, market.ErrDataUnavailable, err)
		}
		if ok {
			return cand, nil
		}
		e.logger.Debug().Str("candidate", cand).Msg("candidate not listed")
	}
	if len(candidates) == 0 {
		return "", ErrNoSymbol
	}
	return "", fmt.Errorf("%w (tried %s)", ErrNoSymbol, strings.Join(candidates, ", "))
}

func (e *Extractor) normalize(raw string) (string, bool) {
	cand := nonAlphanumeric.ReplaceAllString(strings.ToUpper(raw), "")
	stem := strings.TrimSuffix(cand, e.quoteAsset)
	if len(stem) < minStemLength || len(stem) > maxStemLength {
		return "", false
	}
	return stem + e.quoteAsset, true
}
