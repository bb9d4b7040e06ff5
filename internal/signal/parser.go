package signal

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	dollarAmount = regexp.MustCompile(`\$\s*([\d.,]+)`)

	entryMarker = regexp.MustCompile(`(?i)ENTRADA|ENTRY`)
	// first section marker after the entry block
	entryEnd = regexp.MustCompile(`(?i)🚀|\bTP|LEVERAGE|APALANCAMIENTO|STOP`)

	tpMarker = regexp.MustCompile(`(?i)\bTP(?:'?S)?`)
	tpEnd    = regexp.MustCompile(`(?i)LEVERAGE|APALANCAMIENTO|STOP`)

	percentWithPrice = regexp.MustCompile(`([\d.]+)\s*%\s*\(\$\s*([\d.,]+)\)`)

	stopLossClause   = regexp.MustCompile(`(?i)STOP\s*LOSS[:\s]*[\d.]+\s*%\s*\(\$\s*([\d.,]+)\)`)
	stopLossPlain    = regexp.MustCompile(`(?i)STOP\s*LOSS[:\s]*\$\s*([\d.,]+)`)
	leveragePattern  = regexp.MustCompile(`(?is)(?:LEVERAGE|APALANCAMIENTO).*?(\d+)\s*X`)
	longMarker       = regexp.MustCompile(`(?i)\bLONG\b`)
	shortMarker      = regexp.MustCompile(`(?i)\bSHORT\b`)
	fiboMarker       = regexp.MustCompile(`(?i)FIBO`)
	fiboLong         = regexp.MustCompile(`(?i)\bLONG\b.*FIBO|FIBO.*\bLONG\b`)
	fiboShort        = regexp.MustCompile(`(?i)\bSHORT\b.*FIBO|FIBO.*\bSHORT\b`)
	maCrossMarker    = regexp.MustCompile(`(?i)EMA.*CROSS|ALERTAS.*EMA`)
	timeframeCode    = regexp.MustCompile(`(?i)\(([mhd]\d+|\d+[mhd])\)`)
	maPeriodPair     = regexp.MustCompile(`(?i)EMA.*?(\d+)/(\d+)`)
)

const (
	greenCircle = "🟢"
	redCircle   = "🔴"
)

// Parse extracts the structured fields of a signal message. It never fails: fields that
// cannot be found keep their zero value and parsing continues with the rest.
func Parse(text string) Signal {
	sig := Signal{
		Direction:   parseDirection(text),
		EntryPrices: parseEntries(text),
		StopLoss:    parseStopLoss(text),
		Leverage:    parseLeverage(text),
		Subtype:     SubtypeNone,
	}
	sig.TakeProfits = parseTakeProfits(text)

	if fiboMarker.MatchString(text) {
		sig.Subtype = SubtypeRetracement
		sig.Timeframe = RetracementTimeframe
		if fiboLong.MatchString(text) {
			sig.Direction = DirectionLong
		}
		if fiboShort.MatchString(text) {
			sig.Direction = DirectionShort
		}
	}

	if maCrossMarker.MatchString(text) {
		sig.Subtype = SubtypeMACross
		sig.Timeframe = MACrossTimeframe
		if m := timeframeCode.FindStringSubmatch(text); m != nil {
			if tf := normalizeTimeframe(m[1]); tf != "" {
				sig.Timeframe = tf
			}
		}
		sig.FastPeriod, sig.SlowPeriod = DefaultFastPeriod, DefaultSlowPeriod
		if m := maPeriodPair.FindStringSubmatch(text); m != nil {
			fast, errFast := strconv.Atoi(m[1])
			slow, errSlow := strconv.Atoi(m[2])
			if errFast == nil && errSlow == nil && fast > 0 && slow > 0 {
				sig.FastPeriod, sig.SlowPeriod = fast, slow
			}
		}
	}

	return sig
}

// parseDirection applies LONG then SHORT, so SHORT wins when both markers are present
func parseDirection(text string) Direction {
	dir := DirectionUnknown
	if longMarker.MatchString(text) || strings.Contains(text, greenCircle) {
		dir = DirectionLong
	}
	if shortMarker.MatchString(text) || strings.Contains(text, redCircle) {
		dir = DirectionShort
	}
	return dir
}

func parseEntries(text string) []float64 {
	section, ok := sectionAfter(text, entryMarker, entryEnd)
	if !ok {
		return []float64{}
	}
	return dollarAmounts(section)
}

func parseTakeProfits(text string) []TakeProfit {
	tps := []TakeProfit{}
	if section, ok := sectionAfter(text, tpMarker, tpEnd); ok {
		for i, price := range dollarAmounts(section) {
			tps = append(tps, TakeProfit{Level: i + 1, Price: price})
		}
	}
	if len(tps) > 0 {
		return tps
	}

	// Percent-with-price pairs anywhere, except the stop-loss clause.
	rest := stopLossClause.ReplaceAllString(text, "")
	for _, m := range percentWithPrice.FindAllStringSubmatch(rest, -1) {
		price, ok := parseAmount(m[2])
		if !ok {
			continue
		}
		pct, _ := strconv.ParseFloat(strings.TrimRight(m[1], "."), 64)
		tps = append(tps, TakeProfit{Level: len(tps) + 1, Price: price, Percent: pct})
	}
	return tps
}

func parseStopLoss(text string) *float64 {
	m := stopLossClause.FindStringSubmatch(text)
	if m == nil {
		m = stopLossPlain.FindStringSubmatch(text)
	}
	if m == nil {
		return nil
	}
	if v, ok := parseAmount(m[1]); ok {
		return &v
	}
	return nil
}

func parseLeverage(text string) *int {
	m := leveragePattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	lev, err := strconv.Atoi(m[1])
	if err != nil || lev <= 0 {
		return nil
	}
	return &lev
}

// sectionAfter returns the text between the first start marker and the next end marker.
// RE2 has no lookahead, so the end is located by a second search.
func sectionAfter(text string, start, end *regexp.Regexp) (string, bool) {
	loc := start.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	rest := text[loc[1]:]
	if e := end.FindStringIndex(rest); e != nil {
		rest = rest[:e[0]]
	}
	return rest, true
}

func dollarAmounts(section string) []float64 {
	out := []float64{}
	for _, m := range dollarAmount.FindAllStringSubmatch(section, -1) {
		if v, ok := parseAmount(m[1]); ok {
			out = append(out, v)
		}
	}
	return out
}

func parseAmount(raw string) (float64, bool) {
	raw = strings.ReplaceAll(raw, ",", "")
	raw = strings.TrimRight(raw, ".")
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
