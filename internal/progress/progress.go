// netprov is a network-booted bare-metal provisioning client.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package progress extracts structured progress updates out of the
// ocs-sr restore tool's noisy terminal output, the same way the
// original client scrapes percent-complete and transfer-rate figures
// out of its screen-scraped status lines.
package progress

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	elapsedRe      = regexp.MustCompile(`Elapsed: ([\d:]+)`)
	remainingRe    = regexp.MustCompile(`Remaining: ([\d:]+)`)
	completedRe    = regexp.MustCompile(`Completed: +([\d.]+)%`)
	rateRe         = regexp.MustCompile(`([\d.]+)GB/min`)
	currentBlockRe = regexp.MustCompile(`current block: +([\d,]+)`)
	totalBlockRe   = regexp.MustCompile(`total block: +([\d,]+)`)
	completeBlkRe  = regexp.MustCompile(`Complete: +([\d.]+)%`)
	ansiEscape     = regexp.MustCompile("\x1b(?:[@-Z\\\\-_]|\\[[0-?]*[ -/]*[@-~])")
)

// Update is one parsed ocs-sr progress report.
type Update struct {
	Elapsed       time.Duration
	Remaining     time.Duration
	CompletedPct  float64
	RateGBPerMin  float64
	CurrentBlock  int64
	TotalBlock    int64
	CompleteBlock float64
}

// Clean strips ANSI escape sequences and carriage returns from a raw
// line of ocs-sr output, collapsing it to a single line the way the
// original client's format_ocs helper does before logging it.
func Clean(raw string) string {
	s := ansiEscape.ReplaceAllString(raw, "")
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

// Parse extracts an Update from a line of ocs-sr output. It returns
// ok=false when the line does not carry a recognizable progress report
// (most lines don't), matching parse_output_string's all-or-nothing
// behavior: either every expected field is present and well formed, or
// the line is not a progress line at all.
func Parse(line string) (Update, bool) {
	if !completedRe.MatchString(line) {
		return Update{}, false
	}

	elapsedStr := firstMatch(elapsedRe, line)
	remainingStr := firstMatch(remainingRe, line)
	completedStr := firstMatch(completedRe, line)
	rateStr := firstMatch(rateRe, line)
	currentBlockStr := firstMatch(currentBlockRe, line)
	totalBlockStr := firstMatch(totalBlockRe, line)
	completeBlockStr := firstMatch(completeBlkRe, line)

	if elapsedStr == "" || remainingStr == "" || completedStr == "" || rateStr == "" ||
		currentBlockStr == "" || totalBlockStr == "" || completeBlockStr == "" {
		return Update{}, false
	}

	elapsed, ok := parseClock(elapsedStr)
	if !ok {
		return Update{}, false
	}
	remaining, ok := parseClock(remainingStr)
	if !ok {
		return Update{}, false
	}
	completed, err := strconv.ParseFloat(completedStr, 64)
	if err != nil {
		return Update{}, false
	}
	rate, err := strconv.ParseFloat(rateStr, 64)
	if err != nil {
		return Update{}, false
	}
	currentBlock, err := strconv.ParseInt(strings.ReplaceAll(currentBlockStr, ",", ""), 10, 64)
	if err != nil {
		return Update{}, false
	}
	totalBlock, err := strconv.ParseInt(strings.ReplaceAll(totalBlockStr, ",", ""), 10, 64)
	if err != nil {
		return Update{}, false
	}
	completeBlock, err := strconv.ParseFloat(completeBlockStr, 64)
	if err != nil {
		return Update{}, false
	}

	return Update{
		Elapsed:       elapsed,
		Remaining:     remaining,
		CompletedPct:  completed,
		RateGBPerMin:  rate,
		CurrentBlock:  currentBlock,
		TotalBlock:    totalBlock,
		CompleteBlock: completeBlock,
	}, true
}

func firstMatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// parseClock parses an HH:MM:SS clock string into a Duration.
func parseClock(s string) (time.Duration, bool) {
	if len(s) < 7 {
		return 0, false
	}
	h, err := strconv.Atoi(s[0:2])
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(s[3:5])
	if err != nil {
		return 0, false
	}
	sec, err := strconv.Atoi(s[6:])
	if err != nil {
		return 0, false
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, true
}
