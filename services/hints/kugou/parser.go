package kugou

import (
	"encoding/base64"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	// LRC timestamp: [mm:ss.xx] or [mm:ss:xxx]
	lrcTimeRegex = regexp.MustCompile(`\[(\d{2}):(\d{2})[\.:]+(\d{2,3})\]`)

	// Metadata tags like [ar:Artist] or [offset:500]
	metadataRegex = regexp.MustCompile(`^\[([a-zA-Z]+):([^\]]*)\]$`)

	// Credit lines ("[00:05.00]Composed by：...") carry a fullwidth colon
	// after the timestamp.
	creditRegex = regexp.MustCompile(`^\[\d{2}:\d{2}[\.:]\d{2,3}\].+：.+`)
)

const (
	// pureMusicText is the placeholder Kugou serves for instrumentals.
	pureMusicText = "纯音乐，请欣赏"

	// creditScanLines bounds how far from head and tail credit lines are
	// looked for.
	creditScanLines = 30
)

// decodeLyricContent decodes the base64 payload the download endpoint
// returns, dropping any BOM.
func decodeLyricContent(encoded string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(string(decoded), "\uFEFF"), nil
}

// normalizeLyric keeps only timestamped lines and trims credit blocks from
// the head and tail. Instrumental placeholders normalize to nothing since an
// instrumental cannot hint at anything.
func normalizeLyric(lrc string) string {
	lrc = strings.ReplaceAll(lrc, "&apos;", "'")
	if strings.Contains(lrc, pureMusicText) {
		return ""
	}

	var accepted []string
	for _, rawLine := range strings.Split(lrc, "\n") {
		rawLine = strings.TrimSpace(rawLine)
		if rawLine == "" {
			continue
		}
		if lrcTimeRegex.MatchString(rawLine) {
			accepted = append(accepted, rawLine)
		}
	}
	if len(accepted) == 0 {
		return ""
	}

	// Head: find the last credit line near the top and cut through it, which
	// also drops any title lines sitting above the credits.
	headCut := 0
	headLimit := creditScanLines
	if headLimit > len(accepted) {
		headLimit = len(accepted)
	}
	for i := headLimit - 1; i >= 0; i-- {
		if creditRegex.MatchString(accepted[i]) {
			headCut = i + 1
			break
		}
	}

	// Tail: same scan from the bottom up.
	tailCut := 0
	for i := 0; i < creditScanLines && i < len(accepted); i++ {
		idx := len(accepted) - 1 - i
		if idx < headCut {
			break
		}
		if creditRegex.MatchString(accepted[idx]) {
			tailCut = i + 1
			break
		}
	}

	end := len(accepted) - tailCut
	if end < headCut {
		end = headCut
	}
	return strings.Join(accepted[headCut:end], "\n")
}

// lyricLines flattens normalized LRC into plain text lines in playback
// order. A line repeated under several timestamps appears once per
// timestamp, keeping choruses where the song actually sings them.
func lyricLines(lrc string) []string {
	type timedLine struct {
		at   int64
		text string
	}
	var timed []timedLine

	for _, rawLine := range strings.Split(lrc, "\n") {
		rawLine = strings.TrimSpace(rawLine)
		if rawLine == "" || metadataRegex.MatchString(rawLine) {
			continue
		}

		var stamps []int64
		text := rawLine
		for {
			loc := lrcTimeRegex.FindStringIndex(text)
			if loc == nil || loc[0] != 0 {
				break
			}
			match := lrcTimeRegex.FindStringSubmatch(text)
			if len(match) < 4 {
				break
			}

			minutes, _ := strconv.ParseInt(match[1], 10, 64)
			seconds, _ := strconv.ParseInt(match[2], 10, 64)
			millis, _ := strconv.ParseInt(match[3], 10, 64)
			if len(match[3]) == 2 {
				millis *= 10 // centiseconds
			}
			stamps = append(stamps, minutes*60*1000+seconds*1000+millis)

			text = text[loc[1]:]
		}

		text = strings.TrimSpace(text)
		if text == "" || len(stamps) == 0 {
			continue
		}
		for _, at := range stamps {
			timed = append(timed, timedLine{at: at, text: text})
		}
	}

	sort.SliceStable(timed, func(i, j int) bool { return timed[i].at < timed[j].at })

	lines := make([]string, len(timed))
	for i, tl := range timed {
		lines[i] = tl.text
	}
	return lines
}
