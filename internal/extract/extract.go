// Package extract turns free entry text into structured metadata.
//
// Extraction is a pure, total function: any input yields a Result, possibly
// with empty fields. It never touches the store.
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Categories is the closed performance-category vocabulary. Mentions are
// matched case-insensitively and canonicalized to these exact spellings;
// anything else after an @ is silently dropped.
var Categories = []string{
	"Quality",
	"FunctionalExpertise",
	"Productivity",
	"ServiceExcellence",
	"Leadership",
	"Innovation",
	"Teamwork",
}

var canonicalCategories = func() map[string]string {
	m := make(map[string]string, len(Categories))
	for _, c := range Categories {
		m[strings.ToLower(c)] = c
	}
	return m
}()

var (
	tagPattern      = regexp.MustCompile(`#([\w-]+)`)
	ticketPattern   = regexp.MustCompile(`\b[A-Z]{2,}-\d+\b`)
	categoryPattern = regexp.MustCompile(`@(\w+)`)

	yesterdayDirective = regexp.MustCompile(`(?i)^yesterday:\s*`)
	daysAgoDirective   = regexp.MustCompile(`(?i)^(\d+)\s+days?\s+ago:\s*`)
	weekdayDirective   = regexp.MustCompile(`(?i)^last\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday):\s*`)
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Result is the structured metadata extracted from one entry's plain text.
type Result struct {
	// EffectiveDate is the date the entry should be attributed to. When no
	// directive is present it equals the reference time passed in.
	EffectiveDate time.Time
	// HasDateDirective reports whether EffectiveDate came from a directive
	// rather than defaulting. Callers give an explicit user-chosen date
	// precedence over the directive.
	HasDateDirective bool
	// CleanedText is the input with the directive prefix stripped. Tags,
	// ticket keys and category mentions stay in place.
	CleanedText           string
	Tags                  []string
	TicketKeys            []string
	PerformanceCategories []string
}

// Extract derives tags, ticket keys, category mentions and an optional
// backdating directive from plain text. now anchors relative directives.
func Extract(plainText string, now time.Time) Result {
	result := Result{
		EffectiveDate: now,
		CleanedText:   plainText,
	}

	if date, rest, ok := parseDirective(plainText, now); ok {
		result.EffectiveDate = date
		result.HasDateDirective = true
		result.CleanedText = rest
	}

	result.Tags = uniqueSubmatches(tagPattern, plainText)
	result.TicketKeys = uniqueMatches(ticketPattern, plainText)
	result.PerformanceCategories = matchCategories(plainText)
	return result
}

// parseDirective recognizes a leading "yesterday:", "N days ago:" or
// "last <weekday>:" phrase, case-insensitively, and resolves it against now.
func parseDirective(text string, now time.Time) (time.Time, string, bool) {
	if loc := yesterdayDirective.FindStringIndex(text); loc != nil {
		return now.AddDate(0, 0, -1), text[loc[1]:], true
	}
	if m := daysAgoDirective.FindStringSubmatchIndex(text); m != nil {
		n, err := strconv.Atoi(text[m[2]:m[3]])
		if err == nil {
			return now.AddDate(0, 0, -n), text[m[1]:], true
		}
	}
	if m := weekdayDirective.FindStringSubmatchIndex(text); m != nil {
		target := weekdays[strings.ToLower(text[m[2]:m[3]])]
		// Most recent occurrence strictly before today. When today is the
		// named weekday this goes back a full week, never zero days.
		back := int(now.Weekday()) - int(target)
		if back <= 0 {
			back += 7
		}
		return now.AddDate(0, 0, -back), text[m[1]:], true
	}
	return time.Time{}, "", false
}

func uniqueMatches(pattern *regexp.Regexp, text string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, m := range pattern.FindAllString(text, -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

func uniqueSubmatches(pattern *regexp.Regexp, text string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, m := range pattern.FindAllStringSubmatch(text, -1) {
		label := m[1]
		if !seen[label] {
			seen[label] = true
			out = append(out, label)
		}
	}
	return out
}

func matchCategories(text string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, m := range categoryPattern.FindAllStringSubmatch(text, -1) {
		canonical, ok := canonicalCategories[strings.ToLower(m[1])]
		if !ok || seen[canonical] {
			continue
		}
		seen[canonical] = true
		out = append(out, canonical)
	}
	return out
}
