package command

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var remindRe = regexp.MustCompile(`(?i)^\.remind\s+(.+)\s+(\d{2}-\d{2}-\d{4})\s+jam\s+(\d{2}:\d{2})$`)

// parseRemind reads ".remind <text> <dd-mm-yyyy> jam <hh:mm>" with the
// date and time in loc. It reports false for malformed input and for
// dates that do not exist on the calendar.
func parseRemind(body string, loc *time.Location) (text string, deadline time.Time, ok bool) {
	m := remindRe.FindStringSubmatch(strings.TrimSpace(body))
	if m == nil {
		return "", time.Time{}, false
	}
	text = strings.TrimSpace(m[1])
	if text == "" {
		return "", time.Time{}, false
	}

	dmy := strings.Split(m[2], "-")
	hm := strings.Split(m[3], ":")
	day, _ := strconv.Atoi(dmy[0])
	month, _ := strconv.Atoi(dmy[1])
	year, _ := strconv.Atoi(dmy[2])
	hour, _ := strconv.Atoi(hm[0])
	minute, _ := strconv.Atoi(hm[1])

	if month < 1 || month > 12 || day < 1 || hour > 23 || minute > 59 {
		return "", time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	// time.Date normalizes 31-02 into March; reject instead.
	if t.Day() != day || int(t.Month()) != month {
		return "", time.Time{}, false
	}
	return text, t.UTC(), true
}

// splitArgs tokenizes a command body on whitespace; args[0] is the command word.
func splitArgs(body string) []string {
	return strings.Fields(body)
}
