package reminder

import (
	"fmt"
	"time"
)

// FormatLocal renders t the way the relay displays deadlines ("18/9/2025, 19.00.00").
func FormatLocal(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return fmt.Sprintf("%d/%d/%d, %02d.%02d.%02d",
		lt.Day(), int(lt.Month()), lt.Year(), lt.Hour(), lt.Minute(), lt.Second())
}

func confirmText(text string, deadline time.Time, loc *time.Location) string {
	return fmt.Sprintf("✅ Reminder diset untuk \"%s\" pada %s", text, FormatLocal(deadline, loc))
}

func warningText(text string, before time.Duration) string {
	return fmt.Sprintf("⏰ Reminder %d menit sebelum deadline!\n📌 %s", int(before.Round(time.Minute)/time.Minute), text)
}

func deadlineText(text string) string {
	return fmt.Sprintf("🚨 \"%s\" TELAH MEMASUKI DEADLINE sekarang!", text)
}
