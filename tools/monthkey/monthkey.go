package monthkey

import (
	"fmt"
	"time"
)

const layout = "2006-01"

var thaiMonths = [...]string{
	"มกราคม", "กุมภาพันธ์", "มีนาคม", "เมษายน", "พฤษภาคม", "มิถุนายน",
	"กรกฎาคม", "สิงหาคม", "กันยายน", "ตุลาคม", "พฤศจิกายน", "ธันวาคม",
}

// buddhistEraOffset converts a Gregorian year into the Thai calendar year
const buddhistEraOffset = 543

// Parse validates a "YYYY-MM" key and returns the first instant of that month in UTC
func Parse(key string) (time.Time, error) {
	t, err := time.Parse(layout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month key '%s': expected YYYY-MM: %w", key, err)
	}
	return t, nil
}

// FromTime returns the month key of t
func FromTime(t time.Time) string {
	return t.Format(layout)
}

// Label renders the month for display, e.g. "มิถุนายน 2567" for "2024-06"
func Label(key string) (string, error) {
	t, err := Parse(key)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %d", thaiMonths[t.Month()-1], t.Year()+buddhistEraOffset), nil
}
