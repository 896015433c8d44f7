// Package builtin contains small, pure transforms used by the loaders.
package builtin

import (
	"time"

	"sparkify/internal/model"
)

// DeriveTime expands an epoch-millisecond timestamp into time-dimension
// attributes. The timestamp is read as UTC; week is the ISO-8601 week number
// and weekday counts from Monday=0 to Sunday=6.
func DeriveTime(tsMillis int64) model.TimeInstant {
	t := time.UnixMilli(tsMillis).UTC()
	_, week := t.ISOWeek()
	return model.TimeInstant{
		StartTime: t,
		Hour:      t.Hour(),
		Day:       t.Day(),
		Week:      week,
		Month:     int(t.Month()),
		Year:      t.Year(),
		Weekday:   (int(t.Weekday()) + 6) % 7,
	}
}
