// Package storage persists export artifacts and hands out time-limited links to them.
package storage

import (
	"fmt"
	"time"
)

const ContentTypeCSV = "text/csv; charset=utf-8"

// ObjectKey is {env}/{yyyy}/{mm}-{dd}/HelloAsso-Payments-Extract-{yyyy-mm-ddTHHMMSSZ}.csv,
// built from the UTC run timestamp.
func ObjectKey(environment string, now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("%s/%d/%02d-%02d/HelloAsso-Payments-Extract-%s.csv",
		environment, now.Year(), int(now.Month()), now.Day(), now.Format("2006-01-02T150405Z"))
}
