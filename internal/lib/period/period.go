// Package period содержит расчёт даты окончания оплаченного периода.
package period

import (
	"fmt"
	"time"
)

// End возвращает момент окончания доступа на days календарных дней,
// считая от now: 23:59:59 UTC в день now + (days - 1). Доступ на N дней
// означает доступ до конца N-го календарного дня, а не N*24 часа.
func End(now time.Time, days int) (time.Time, error) {
	if days <= 0 {
		return time.Time{}, fmt.Errorf("period days must be positive, got %d", days)
	}
	d := now.UTC().AddDate(0, 0, days-1)
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, time.UTC), nil
}
