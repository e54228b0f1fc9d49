package shared

import (
	"fmt"
	"time"
)

// InvoiceLockKey builds redis keys for the confirm/unconfirm critical section
// of one customer-month.
func InvoiceLockKey(customerID int64, year int, month time.Month) string {
	return fmt.Sprintf("billing:invoice:%d:%04d-%02d:lock", customerID, year, int(month))
}

// BatchLockKey guards a whole-month batch run.
func BatchLockKey(year int, month time.Month) string {
	return fmt.Sprintf("billing:batch:%04d-%02d:lock", year, int(month))
}
