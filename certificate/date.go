package certificate

import "time"

// DateLayout is the printed date format, DD-MM-YYYY.
const DateLayout = "02-01-2006"

// FormatDate formats t the way it is printed on a certificate.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
