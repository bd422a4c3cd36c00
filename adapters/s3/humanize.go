package s3

import "fmt"

var byteUnits = []string{"KB", "MB", "GB", "TB", "PB", "EB"}

// FormatBytes 將位元組數轉成易讀的字串，例如 2048 -> "2.00 KB"
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d bytes", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < len(byteUnits)-1; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %s", float64(n)/float64(div), byteUnits[exp])
}
