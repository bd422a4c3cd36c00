package s3

import (
	"fmt"
	"io"
)

// PhotoTooLargeError 代表上傳的車輛照片超過允許的大小
type PhotoTooLargeError struct {
	Limit int64
}

func (e *PhotoTooLargeError) Error() string {
	return fmt.Sprintf("car photo exceeds the %s upload limit", FormatBytes(e.Limit))
}

// LimitPhotoReader 包裝照片內容，讀到超過 limit 的位元組時
// 回傳 PhotoTooLargeError，已讀取的部分不會超過 limit。
func LimitPhotoReader(body io.Reader, limit int64) io.Reader {
	return &photoLimitReader{body: body, limit: limit, remaining: limit}
}

type photoLimitReader struct {
	body      io.Reader
	limit     int64
	remaining int64
}

func (r *photoLimitReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	// 多讀一個位元組才能分辨「剛好等於上限」與「超過上限」
	if window := r.remaining + 1; int64(len(p)) > window {
		p = p[:window]
	}

	n, err := r.body.Read(p)
	if int64(n) <= r.remaining {
		r.remaining -= int64(n)
		return n, err
	}

	accepted := int(r.remaining)
	r.remaining = 0
	return accepted, &PhotoTooLargeError{Limit: r.limit}
}
