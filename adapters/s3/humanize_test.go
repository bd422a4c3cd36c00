package s3_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"carbid/adapters/s3"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{bytes: 0, want: "0 bytes"},
		{bytes: 500, want: "500 bytes"},
		{bytes: 1023, want: "1023 bytes"},
		{bytes: 1024 * 2, want: "2.00 KB"},
		{bytes: 1536, want: "1.50 KB"},
		{bytes: s3.DefaultMaxImageSize, want: "5.00 MB"},
		{bytes: 1024 * 1024 * 1024 * 4, want: "4.00 GB"},
		{bytes: 1024 * 1024 * 1024 * 1024 * 5, want: "5.00 TB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, s3.FormatBytes(tt.bytes))
		})
	}
}
