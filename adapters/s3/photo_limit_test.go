package s3_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbid/adapters/s3"
)

func TestLimitPhotoReader(t *testing.T) {
	tests := []struct {
		name       string
		input      []byte
		limit      int64
		wantN      int
		wantErrMsg string
	}{
		{
			name:  "照片小於上限",
			input: []byte("hello"),
			limit: 10,
			wantN: 5,
		},
		{
			name:  "照片剛好等於上限",
			input: []byte("hello"),
			limit: 5,
			wantN: 5,
		},
		{
			name:       "照片超過上限",
			input:      []byte("hello world"),
			limit:      5,
			wantN:      5,
			wantErrMsg: "car photo exceeds the 5 bytes upload limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := s3.LimitPhotoReader(bytes.NewReader(tt.input), tt.limit)
			buf := make([]byte, len(tt.input))
			n, err := reader.Read(buf)

			assert.Equal(t, tt.wantN, n)
			if tt.wantErrMsg != "" {
				assert.EqualError(t, err, tt.wantErrMsg)
				return
			}
			assert.True(t, err == nil || err == io.EOF)
		})
	}
}

func TestLimitPhotoReader_ReadAll(t *testing.T) {
	photo := bytes.Repeat([]byte("a"), 3000)

	data, err := io.ReadAll(s3.LimitPhotoReader(bytes.NewReader(photo), 4096))
	require.NoError(t, err)
	assert.Len(t, data, 3000)

	data, err = io.ReadAll(s3.LimitPhotoReader(bytes.NewReader(photo), 2048))
	var tooLarge *s3.PhotoTooLargeError
	require.True(t, errors.As(err, &tooLarge))
	assert.Equal(t, int64(2048), tooLarge.Limit)
	assert.Len(t, data, 2048)
	assert.EqualError(t, err, "car photo exceeds the 2.00 KB upload limit")
}
