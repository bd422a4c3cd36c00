package s3

// SecureMIMETypesExtension 是允許上傳的車輛照片類型及其副檔名，
// key 需為 http.DetectContentType 可能回傳的值
var SecureMIMETypesExtension = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// CheckSecureImageAndGetExtension 檢查 MIME 類型是否允許，並返回對應的副檔名
func CheckSecureImageAndGetExtension(mimeType string) (bool, string) {
	ext, ok := SecureMIMETypesExtension[mimeType]
	return ok, ext
}
