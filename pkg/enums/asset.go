package enums

import "fmt"

// AssetSourceType records where an owned asset originated.
type AssetSourceType string

const (
	AssetSourceCard          AssetSourceType = "card"
	AssetSourceUploadedImage AssetSourceType = "uploaded_image"
)

var validAssetSourceTypes = []AssetSourceType{
	AssetSourceCard,
	AssetSourceUploadedImage,
}

func (s AssetSourceType) IsValid() bool {
	for _, candidate := range validAssetSourceTypes {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseAssetSourceType(value string) (AssetSourceType, error) {
	for _, candidate := range validAssetSourceTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid asset source type %q", value)
}

// UploadStatus tracks an uploaded image between presign and finalize.
type UploadStatus string

const (
	UploadStatusPending  UploadStatus = "pending"
	UploadStatusUploaded UploadStatus = "uploaded"
)
