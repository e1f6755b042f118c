package enums

import "fmt"

// ListingStatus tracks a marketplace listing's lifecycle.
type ListingStatus string

const (
	ListingStatusListed   ListingStatus = "listed"
	ListingStatusSold     ListingStatus = "sold"
	ListingStatusInactive ListingStatus = "inactive"
)

var validListingStatuses = []ListingStatus{
	ListingStatusListed,
	ListingStatusSold,
	ListingStatusInactive,
}

func (s ListingStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ListingStatus.
func (s ListingStatus) IsValid() bool {
	for _, candidate := range validListingStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseListingStatus converts raw input into a ListingStatus.
func ParseListingStatus(value string) (ListingStatus, error) {
	for _, candidate := range validListingStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid listing status %q", value)
}

// ListingSourceType identifies what a listing sells.
type ListingSourceType string

const (
	ListingSourceAsset         ListingSourceType = "asset"
	ListingSourceUploadedImage ListingSourceType = "uploaded_image"
)

var validListingSourceTypes = []ListingSourceType{
	ListingSourceAsset,
	ListingSourceUploadedImage,
}

func (s ListingSourceType) String() string {
	return string(s)
}

func (s ListingSourceType) IsValid() bool {
	for _, candidate := range validListingSourceTypes {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseListingSourceType(value string) (ListingSourceType, error) {
	for _, candidate := range validListingSourceTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid listing source type %q", value)
}
