package dataset

import (
	"encoding/json"
	"fmt"
	"strings"
)

// License is the registry licence vocabulary. On the wire it appears either
// as the enum name or as the licence legal-code URL; it is always written
// back as the enum name.
type License string

const (
	LicenseCC0         License = "CC0_1_0"
	LicenseCCBy        License = "CC_BY_4_0"
	LicenseCCByNC      License = "CC_BY_NC_4_0"
	LicenseUnspecified License = "UNSPECIFIED"
	LicenseUnsupported License = "UNSUPPORTED"
)

var licenseURLs = map[License]string{
	LicenseCC0:    "creativecommons.org/publicdomain/zero/1.0/legalcode",
	LicenseCCBy:   "creativecommons.org/licenses/by/4.0/legalcode",
	LicenseCCByNC: "creativecommons.org/licenses/by-nc/4.0/legalcode",
}

// ParseLicense accepts an enum name or a licence URL. Empty input is
// UNSPECIFIED; anything unrecognised is UNSUPPORTED.
func ParseLicense(s string) License {
	s = strings.TrimSpace(s)
	if s == "" {
		return LicenseUnspecified
	}

	switch l := License(strings.ToUpper(s)); l {
	case LicenseCC0, LicenseCCBy, LicenseCCByNC, LicenseUnspecified, LicenseUnsupported:
		return l
	}

	normalized := strings.ToLower(s)
	normalized = strings.TrimPrefix(normalized, "https://")
	normalized = strings.TrimPrefix(normalized, "http://")
	normalized = strings.TrimSuffix(normalized, "/")
	for l, url := range licenseURLs {
		if normalized == url || normalized == strings.TrimSuffix(url, "/legalcode") {
			return l
		}
	}
	return LicenseUnsupported
}

func (l License) MarshalJSON() ([]byte, error) {
	if l == "" {
		l = LicenseUnspecified
	}
	return json.Marshal(string(l))
}

func (l *License) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = LicenseUnspecified
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("license must be a string: %w", err)
	}
	*l = ParseLicense(s)
	return nil
}
