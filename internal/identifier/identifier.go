package identifier

import (
	"fmt"
	"regexp"
	"strings"

	"device-registry-backend/internal/errs"
	"device-registry-backend/internal/model"
)

const imeiLength = 15

var (
	separatorRe = regexp.MustCompile(`[\s\-./_:]+`)
	imeiRe      = regexp.MustCompile(`^[0-9]{15}$`)
	serialRe    = regexp.MustCompile(`^[A-Z0-9]{4,32}$`)
)

// Normalize canonicalizes a raw identifier of the given kind.
// Inputs that normalize to the same value denote the same device identifier.
func Normalize(raw string, kind model.IdentifierKind) (string, error) {
	s := separatorRe.ReplaceAllString(strings.TrimSpace(raw), "")

	switch kind {
	case model.KindIMEI:
		if !imeiRe.MatchString(s) {
			return "", fmt.Errorf("%w: imei must be %d digits, got %q", errs.ErrInvalidIdentifier, imeiLength, raw)
		}
		return s, nil
	case model.KindSerial:
		s = strings.ToUpper(s)
		if !serialRe.MatchString(s) {
			return "", fmt.Errorf("%w: serial must be 4-32 letters or digits, got %q", errs.ErrInvalidIdentifier, raw)
		}
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown identifier kind %q", errs.ErrInvalidIdentifier, kind)
	}
}

// Detect normalizes an identifier of unknown kind. Fifteen digits are read as an IMEI,
// anything else as a serial number.
func Detect(raw string) (string, model.IdentifierKind, error) {
	if v, err := Normalize(raw, model.KindIMEI); err == nil {
		return v, model.KindIMEI, nil
	}
	v, err := Normalize(raw, model.KindSerial)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q is neither an imei nor a serial number", errs.ErrInvalidIdentifier, raw)
	}
	return v, model.KindSerial, nil
}
