package privacy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
)

// DefaultPrecision keeps 5 decimal digits, roughly 1.1 m at the equator.
const DefaultPrecision = 5

var ErrEmptySalt = errors.New("privacy salt must not be empty")

// Anonymizer pseudonymizes identifiers with a process-wide secret salt.
type Anonymizer struct {
	salt []byte
}

// NewAnonymizer creates an anonymizer keyed by salt.
func NewAnonymizer(salt string) (*Anonymizer, error) {
	if salt == "" {
		return nil, ErrEmptySalt
	}
	return &Anonymizer{salt: []byte(salt)}, nil
}

// HashIdentifier returns the hex HMAC-SHA256 digest of raw, or nil if raw is empty.
func (a *Anonymizer) HashIdentifier(raw string) *string {
	if raw == "" {
		return nil
	}
	mac := hmac.New(sha256.New, a.salt)
	mac.Write([]byte(raw))
	digest := hex.EncodeToString(mac.Sum(nil))
	return &digest
}

// TruncateCoordinates rounds lat/lon to precision decimal digits.
func TruncateCoordinates(lat, lon float64, precision int) (float64, float64) {
	return roundTo(lat, precision), roundTo(lon, precision)
}

func roundTo(v float64, precision int) float64 {
	if precision < 0 {
		precision = 0
	}
	scale := math.Pow(10, float64(precision))
	return math.Round(v*scale) / scale
}
