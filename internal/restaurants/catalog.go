package restaurants

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/k3a/html2text"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// IdentityStrategy selects how a restaurant's identity key is derived.
// A deployment runs exactly one strategy.
type IdentityStrategy string

const (
	// IdentityProvider keys restaurants by the place-search provider's place id.
	IdentityProvider IdentityStrategy = "provider"
	// IdentityContentHash keys restaurants by a hash of normalized name and address.
	IdentityContentHash IdentityStrategy = "content_hash"
)

const categorySeparator = ">"

// ParseIdentityStrategy validates a configured strategy name.
func ParseIdentityStrategy(value string) (IdentityStrategy, error) {
	switch IdentityStrategy(strings.ToLower(strings.TrimSpace(value))) {
	case IdentityProvider, "":
		return IdentityProvider, nil
	case IdentityContentHash:
		return IdentityContentHash, nil
	default:
		return "", fmt.Errorf("restaurants: unknown identity strategy %q", value)
	}
}

// identityKey derives the key of a candidate under the strategy.
func (s IdentityStrategy) identityKey(candidate Candidate) (string, error) {
	switch s {
	case IdentityContentHash:
		name := normalizeForHash(cleanName(candidate.Name))
		address := normalizeForHash(candidate.Address)
		if address == "" {
			address = normalizeForHash(candidate.RoadAddress)
		}
		if name == "" || address == "" {
			return "", fmt.Errorf("%w: name and address are required", ErrInvalidCandidate)
		}
		sum := sha256.Sum256([]byte(name + "\n" + address))
		return hex.EncodeToString(sum[:]), nil
	default:
		placeID := strings.TrimSpace(candidate.ProviderPlaceID)
		if placeID == "" {
			return "", fmt.Errorf("%w: provider place id is required", ErrInvalidCandidate)
		}
		return placeID, nil
	}
}

// leafCategory keeps the most specific segment of "음식점 > 한식 > 육류,고기".
func leafCategory(raw string) string {
	segments := strings.Split(raw, categorySeparator)
	for i := len(segments) - 1; i >= 0; i-- {
		if segment := strings.TrimSpace(segments[i]); segment != "" {
			return segment
		}
	}
	return ""
}

// cleanName strips the markup some providers put around matched terms.
func cleanName(raw string) string {
	if !strings.ContainsAny(raw, "<&") {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(html2text.HTML2Text(raw))
}

func normalizeForHash(raw string) string {
	folded := cases.Fold().String(norm.NFKC.String(raw))
	return strings.Join(strings.Fields(folded), " ")
}

// newRestaurant builds the row to insert for a candidate. Latitude and longitude are
// taken from the same point that is stored in the location column.
func newRestaurant(identityKey string, candidate Candidate, coordinate Coordinate) Restaurant {
	location := coordinate.Point()
	return Restaurant{
		IdentityKey:     identityKey,
		ProviderPlaceID: strings.TrimSpace(candidate.ProviderPlaceID),
		Name:            cleanName(candidate.Name),
		Category:        leafCategory(candidate.Category),
		Address:         strings.TrimSpace(candidate.Address),
		RoadAddress:     strings.TrimSpace(candidate.RoadAddress),
		Phone:           strings.TrimSpace(candidate.Phone),
		PlaceURL:        strings.TrimSpace(candidate.PlaceURL),
		Latitude:        location.Lat,
		Longitude:       location.Lng,
		Location:        location,
	}
}
