// Package shipping decides delivery charges for storefront orders.
package shipping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

type Zone string

const (
	ZoneInside  Zone = "inside_zone"
	ZoneOutside Zone = "outside_zone"
)

// Delivery charges in whole currency units.
const (
	InsideZoneCharge  = 60
	OutsideZoneCharge = 120
)

// BundleThreshold drives the "eligible for free delivery" badge shown while
// picking bundle products. Evaluate does not consult it.
const BundleThreshold = 65.0

type Reason string

const (
	ReasonProductFlag    Reason = "product_flag"
	ReasonBundleForced   Reason = "bundle_forced"
	ReasonBundleSelected Reason = "bundle_selected"
	ReasonCartItemFlag   Reason = "cart_item_flag"
	ReasonZoneRate       Reason = "zone_rate"
)

var ErrUnknownZone = errors.New("unknown delivery zone")

var chargeTable = map[Zone]int{
	ZoneInside:  InsideZoneCharge,
	ZoneOutside: OutsideZoneCharge,
}

// ParseZone accepts the wire names case-insensitively.
func ParseZone(s string) (Zone, error) {
	z := Zone(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := chargeTable[z]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownZone, s)
	}
	return z, nil
}

// Charge looks up the delivery charge of a zone.
func Charge(z Zone) (int, error) {
	c, ok := chargeTable[z]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownZone, string(z))
	}
	return c, nil
}

type Input struct {
	ProductFreeShipping bool
	// ForceFreeShipping is set when checkout was opened from the bundle
	// call-to-action.
	ForceFreeShipping bool
	BundleCount       int
	Zone              Zone
}

type Decision struct {
	Free   bool   `json:"free"`
	Charge int    `json:"delivery_charge"`
	Reason Reason `json:"reason"`
	Zone   Zone   `json:"zone,omitempty"`
}

// Evaluate applies the single-product checkout rules in priority order:
//  1. the product's own free-shipping flag
//  2. forced free shipping with at least one bundle product
//  3. any bundle product selected
//  4. the zone rate
//
// Rule 2 can never change the outcome of rule 3; it only changes the
// reported reason. The zone is only required when rule 4 applies.
func Evaluate(in Input) (Decision, error) {
	switch {
	case in.ProductFreeShipping:
		return Decision{Free: true, Reason: ReasonProductFlag, Zone: in.Zone}, nil
	case in.ForceFreeShipping && in.BundleCount > 0:
		return Decision{Free: true, Reason: ReasonBundleForced, Zone: in.Zone}, nil
	case in.BundleCount > 0:
		return Decision{Free: true, Reason: ReasonBundleSelected, Zone: in.Zone}, nil
	}
	return zoneRate(in.Zone)
}

// EvaluateCart applies the multi-item cart rule: any free-shipping item
// makes the whole delivery free.
func EvaluateCart(items []models.CartItem, zone Zone) (Decision, error) {
	for _, it := range items {
		if it.IsFreeShipping {
			return Decision{Free: true, Reason: ReasonCartItemFlag, Zone: zone}, nil
		}
	}
	return zoneRate(zone)
}

// ThresholdEligible reports whether the selected bundle products reach the
// preview threshold.
func ThresholdEligible(bundleTotal float64) bool {
	return bundleTotal >= BundleThreshold
}

func zoneRate(z Zone) (Decision, error) {
	c, err := Charge(z)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Charge: c, Reason: ReasonZoneRate, Zone: z}, nil
}
