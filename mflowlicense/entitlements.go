package mflowlicense

import (
	"github.com/mflowhq/mflow-license-sdk/mflowlicense/licensestore"
)

// Limits holds the feature entitlements of a plan. A value of 0 means
// unlimited.
type Limits struct {
	MaxTabs  int // 0 = unlimited
	MaxSlots int // 0 = unlimited
}

// planLimits is the fixed entitlement table. Unknown plans fall back to
// the BASIC limits so a corrupted or forged plan name fails closed.
var planLimits = map[licensestore.Plan]Limits{
	licensestore.PlanBasic:   {MaxTabs: 1, MaxSlots: 20},
	licensestore.PlanPro:     {MaxTabs: 3, MaxSlots: 20},
	licensestore.PlanDiamond: {MaxTabs: 5, MaxSlots: 20},
	licensestore.PlanMaster:  {MaxTabs: 0, MaxSlots: 0},
}

// PlanLimits returns the entitlement limits for a plan. Unknown plans map
// to the most restrictive limits rather than erroring.
func PlanLimits(plan licensestore.Plan) Limits {
	if limits, ok := planLimits[plan]; ok {
		return limits
	}
	return planLimits[licensestore.PlanBasic]
}

// WithinTabLimit reports whether one more tab may be opened given the
// current count.
func (l Limits) WithinTabLimit(currentTabs int) bool {
	return l.MaxTabs <= 0 || currentTabs < l.MaxTabs
}

// WithinSlotLimit reports whether one more slot may be filled given the
// current count.
func (l Limits) WithinSlotLimit(currentSlots int) bool {
	return l.MaxSlots <= 0 || currentSlots < l.MaxSlots
}
