package types

import "time"

type MembershipStatus string

const (
	MembershipStatusActive    MembershipStatus = "active"
	MembershipStatusCancelled MembershipStatus = "cancelled"
	MembershipStatusEnding    MembershipStatus = "ending"
	MembershipStatusInactive  MembershipStatus = "inactive"
)

type FormStatus string

const (
	FormStatusPending   FormStatus = "pending"
	FormStatusActive    FormStatus = "active"
	FormStatusCancelled FormStatus = "cancelled"
	FormStatusEnding    FormStatus = "ending"
	FormStatusInactive  FormStatus = "inactive"
)

// FormStatusOf mirrors a membership status onto its application form.
func FormStatusOf(s MembershipStatus) FormStatus {
	switch s {
	case MembershipStatusActive:
		return FormStatusActive
	case MembershipStatusCancelled:
		return FormStatusCancelled
	case MembershipStatusEnding:
		return FormStatusEnding
	default:
		return FormStatusInactive
	}
}

type BillingCycle string

const (
	BillingCycleMonthly    BillingCycle = "monthly"
	BillingCycleQuarterly  BillingCycle = "quarterly"
	BillingCycleSemiAnnual BillingCycle = "semiAnnual"
	BillingCycleYearly     BillingCycle = "yearly"
)

// Months returns the period length, or 0 for an unknown cycle.
func (c BillingCycle) Months() int {
	switch c {
	case BillingCycleMonthly:
		return 1
	case BillingCycleQuarterly:
		return 3
	case BillingCycleSemiAnnual:
		return 6
	case BillingCycleYearly:
		return 12
	}
	return 0
}

func (c BillingCycle) Valid() bool { return c.Months() > 0 }

// AddPeriods advances t by n billing periods using calendar months.
func (c BillingCycle) AddPeriods(t time.Time, n int) time.Time {
	return t.AddDate(0, c.Months()*n, 0)
}

type UserMembershipStatus string

const (
	UserMembershipStatusActive  UserMembershipStatus = "active"
	UserMembershipStatusRevoked UserMembershipStatus = "revoked"
)

type AccessCardKind string

const (
	AccessCardKindPhysical AccessCardKind = "physical"
	AccessCardKindMobile   AccessCardKind = "mobile"
)

type MembershipChangeReason string

const (
	MembershipChangeReasonSubscribe    MembershipChangeReason = "subscribe"
	MembershipChangeReasonUpgrade      MembershipChangeReason = "upgrade"
	MembershipChangeReasonDowngrade    MembershipChangeReason = "downgrade"
	MembershipChangeReasonCancel       MembershipChangeReason = "cancel"
	MembershipChangeReasonExpireCancel MembershipChangeReason = "expire_cancel"
	MembershipChangeReasonResubscribe  MembershipChangeReason = "resubscribe"
	MembershipChangeReasonRenew        MembershipChangeReason = "renew"
	MembershipChangeReasonLapse        MembershipChangeReason = "lapse"
	MembershipChangeReasonExpire       MembershipChangeReason = "expire"
)

type ChargeStatus string

const (
	ChargeStatusSucceeded ChargeStatus = "succeeded"
	ChargeStatusFailed    ChargeStatus = "failed"
)

// Role levels. Level 3 is a regular paying member; level 4 additionally carries door access.
const (
	RoleLevelGuest      = 1
	RoleLevelOriented   = 2
	RoleLevelMember     = 3
	RoleLevelAdminPlans = 4
)

const WorkshopTypeOrientation = "orientation"
