package recipient

import (
	"context"

	"github.com/JimiYounger/connect-sub001/internal/model"
)

const (
	ReasonMissingPhone = "missing phone number"
	ReasonOptedOut     = "opted out"
)

// CheckOrder picks which reason wins when a recipient has no phone and is
// also opted out. Exactly one reason is ever attached.
type CheckOrder int

const (
	PhoneFirst CheckOrder = iota
	OptOutFirst
)

type InvalidRecipient struct {
	Recipient model.Recipient `json:"recipient"`
	Reason    string          `json:"reason"`
}

type Validator struct {
	resolver *Resolver
	order    CheckOrder
}

func NewValidator(r *Resolver, order CheckOrder) *Validator {
	return &Validator{resolver: r, order: order}
}

// ValidateRecipients partitions recs into sendable and unsendable. Every
// input lands in exactly one of the two results, in input order.
func (v *Validator) ValidateRecipients(ctx context.Context, recs []model.Recipient) ([]model.Recipient, []InvalidRecipient) {
	valid := make([]model.Recipient, 0, len(recs))
	var invalid []InvalidRecipient
	if len(recs) == 0 {
		return valid, invalid
	}

	optedOut := v.resolver.OptedOutSet(ctx)
	for _, rec := range recs {
		_, out := optedOut[rec.ID]
		if reason := Reason(v.order, rec.HasPhone(), out); reason != "" {
			invalid = append(invalid, InvalidRecipient{Recipient: rec, Reason: reason})
			continue
		}
		valid = append(valid, rec)
	}
	return valid, invalid
}

// Reason returns the first failing check under order, or "" if the
// recipient is sendable.
func Reason(order CheckOrder, hasPhone, optedOut bool) string {
	switch order {
	case OptOutFirst:
		if optedOut {
			return ReasonOptedOut
		}
		if !hasPhone {
			return ReasonMissingPhone
		}
	default:
		if !hasPhone {
			return ReasonMissingPhone
		}
		if optedOut {
			return ReasonOptedOut
		}
	}
	return ""
}
