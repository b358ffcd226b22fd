// Package reconcile decides, per field group, whether the stored customer
// profile or the per-session override is authoritative.
package reconcile

import (
	"strings"

	"github.com/kbook/checkout/internal/domain"
)

// Source tags which side of a group is authoritative.
type Source string

const (
	SourceProfile  Source = "profile"
	SourceOverride Source = "override"
)

// Selection is the projection of a group at one instant. Profile is only
// meaningful when Source is SourceProfile, Override only when it is SourceOverride.
type Selection[P, O any] struct {
	Source           Source
	Profile          P
	Override         O
	Editable         bool
	HasUsableProfile bool
}

// Group holds one profile/override pair. It is not safe for concurrent use;
// the owning checkout serialises access.
type Group[P, O any] struct {
	profile     *P
	override    O
	useOverride bool

	usable  func(P) bool
	seed    func(P) O
	isBlank func(O) bool
}

// NewGroup builds a group. usable decides whether a profile can be used as is,
// seed copies a profile into a fresh override and isBlank detects an untouched override.
func NewGroup[P, O any](usable func(P) bool, seed func(P) O, isBlank func(O) bool) *Group[P, O] {
	return &Group[P, O]{usable: usable, seed: seed, isBlank: isBlank}
}

// SetProfile replaces the stored profile. The override is left alone.
func (g *Group[P, O]) SetProfile(p *P) {
	if p == nil {
		g.profile = nil
		return
	}
	cp := *p
	g.profile = &cp
}

// HasUsableProfile reports whether a profile exists and passes the usability check.
func (g *Group[P, O]) HasUsableProfile() bool {
	return g.profile != nil && (g.usable == nil || g.usable(*g.profile))
}

// UseOverride toggles the override. Switching on while the override is blank
// seeds it from the profile so the user edits from a sensible start.
func (g *Group[P, O]) UseOverride(on bool) {
	if on && !g.useOverride && g.profile != nil && g.seed != nil && (g.isBlank == nil || g.isBlank(g.override)) {
		g.override = g.seed(*g.profile)
	}
	g.useOverride = on
}

// SetOverride replaces the override values.
func (g *Group[P, O]) SetOverride(o O) {
	g.override = o
}

// Override returns the current override values regardless of the selection.
func (g *Group[P, O]) Override() O {
	return g.override
}

// UsingOverride reports whether the override is authoritative, which is forced
// when no usable profile exists.
func (g *Group[P, O]) UsingOverride() bool {
	return g.useOverride || !g.HasUsableProfile()
}

// Selection computes the projection from the current state. It is never cached,
// so a profile refresh is visible immediately.
func (g *Group[P, O]) Selection() Selection[P, O] {
	usable := g.HasUsableProfile()
	sel := Selection[P, O]{
		Editable:         g.useOverride || !usable,
		HasUsableProfile: usable,
	}
	if g.UsingOverride() {
		sel.Source = SourceOverride
		sel.Override = g.override
		return sel
	}
	sel.Source = SourceProfile
	sel.Profile = *g.profile
	return sel
}

// Discard drops the override and returns to profile mode.
func (g *Group[P, O]) Discard() {
	var zero O
	g.override = zero
	g.useOverride = false
}

// Reconciler bundles the shipping and payment groups of one checkout.
type Reconciler struct {
	Shipping *Group[domain.Address, domain.Address]
	Payment  *Group[domain.PaymentProfile, domain.PaymentOverride]
}

// New builds a reconciler seeded with the given profiles, either of which may be nil.
func New(shipping *domain.Address, payment *domain.PaymentProfile) *Reconciler {
	r := &Reconciler{
		Shipping: NewGroup(
			func(a domain.Address) bool { return a.Complete() },
			func(a domain.Address) domain.Address { return a.Normalised() },
			func(a domain.Address) bool { return a.IsZero() },
		),
		Payment: NewGroup(
			func(p domain.PaymentProfile) bool { return p.Complete() },
			func(p domain.PaymentProfile) domain.PaymentOverride {
				return domain.PaymentOverride{HolderName: strings.TrimSpace(p.CardHolderName)}
			},
			func(p domain.PaymentOverride) bool { return p.IsZero() },
		),
	}
	r.SetProfiles(shipping, payment)
	return r
}

// SetProfiles replaces both profiles.
func (r *Reconciler) SetProfiles(shipping *domain.Address, payment *domain.PaymentProfile) {
	r.Shipping.SetProfile(shipping)
	r.Payment.SetProfile(payment)
}

// EffectiveAddress returns the authoritative shipping values, trimmed.
func (r *Reconciler) EffectiveAddress() domain.Address {
	sel := r.Shipping.Selection()
	if sel.Source == SourceOverride {
		return sel.Override.Normalised()
	}
	return sel.Profile.Normalised()
}

// Discard drops both overrides.
func (r *Reconciler) Discard() {
	r.Shipping.Discard()
	r.Payment.Discard()
}
