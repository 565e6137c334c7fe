package auth

import "strings"

// Preference is the tri-state theme setting stored on the profile
type Preference string

const (
	PreferenceLight  Preference = "light"
	PreferenceDark   Preference = "dark"
	PreferenceSystem Preference = "system"
)

// Valid reports whether p is one of the three known values
func (p Preference) Valid() bool {
	switch p {
	case PreferenceLight, PreferenceDark, PreferenceSystem:
		return true
	}
	return false
}

// ParsePreference normalizes s, returning false for unknown values
func ParsePreference(s string) (Preference, bool) {
	p := Preference(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Valid()
}

// PlatformPreference reports the ambient light or dark setting of the device
type PlatformPreference func() Preference

// ResolvePreference maps p to a concrete light or dark value. It has no side
// effects; a nil or misbehaving platform resolves to light.
func ResolvePreference(p Preference, platform PlatformPreference) Preference {
	switch p {
	case PreferenceLight, PreferenceDark:
		return p
	}
	if platform != nil {
		if ambient := platform(); ambient == PreferenceDark {
			return PreferenceDark
		}
	}
	return PreferenceLight
}
