package service

// maxMaskedPrefix bounds how much of a credential may appear in any
// diagnostic surface.
const maxMaskedPrefix = 7

// Mask returns a short leading fragment of value followed by "...".
// At most seven characters and at most half of value are revealed,
// counted in runes so the fragment stays valid UTF-8.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	runes := []rune(value)
	n := min(len(runes)/2, maxMaskedPrefix)
	return string(runes[:n]) + "..."
}
