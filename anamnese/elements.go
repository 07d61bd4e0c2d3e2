package anamnese

import "strings"

// The five elements used to classify documents, exercises and a user's
// profile affinity.
const (
	ElementWood  = "wood"
	ElementFire  = "fire"
	ElementEarth = "earth"
	ElementMetal = "metal"
	ElementWater = "water"
)

// Elements lists the valid element keys in cycle order. The order doubles as
// the stable tiebreak when intake scores are equal.
var Elements = []string{ElementWood, ElementFire, ElementEarth, ElementMetal, ElementWater}

// generation cycle: each element generates the next one.
var generates = map[string]string{
	ElementWood:  ElementFire,
	ElementFire:  ElementEarth,
	ElementEarth: ElementMetal,
	ElementMetal: ElementWater,
	ElementWater: ElementWood,
}

// SecondaryOf returns the element the given primary generates, used for the
// smaller secondary ranking boost. Unknown input yields "".
func SecondaryOf(primary string) string {
	return generates[Normalize(primary)]
}

// Normalize lowercases and validates an element key, returning "" when the
// value is not one of the five elements.
func Normalize(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if _, ok := generates[normalized]; ok {
		return normalized
	}
	return ""
}
