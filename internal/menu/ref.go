package menu

import (
	"fmt"
	"strconv"
	"strings"
)

// Size codes used across the menu catalogs and every graded item list.
const (
	SizeNone   = 0
	SizeSmall  = 1
	SizeMedium = 2
	SizeLarge  = 3
)

// Ref builds the canonical "<item_id>_<size_code>" menu reference. All
// item naming in prompts, grades and analytics uses this form.
func Ref(itemID string, sizeCode int) string {
	return fmt.Sprintf("%s_%d", itemID, sizeCode)
}

// ParseRef splits a canonical reference into (item_id, size_code).
// Item ids may themselves contain underscores, so the split happens at
// the last one.
func ParseRef(ref string) (string, int, error) {
	i := strings.LastIndex(ref, "_")
	if i <= 0 || i == len(ref)-1 {
		return "", 0, fmt.Errorf("malformed menu reference %q", ref)
	}
	size, err := strconv.Atoi(ref[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed size code in %q", ref)
	}
	if size < SizeNone || size > SizeLarge {
		return "", 0, fmt.Errorf("size code %d out of range in %q", size, ref)
	}
	return ref[:i], size, nil
}
