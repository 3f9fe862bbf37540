//go:build !linux

package resolver

// DefaultLookup shells out to lsof.
func DefaultLookup() (Lookup, error) {
	return LsofLookup{}, nil
}
