package server

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version is the sockethub server version.
const Version = "5.0.0-alpha.4"

// APIVersion is the admin API version.
const APIVersion = "v1"

// versionConstraint accepts clients of the same major version.
var versionConstraint *semver.Constraints

func init() {
	v := semver.MustParse(Version)
	var err error
	versionConstraint, err = semver.NewConstraint(fmt.Sprintf("^%d.0.0-0", v.Major()))
	if err != nil {
		panic(err)
	}
}

// IsVersionCompatible reports whether a client of the given version can talk
// to this server. Invalid version strings are incompatible.
func IsVersionCompatible(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return versionConstraint.Check(v)
}
