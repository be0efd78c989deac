package module

import (
	"math"
	"strconv"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"
)

var errInvalidVersion = errors.New("module: invalid version")

// DefaultVersion 是未显式指定版本时使用的版本 0.1.0。
var DefaultVersion = NewVersion(0, 1, 0)

// Version 表示模块的语义化版本，构造后不可变。
type Version struct {
	major uint32
	minor uint32
	patch uint32
}

// NewVersion 创建版本。
func NewVersion(major, minor, patch uint32) Version {
	return Version{major: major, minor: minor, patch: patch}
}

// ParseVersion 解析严格的 "major.minor.patch" 格式，不接受预发布与构建元数据。
func ParseVersion(raw string) (Version, error) {
	v, err := semver.StrictNewVersion(raw)
	if err != nil {
		return Version{}, errors.Wrapf(errInvalidVersion, "%q: %v", raw, err)
	}
	if v.Prerelease() != "" || v.Metadata() != "" {
		return Version{}, errors.Wrapf(errInvalidVersion, "%q: suffix not allowed", raw)
	}
	if v.Major() > math.MaxUint32 || v.Minor() > math.MaxUint32 || v.Patch() > math.MaxUint32 {
		return Version{}, errors.Wrapf(errInvalidVersion, "%q: component out of range", raw)
	}
	return NewVersion(uint32(v.Major()), uint32(v.Minor()), uint32(v.Patch())), nil
}

// Major 返回主版本号。
func (v Version) Major() uint32 { return v.major }

// Minor 返回次版本号。
func (v Version) Minor() uint32 { return v.minor }

// Patch 返回修订号。
func (v Version) Patch() uint32 { return v.patch }

// Compare 按分量比较，v 小于、等于、大于 o 时分别返回 -1、0、1。
func (v Version) Compare(o Version) int {
	switch {
	case v.major != o.major:
		return cmpUint(v.major, o.major)
	case v.minor != o.minor:
		return cmpUint(v.minor, o.minor)
	default:
		return cmpUint(v.patch, o.patch)
	}
}

// Less 判断 v 是否小于 o。
func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

// Equal 判断两个版本是否相同。
func (v Version) Equal(o Version) bool {
	return v == o
}

// String 返回 "major.minor.patch"。
func (v Version) String() string {
	return strconv.FormatUint(uint64(v.major), 10) + "." +
		strconv.FormatUint(uint64(v.minor), 10) + "." +
		strconv.FormatUint(uint64(v.patch), 10)
}

func cmpUint(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
