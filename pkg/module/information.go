package module

import (
	"strings"

	"github.com/cockroachdb/errors"
)

var errEmptyName = errors.New("module: name is empty")

// Information 表示模块身份：名称与版本。既用于模块自身标识，也用于声明依赖。
type Information struct {
	name    string
	version Version
}

// NewInformation 使用默认版本 0.1.0 创建模块身份。
func NewInformation(name string) Information {
	return Information{name: name, version: DefaultVersion}
}

// WithVersion 返回替换了版本的副本。
func (i Information) WithVersion(v Version) Information {
	i.version = v
	return i
}

// ParseInformation 解析 "name" 或 "name major.minor.patch"。
func ParseInformation(raw string) (Information, error) {
	parts := strings.Fields(raw)
	switch len(parts) {
	case 1:
		return NewInformation(parts[0]), nil
	case 2:
		v, err := ParseVersion(parts[1])
		if err != nil {
			return Information{}, err
		}
		return NewInformation(parts[0]).WithVersion(v), nil
	case 0:
		return Information{}, errEmptyName
	default:
		return Information{}, errors.Newf("module: invalid information %q", raw)
	}
}

// Name 返回模块名称。
func (i Information) Name() string { return i.name }

// Version 返回模块版本。
func (i Information) Version() Version { return i.version }

// Validate 校验名称非空。
func (i Information) Validate() error {
	if strings.TrimSpace(i.name) == "" {
		return errEmptyName
	}
	return nil
}

// Key 返回依赖匹配所用的规范字符串。
func (i Information) Key() string {
	return i.String()
}

// Equal 判断两者是否指向同一依赖目标：规范字符串 "name version" 相同。
func (i Information) Equal(o Information) bool {
	return i.Key() == o.Key()
}

// String 返回 "name version"。
func (i Information) String() string {
	return i.name + " " + i.version.String()
}
