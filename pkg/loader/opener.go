package loader

import "plugin"

// Library 是已打开的动态库，按名称查找导出符号。
type Library interface {
	Lookup(symbol string) (any, error)
}

// Opener 打开平台动态库。
type Opener interface {
	Open(path string) (Library, error)
}

// OpenerFunc 将普通函数适配为 Opener。
type OpenerFunc func(path string) (Library, error)

// Open 调用 f。
func (f OpenerFunc) Open(path string) (Library, error) {
	return f(path)
}

// Suffix 是可加载模块文件的扩展名。
const Suffix = ".so"

type pluginOpener struct{}

// PluginOpener 返回基于标准库 plugin 包的 Opener。
func PluginOpener() Opener {
	return pluginOpener{}
}

func (pluginOpener) Open(path string) (Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return pluginLibrary{p: p}, nil
}

type pluginLibrary struct {
	p *plugin.Plugin
}

func (l pluginLibrary) Lookup(symbol string) (any, error) {
	s, err := l.p.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	return s, nil
}
