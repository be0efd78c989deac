package module

// Handle 是模块在管理器存储区中的位置与代数。
type Handle struct {
	Index      int
	Generation uint64
}

// Resolver 将 Handle 解析为仍然存活的模块。
type Resolver interface {
	Resolve(h Handle) (*Module, bool)
}

// Ref 是对依赖模块的非拥有引用。存储区释放后解析结果为空。
type Ref struct {
	resolver Resolver
	handle   Handle
}

// NewRef 创建依赖引用。
func NewRef(r Resolver, h Handle) Ref {
	return Ref{resolver: r, handle: h}
}

// Handle 返回引用的句柄。
func (r Ref) Handle() Handle {
	return r.handle
}

// Resolve 返回被引用的模块。
func (r Ref) Resolve() (*Module, bool) {
	if r.resolver == nil {
		return nil, false
	}
	return r.resolver.Resolve(r.handle)
}
