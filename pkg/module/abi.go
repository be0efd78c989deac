package module

// ABIVersion 标识宿主与插件之间的接口版本，插件必须导出同值的 ABIVersion 变量。
const ABIVersion = "modhost/module/v1"

const (
	// FactorySymbol 是插件导出的工厂函数名，签名为 func() *Module。
	FactorySymbol = "Create"
	// ABISymbol 是插件导出的接口版本变量名，类型为 string。
	ABISymbol = "ABIVersion"
)

// Factory 是插件工厂函数的类型。
type Factory = func() *Module
