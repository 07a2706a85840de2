package geigersim

import _ "embed"

// DefaultScenarioLuaScript contains the embedded scenario.lua demo run by
// "geigersim simulate" when no script is given.
//
//go:embed examples/scenario.lua
var DefaultScenarioLuaScript string
