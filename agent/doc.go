// Package agent provides ready-made core.Agent implementations: ModelAgent
// backed by a model.Model, FuncAgent wrapping a plain function (handy for
// tests and programmatic workflows), and a Factory that builds ModelAgents
// from declarative agent specs.
package agent
